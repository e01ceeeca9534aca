package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host     string
	port     int
	from     string
	fallback string
	logger   *zap.Logger
}

// NewSMTPNotifier sends to fallback when a request carries no operator
// address.
func NewSMTPNotifier(host string, port int, from, fallback string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, fallback: fallback, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, operatorEmail, jobID, videoKey, errorMsg string) error {
	to := operatorEmail
	if to == "" {
		to = n.fallback
	}
	if to == "" {
		n.logger.Warn("no recipient for export failure notice", zap.String("job_id", jobID))
		return nil
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	msg := failureMessage(n.from, to, jobID, videoKey, errorMsg)

	if err := smtp.SendMail(addr, nil, n.from, []string{to}, []byte(msg)); err != nil {
		n.logger.Error("failed to send export failure notice",
			zap.String("to", to),
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("export failure notice sent",
		zap.String("to", to),
		zap.String("job_id", jobID),
	)
	return nil
}

func failureMessage(from, to, jobID, videoKey, errorMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\n", from, to)
	fmt.Fprintf(&b, "Subject: DVA - Annotated export failed [Job %s]\r\n\r\n", jobID)
	b.WriteString("Hello,\r\n\r\n")
	b.WriteString("An annotated export could not be produced after all retry attempts.\r\n\r\n")
	fmt.Fprintf(&b, "Job ID: %s\r\nVideo: %s\r\nError: %s\r\n\r\n", jobID, videoKey, errorMsg)
	b.WriteString("Measurements on the session are kept; start the export again from the player.\r\n\r\n")
	b.WriteString("-- DVA measurement service")
	return b.String()
}
