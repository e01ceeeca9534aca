package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, operatorEmail string, jobID string, videoKey string, errorMsg string) error
}
