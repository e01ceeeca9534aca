package entity

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDisplayRect     = errors.New("display rect has zero size")
	ErrInvalidDistance      = errors.New("distance must be a finite positive number of meters")
	ErrNoPairAwaitingInput  = errors.New("no point pair is awaiting a distance")
	ErrPairAwaitingDistance = errors.New("record a distance for the current pair before placing another point")
	ErrBusy                 = errors.New("another request is already in flight for this session")
	ErrExportFailed         = errors.New("export failed")
	ErrExportCanceled       = errors.New("export canceled")
	ErrSessionNotFound      = errors.New("session not found")
	ErrJobNotFound          = errors.New("export job not found")
	ErrJobCanceled          = errors.New("export job was canceled")
	ErrJobFinished          = errors.New("export job already finished")
	ErrNoExportRunning      = errors.New("no export is running for this session")
	ErrNotConfigured        = errors.New("capability not configured on this server")
)

// GuardError reports an operation that is not valid in the current mode.
// No state was changed.
type GuardError struct {
	Op     string
	Mode   Mode
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s not allowed in %s mode: %s", e.Op, e.Mode, e.Reason)
}

func guard(op string, m Mode, reason string) error {
	return &GuardError{Op: op, Mode: m, Reason: reason}
}

// IsGuard reports whether err is a rejected mode transition or operation.
func IsGuard(err error) bool {
	var ge *GuardError
	return errors.As(err, &ge)
}

// ServiceError wraps a failure of an external collaborator. The operator may
// retry without redoing calibration work.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
