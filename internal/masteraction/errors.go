package masteraction

import "errors"

// AdmissionFailure reasons, returned synchronously from Initiate.
var (
	ErrAnotherInProgress   = errors.New("another MasterAction is already in progress")
	ErrUnsupportedOperation = errors.New("unsupported operation type")
)

// Cancel outcomes, returned synchronously from RequestCancel.
type CancelStatus string

const (
	CancelPending         CancelStatus = "CancellationPending"
	CancelAlreadyCompleted CancelStatus = "AlreadyCompleted"
	CancelNotFound        CancelStatus = "NotFound"
)
