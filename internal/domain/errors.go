package domain

import "errors"

var (
	ErrValidation     = errors.New("input is empty")
	ErrSubmission     = errors.New("failed to start job")
	ErrPoll           = errors.New("failed to retrieve job status")
	ErrProtocol       = errors.New("unexpected response from generation service")
	ErrJobFailed      = errors.New("generation failed")
	ErrJobCancelled   = errors.New("generation cancelled")
	ErrComposition    = errors.New("failed to compose images")
	ErrNetworkTimeout = errors.New("request timed out")
	ErrNoActiveJob    = errors.New("no ongoing generation")
	ErrInterrupt      = errors.New("failed to interrupt the generation")
	ErrSessionBusy    = errors.New("a generation is already in progress")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNetworkTimeout, "network_timeout"},
	{ErrValidation, "validation_error"},
	{ErrSubmission, "submission_error"},
	{ErrPoll, "poll_error"},
	{ErrProtocol, "protocol_error"},
	{ErrJobFailed, "job_failed"},
	{ErrJobCancelled, "job_cancelled"},
	{ErrComposition, "composition_error"},
	{ErrNoActiveJob, "no_active_job"},
	{ErrInterrupt, "interrupt_error"},
	{ErrSessionBusy, "session_busy"},
}

// ErrorCode maps err onto a stable snake_case code for user-facing surfaces.
// Unknown errors map to "internal".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
