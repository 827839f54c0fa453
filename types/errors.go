package types

import "fmt"

// ValidationError marks missing or malformed upstream inputs. Fails fast,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransientUpstreamError marks an image synthesis or encode failure.
// Retried once by the shared retry policy, then fatal for the run.
type TransientUpstreamError struct {
	Op  string
	Err error
}

func (e *TransientUpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientUpstreamError) Unwrap() error { return e.Err }

// RemoteJobFailure covers both an explicit remote stitch failure and a
// poll timeout. Triggers the single permitted local fallback.
type RemoteJobFailure struct {
	JobID  string
	Status StitchStatus
	Reason string
}

func (e *RemoteJobFailure) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("remote stitch %s: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("remote stitch job %s %s: %s", e.JobID, e.Status, e.Reason)
}

// LocalAssemblyFailure marks a failed local fallback stitch. Fatal; there
// is no further fallback.
type LocalAssemblyFailure struct {
	Err error
}

func (e *LocalAssemblyFailure) Error() string {
	return fmt.Sprintf("local assembly: %v", e.Err)
}

func (e *LocalAssemblyFailure) Unwrap() error { return e.Err }

// NonCriticalDegradation marks a cosmetic failure (audio mix, enhancement)
// that degrades the artifact but never fails the run.
type NonCriticalDegradation struct {
	Op  string
	Err error
}

func (e *NonCriticalDegradation) Error() string {
	return fmt.Sprintf("%s degraded: %v", e.Op, e.Err)
}

func (e *NonCriticalDegradation) Unwrap() error { return e.Err }
