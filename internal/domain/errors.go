package domain

import "fmt"

// TransientFetchError is returned once the retry budget for a page is exhausted.
type TransientFetchError struct {
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected response from the remote source.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StoreReadError reports an existing durable store that could not be parsed.
type StoreReadError struct {
	Location string
	Err      error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("read store %s: %v", e.Location, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// StoreWriteError reports a failed write; the previous store content is left intact.
type StoreWriteError struct {
	Location string
	Err      error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write store %s: %v", e.Location, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StageError identifies the pipeline stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
