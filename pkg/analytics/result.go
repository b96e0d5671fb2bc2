package analytics

// Status is the outcome of a write against the analytics store.
type Status int

const (
	// StatusOK means the write was applied.
	StatusOK Status = iota

	// StatusSkipped means the store was unavailable and nothing was written.
	StatusSkipped

	// StatusFailed means the store rejected the write.
	StatusFailed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result replaces swallowed errors on the write path. Producers may ignore
// it; callers that care can inspect it.
type Result struct {
	Status Status
	Err    error
}

// OK returns a successful Result.
func OK() Result { return Result{Status: StatusOK} }

// Skipped returns a Result for a write that was not attempted because the
// store is unavailable.
func Skipped() Result { return Result{Status: StatusSkipped, Err: ErrUnavailable} }

// Failed returns a Result carrying err.
func Failed(err error) Result { return Result{Status: StatusFailed, Err: err} }

// IsOK reports whether the write was applied.
func (r Result) IsOK() bool { return r.Status == StatusOK }

// IsSkipped reports whether the write was skipped.
func (r Result) IsSkipped() bool { return r.Status == StatusSkipped }

// IsFailed reports whether the write failed.
func (r Result) IsFailed() bool { return r.Status == StatusFailed }
