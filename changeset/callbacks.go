package changeset

// Phase identifies the pipeline point at which a callback runs.
type Phase int

const (
	// PreValidate callbacks run before the validation pipeline and may stage
	// derived values. A returned error is recorded in the error map under
	// the callback name.
	PreValidate Phase = iota

	// PreCommit callbacks run after validation passes and before any
	// persistence write; they may read and mutate staged state. A returned
	// error aborts the commit with nothing written.
	PreCommit

	// PostCommit callbacks run after the write succeeds. Failures are
	// reported to the caller but never unwind the committed write.
	PostCommit
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PreValidate:
		return "pre_validate"
	case PreCommit:
		return "pre_commit"
	case PostCommit:
		return "post_commit"
	default:
		return "unknown"
	}
}

// Callback is a named hook invoked at a defined pipeline point. Callbacks
// within a phase run in registration order.
type Callback struct {
	Name  string
	Phase Phase
	Fn    func(c *Changeset) error
}
