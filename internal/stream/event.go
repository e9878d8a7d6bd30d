package stream

// OutcomeKind is the terminal state of one generation.
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	Aborted
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome ends every stream. Reason and Err are set only for Failed.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Event is one element of a stream: either a decoded fragment or, last, the outcome.
type Event struct {
	Fragment string
	Outcome  *Outcome
}

func completed() Outcome { return Outcome{Kind: Completed} }

func aborted() Outcome { return Outcome{Kind: Aborted, Err: ErrAborted} }

func failed(err *Error) Outcome {
	return Outcome{Kind: Failed, Reason: err.Reason(), Err: err}
}
