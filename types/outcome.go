package types

import "fmt"

// OutcomeKind is the status byte written back to the host after an
// execution attempt. The set is closed; hosts must treat any other value as
// fatal.
type OutcomeKind uint8

const (
	Success OutcomeKind = iota
	Revert
	Failure
	OutOfInk
	OutOfStack
)

var outcomeNames = [...]string{
	Success:    "success",
	Revert:     "revert",
	Failure:    "failure",
	OutOfInk:   "out of ink",
	OutOfStack: "out of stack",
}

// Valid reports whether k is a member of the status enumeration.
func (k OutcomeKind) Valid() bool {
	return int(k) < len(outcomeNames)
}

func (k OutcomeKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
	return outcomeNames[k]
}

// Outcome is the result of one execution attempt. Exactly one kind is
// produced per attempt. Err is only set for Failure.
type Outcome struct {
	Kind OutcomeKind
	Data []byte
	Err  error
}

func SuccessOutcome(data []byte) Outcome { return Outcome{Kind: Success, Data: data} }
func RevertOutcome(data []byte) Outcome  { return Outcome{Kind: Revert, Data: data} }
func FailureOutcome(err error) Outcome   { return Outcome{Kind: Failure, Err: err} }
func OutOfInkOutcome() Outcome           { return Outcome{Kind: OutOfInk} }
func OutOfStackOutcome() Outcome         { return Outcome{Kind: OutOfStack} }

// IntoData splits the outcome into its status and payload. A failure's
// payload is its formatted error.
func (o Outcome) IntoData() (OutcomeKind, []byte) {
	if o.Kind == Failure {
		if o.Err == nil {
			return Failure, []byte{}
		}
		return Failure, []byte(o.Err.Error())
	}
	if o.Data == nil {
		return o.Kind, []byte{}
	}
	return o.Kind, o.Data
}

func (o Outcome) String() string {
	if o.Kind == Failure && o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return fmt.Sprintf("%s (%d bytes)", o.Kind, len(o.Data))
}
