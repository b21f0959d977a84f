package builder

import (
	"fmt"

	"github.com/dnmd-io/dnmdbuilder/token"
)

// Kind classifies a build failure. Each Kind doubles as a sentinel
// error, so callers can write errors.Is(err, builder.ErrMemberNotImported)
// without caring which operation produced it.
type Kind int

const (
	KindMemberNotImported Kind = iota
	KindDuplicateRID
	KindUnfilledRow
	KindIndexOverflow
	KindInvalidSignature
	KindInvalidCil
)

var kindNames = map[Kind]string{
	KindMemberNotImported: "member not imported",
	KindDuplicateRID:      "duplicate RID",
	KindUnfilledRow:       "unfilled row",
	KindIndexOverflow:     "index overflow",
	KindInvalidSignature:  "invalid signature",
	KindInvalidCil:        "invalid CIL",
}

func (k Kind) Error() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is.
var (
	ErrMemberNotImported error = KindMemberNotImported
	ErrDuplicateRID      error = KindDuplicateRID
	ErrUnfilledRow       error = KindUnfilledRow
	ErrIndexOverflow     error = KindIndexOverflow
	ErrInvalidSignature  error = KindInvalidSignature
	ErrInvalidCil        error = KindInvalidCil
)

// BuildError is the error type every Add* operation and CreateDirectory
// surfaces: the failure kind, the offending token when one was already
// assigned, and a short contextual string naming the member.
type BuildError struct {
	Kind    Kind
	Token   token.Token
	Context string
	Err     error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Context)
	if !e.Token.IsNull() {
		msg = fmt.Sprintf("%s (%s)", msg, e.Token)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is matches a BuildError against its Kind sentinel.
func (e *BuildError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, context string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Context: fmt.Sprintf(context, args...)}
}

func wrapError(kind Kind, err error, context string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Context: fmt.Sprintf(context, args...), Err: err}
}
