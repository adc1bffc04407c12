package host

import "fmt"

// ErrorKind discriminates host-local failures.
type ErrorKind int

const (
	ErrorKindRuntime ErrorKind = iota
	ErrorKindNavigate
	ErrorKindInit
	ErrorKindPersist
	ErrorKindVocabulary
)

// Error is a host-local failure. It is returned to host callers and
// published as EventError; plugins never see it.
type Error struct {
	Kind       ErrorKind
	CardID     string
	BaseCardID string
	Path       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindRuntime:
		return fmt.Sprintf("load runtime for card %s: %v", e.CardID, e.Err)
	case ErrorKindNavigate:
		return fmt.Sprintf("navigate surface for card %s: %v", e.CardID, e.Err)
	case ErrorKindInit:
		return fmt.Sprintf("send init for card %s: %v", e.CardID, e.Err)
	case ErrorKindPersist:
		return fmt.Sprintf("persist config for card %s (base %s) at %q: %v", e.CardID, e.BaseCardID, e.Path, e.Err)
	case ErrorKindVocabulary:
		return fmt.Sprintf("load vocabulary for card %s: %v", e.CardID, e.Err)
	default:
		return fmt.Sprintf("host error for card %s: %v", e.CardID, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
