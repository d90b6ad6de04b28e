package cc1101

import "fmt"

type ErrorKind int

const (
	KindSPI ErrorKind = iota
	KindNotResponding
	KindTimeout
	KindCrcMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindSPI:
		return "spi error"
	case KindNotResponding:
		return "radio not responding"
	case KindTimeout:
		return "timeout"
	case KindCrcMismatch:
		return "crc mismatch"
	default:
		return "unknown radio error"
	}
}

// RadioError is returned by every driver operation. Match with errors.Is against the
// Err* sentinels.
type RadioError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

var (
	ErrSPI           = &RadioError{Kind: KindSPI}
	ErrNotResponding = &RadioError{Kind: KindNotResponding}
	ErrTimeout       = &RadioError{Kind: KindTimeout}
	ErrCrcMismatch   = &RadioError{Kind: KindCrcMismatch}
)

func (e *RadioError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("cc1101 %s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RadioError) Unwrap() error {
	return e.Err
}

func (e *RadioError) Is(target error) bool {
	t, ok := target.(*RadioError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, op string, err error) *RadioError {
	return &RadioError{Kind: kind, Op: op, Err: err}
}
