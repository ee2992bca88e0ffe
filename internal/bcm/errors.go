package bcm

import (
	"errors"
	"fmt"
)

// Error families. Every error returned by this package wraps exactly one of
// them (or is a *TransportError) so callers can classify via errors.Is/As.
var (
	ErrValidation = errors.New("bcm: validation")
	ErrDecode     = errors.New("bcm: decode")
)

// Validation errors, raised before any transport call.
var (
	ErrEmptyFrameSet            = errors.New("empty frame set")
	ErrInvalidInterval          = errors.New("invalid interval")
	ErrTooManyFramesForRTRReply = errors.New("rtr reply needs exactly one frame")
	ErrCountMismatch            = errors.New("frame count mismatch")
	ErrTooManyFrames            = errors.New("too many frames")
)

// Decode errors, fatal to the read that produced them.
var (
	ErrTruncatedMessage   = errors.New("truncated message")
	ErrFrameCountMismatch = errors.New("declared frame count does not match payload")
	ErrUnknownOpcode      = errors.New("unknown opcode")
)

// TransportKind classifies an OS error surfaced by the channel.
type TransportKind int

const (
	SocketError TransportKind = iota
	NotConnected
	InvalidArgument
	WouldBlock
	NoSuchTask
)

func (k TransportKind) String() string {
	switch k {
	case NotConnected:
		return "not_connected"
	case InvalidArgument:
		return "invalid_argument"
	case WouldBlock:
		return "would_block"
	case NoSuchTask:
		return "no_such_task"
	default:
		return "socket_error"
	}
}

// TransportError wraps an error returned by the channel collaborator.
type TransportError struct {
	Op   string // "write" or "read"
	Code Opcode // request opcode for writes, 0 for reads
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("bcm %s %s: %s: %v", e.Op, e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("bcm %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the error is a receive timeout / would-block condition.
func (e *TransportError) Timeout() bool { return e.Kind == WouldBlock }

// IsKind reports whether err is a *TransportError of the given kind.
func IsKind(err error, k TransportKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == k
}

// wrapTransport builds a TransportError, refining EINVAL into NoSuchTask for
// requests that address an existing task (the kernel has no ENOENT here).
func wrapTransport(op string, code Opcode, err error) *TransportError {
	k := kindOf(err)
	if k == InvalidArgument {
		switch code {
		case TX_DELETE, TX_READ, RX_DELETE, RX_READ:
			k = NoSuchTask
		}
	}
	return &TransportError{Op: op, Code: code, Kind: k, Err: err}
}

func validationErr(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrValidation, sentinel, fmt.Sprintf(format, args...))
}

func decodeErr(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrDecode, sentinel, fmt.Sprintf(format, args...))
}
