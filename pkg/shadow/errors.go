package shadow

import (
	"errors"

	imsg "github.com/matterkit/shadow/pkg/im/message"
)

// ErrorKind classifies an error for retry and cache-recovery policy
// purposes. It is derived either from a sentinel error below or, for
// errors surfaced by the peer, from the IM status code via StatusToKind.
type ErrorKind int

const (
	// KindTransient covers retryable conditions: busy, a network blip, a
	// send failure. Reads and invokes retry these up to their budget.
	KindTransient ErrorKind = iota

	// KindTimeout covers a deadline exceeded while waiting for a response.
	KindTimeout

	// KindProtocol covers schema mismatches, decode failures and
	// wrong-state callbacks — bugs in either peer, not conditions to retry.
	KindProtocol

	// KindRemote covers a status explicitly returned by the node that is
	// none of the above (e.g. unsupported attribute, constraint error).
	KindRemote

	// KindFatal covers invalid arguments from the caller or use of an
	// invalidated Device. Never retried.
	KindFatal
)

// String returns a lower-case name for the kind, used in error messages.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindRemote:
		return "remote"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors classified by Kind below.
var (
	// ErrInvalidated indicates the Device has been invalidated and no
	// longer accepts reads, writes, invokes or delegate installation.
	ErrInvalidated = errors.New("shadow: device invalidated")

	// ErrInvalidArgument indicates a caller-supplied argument (interval,
	// timeout, path) failed validation.
	ErrInvalidArgument = errors.New("shadow: invalid argument")

	// ErrDecodeFailed indicates a DataValue or wire payload could not be
	// decoded.
	ErrDecodeFailed = errors.New("shadow: decode failed")

	// ErrUnexpectedCallback indicates a subscribe-client callback fired in
	// a state the subscription engine's state machine does not expect.
	ErrUnexpectedCallback = errors.New("shadow: unexpected callback")

	// ErrTimedOut indicates a queued operation's deadline passed before it
	// could be issued or completed.
	ErrTimedOut = errors.New("shadow: timed out")

	// ErrCanceled indicates a queued operation was dropped by Invalidate
	// before it ran.
	ErrCanceled = errors.New("shadow: canceled")

	// ErrNoSession indicates a session to the peer could not be acquired.
	ErrNoSession = errors.New("shadow: no session")
)

// Kind classifies err for retry and recovery policy. A RemoteError's Kind
// field takes precedence; otherwise the sentinel errors above are
// recognized via errors.Is, and anything unrecognized defaults to
// KindProtocol so unfamiliar failures are not silently retried forever.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindRemote
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidated), errors.Is(err, ErrInvalidArgument):
		return KindFatal
	case errors.Is(err, ErrDecodeFailed), errors.Is(err, ErrUnexpectedCallback):
		return KindProtocol
	case errors.Is(err, ErrTimedOut):
		return KindTimeout
	case errors.Is(err, ErrCanceled):
		return KindFatal
	case errors.Is(err, ErrNoSession):
		return KindTransient
	default:
		return KindProtocol
	}
}

// RemoteError wraps a status code reported by the peer node, classified
// into an ErrorKind via StatusToKind.
type RemoteError struct {
	Status imsg.Status
	Kind   ErrorKind
}

func (e *RemoteError) Error() string {
	return "shadow: remote status " + e.Status.String()
}

// NewRemoteError builds a RemoteError from a peer-reported status,
// classifying it via StatusToKind.
func NewRemoteError(status imsg.Status) *RemoteError {
	return &RemoteError{Status: status, Kind: StatusToKind(status)}
}

// StatusToKind maps an IM status code to the ErrorKind that governs retry
// and expected-value recovery policy for it, mirroring the bidirectional
// status/error mapping im.ErrorToStatus and im.StatusToError use for the
// engine's own errors.
func StatusToKind(status imsg.Status) ErrorKind {
	switch status {
	case imsg.StatusSuccess:
		return KindRemote
	case imsg.StatusBusy:
		return KindTransient
	case imsg.StatusResourceExhausted:
		return KindTransient
	case imsg.StatusTimeout:
		return KindTimeout
	case imsg.StatusDataVersionMismatch:
		return KindRemote
	case imsg.StatusNeedsTimedInteraction:
		return KindRemote
	case imsg.StatusUnsupportedCluster,
		imsg.StatusUnsupportedAttribute,
		imsg.StatusUnsupportedCommand,
		imsg.StatusUnsupportedAccess,
		imsg.StatusUnsupportedWrite,
		imsg.StatusUnsupportedRead,
		imsg.StatusConstraintError,
		imsg.StatusInvalidAction:
		return KindRemote
	default:
		return KindProtocol
	}
}

// IsRetryable reports whether an operation that failed with err should be
// retried per the kind-specific budgets in the work queue.
func IsRetryable(err error) bool {
	return Kind(err) == KindTransient
}
