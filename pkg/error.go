package pkg

import "errors"

// Link and transport errors.
var (
	// ErrTimeout indicates a link transfer did not complete within its deadline.
	ErrTimeout = errors.New("transfer timeout")

	// ErrShortPacket indicates fewer bytes than a full packet were available.
	ErrShortPacket = errors.New("short packet")

	// ErrBadSentinel indicates a packet whose sentinel byte does not match.
	ErrBadSentinel = errors.New("bad packet sentinel")

	// ErrNotSelected indicates a master transfer attempted without asserting select.
	ErrNotSelected = errors.New("link not selected")

	// ErrLinkFailure indicates a satellite exchange that produced no usable response.
	ErrLinkFailure = errors.New("link failure")

	// ErrFraming indicates a link transport message with an unexpected header.
	ErrFraming = errors.New("framing error")

	// ErrClosed indicates the link or worker has been closed.
	ErrClosed = errors.New("closed")
)

// Controller errors.
var (
	// ErrNotRunning indicates the worker is not running.
	ErrNotRunning = errors.New("not running")

	// ErrAlreadyRunning indicates the worker or link is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrStorageUnavailable indicates no backing image is mounted.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// TransferStatus represents the completion status of one link exchange.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Exchange completed
	TransferStatusError                           // Exchange failed
	TransferStatusTimeout                         // A transfer hit its deadline
	TransferStatusInvalid                         // Sentinel mismatch or short frame
	TransferStatusDiscarded                       // Valid packet rejected by the handler
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusInvalid:
		return "invalid"
	case TransferStatusDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// StatusOf classifies err into a transfer status.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrTimeout):
		return TransferStatusTimeout
	case errors.Is(err, ErrBadSentinel), errors.Is(err, ErrShortPacket):
		return TransferStatusInvalid
	default:
		return TransferStatusError
	}
}
