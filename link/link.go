package link

import (
	"context"
	"errors"

	"github.com/ardnew/duckbridge/pkg"
)

// Master is the controller's view of the link.
//
// Transfers are only legal between Select and Deselect; implementations
// return [pkg.ErrNotSelected] otherwise. Master does not arbitrate between
// callers: exclusive ownership is the transport's job.
type Master interface {
	// Select asserts the select condition for the following transfers.
	Select() error

	// Deselect releases the select condition.
	Deselect() error

	// Transmit clocks p out to the satellite.
	// Blocks until the whole frame is sent or the context is done.
	Transmit(ctx context.Context, p []byte) error

	// Receive clocks len(p) bytes in from the satellite.
	// Blocks until the whole frame is received or the context is done.
	Receive(ctx context.Context, p []byte) error

	// Close releases the link.
	Close() error
}

// Slave is the satellite's view of the link.
type Slave interface {
	// Transmit queues p for the master to clock in.
	// Blocks until the frame is accepted or the context is done.
	Transmit(ctx context.Context, p []byte) error

	// Receive waits for the master to clock out a frame of len(p) bytes.
	// Blocks until the whole frame is received or the context is done.
	Receive(ctx context.Context, p []byte) error

	// Close releases the link.
	Close() error
}

// Line is the controller side of the handshake line.
type Line interface {
	// Edges delivers one value per rising edge. Edges that arrive faster
	// than they are consumed queue up to an implementation-defined depth.
	Edges() <-chan struct{}

	// Close stops edge delivery and closes the channel.
	Close() error
}

// Signal is the satellite side of the handshake line.
type Signal interface {
	// Pulse drives the line high then low, producing one rising edge.
	Pulse() error
}

// ContextError converts the reason ctx is done into a link error.
// An expired deadline becomes [pkg.ErrTimeout]; cancellation is passed
// through unchanged.
func ContextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return pkg.ErrTimeout
	}
	return err
}
