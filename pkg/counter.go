package pkg

import "sync/atomic"

// Counters tallies conditions the bridge degrades through instead of
// reporting. The zero value is ready to use and safe for concurrent use.
type Counters struct {
	DroppedPackets    atomic.Uint64 // sentinel mismatch or short frame
	LinkTimeouts      atomic.Uint64 // transfer deadline exceeded
	DiscardedRequests atomic.Uint64 // valid packet of a kind the receiver does not serve
	LostKeystrokes    atomic.Uint64 // key packets that could not be sent or reported
	ParseErrors       atomic.Uint64 // malformed script arguments
	UnknownLines      atomic.Uint64 // script lines with no registered verb
	Exchanges         atomic.Uint64 // completed link exchanges
}

// CounterSnapshot is a point-in-time copy of [Counters].
type CounterSnapshot struct {
	DroppedPackets    uint64 `json:"droppedPackets"`
	LinkTimeouts      uint64 `json:"linkTimeouts"`
	DiscardedRequests uint64 `json:"discardedRequests"`
	LostKeystrokes    uint64 `json:"lostKeystrokes"`
	ParseErrors       uint64 `json:"parseErrors"`
	UnknownLines      uint64 `json:"unknownLines"`
	Exchanges         uint64 `json:"exchanges"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		DroppedPackets:    c.DroppedPackets.Load(),
		LinkTimeouts:      c.LinkTimeouts.Load(),
		DiscardedRequests: c.DiscardedRequests.Load(),
		LostKeystrokes:    c.LostKeystrokes.Load(),
		ParseErrors:       c.ParseErrors.Load(),
		UnknownLines:      c.UnknownLines.Load(),
		Exchanges:         c.Exchanges.Load(),
	}
}

// RecordTransfer bumps the counter matching the outcome of a failed
// transfer. Successful transfers count as exchanges.
func (c *Counters) RecordTransfer(err error) {
	switch StatusOf(err) {
	case TransferStatusSuccess:
		c.Exchanges.Add(1)
	case TransferStatusTimeout:
		c.LinkTimeouts.Add(1)
	case TransferStatusInvalid:
		c.DroppedPackets.Add(1)
	}
}
