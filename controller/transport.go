package controller

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/duckbridge/link"
	"github.com/ardnew/duckbridge/packet"
	"github.com/ardnew/duckbridge/pkg"
)

// Default transport timing.
const (
	DefaultTimeout    = 100 * time.Millisecond
	DefaultTurnaround = 50 * time.Microsecond
)

// TransportConfig configures link timing.
type TransportConfig struct {
	Timeout    time.Duration // per-transfer deadline (default DefaultTimeout)
	Turnaround time.Duration // settle time between request and response (default DefaultTurnaround, <0 disables)
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Turnaround == 0 {
		c.Turnaround = DefaultTurnaround
	}
	return c
}

// Handler serves one satellite request.
// A nil response means the exchange has no response phase.
type Handler interface {
	Serve(req *packet.Packet) *packet.Packet
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *packet.Packet) *packet.Packet

// Serve calls f(req).
func (f HandlerFunc) Serve(req *packet.Packet) *packet.Packet {
	return f(req)
}

// Transport owns the master side of the link. At most one transaction is
// in flight at a time; callers serialize on the transport, not the link.
type Transport struct {
	bus      link.Master
	config   TransportConfig
	counters *pkg.Counters

	mutex sync.Mutex
	rxBuf [packet.Size]byte
	txBuf [packet.Size]byte
}

// NewTransport creates a transport over bus. Outcomes are tallied in
// counters, which may be nil.
func NewTransport(bus link.Master, config TransportConfig, counters *pkg.Counters) *Transport {
	if counters == nil {
		counters = new(pkg.Counters)
	}
	return &Transport{
		bus:      bus,
		config:   config.withDefaults(),
		counters: counters,
	}
}

// Config returns the effective configuration.
func (t *Transport) Config() TransportConfig {
	return t.config
}

// Send transmits p to the satellite without waiting for a reply.
func (t *Transport) Send(ctx context.Context, p *packet.Packet) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	p.MarshalTo(t.txBuf[:])
	return t.transfer(ctx, t.bus.Transmit, t.txBuf[:])
}

// Exchange performs one attention-triggered transaction: it clocks in the
// satellite's pending request, passes it to h, and clocks out h's response
// when there is one. Invalid requests are dropped.
func (t *Transport) Exchange(ctx context.Context, h Handler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if err := t.transfer(ctx, t.bus.Receive, t.rxBuf[:]); err != nil {
		t.counters.RecordTransfer(err)
		pkg.LogDebug(pkg.ComponentLink, "request not received", "error", err)
		return err
	}

	var req packet.Packet
	if err := packet.Parse(t.rxBuf[:], &req); err != nil {
		t.counters.RecordTransfer(err)
		pkg.LogDebug(pkg.ComponentLink, "request dropped", "error", err)
		return err
	}

	resp := h.Serve(&req)
	if resp == nil {
		t.counters.Exchanges.Add(1)
		return nil
	}

	if t.config.Turnaround > 0 {
		time.Sleep(t.config.Turnaround)
	}

	resp.MarshalTo(t.txBuf[:])
	err := t.transfer(ctx, t.bus.Transmit, t.txBuf[:])
	t.counters.RecordTransfer(err)
	if err != nil {
		pkg.LogDebug(pkg.ComponentLink, "response not sent", "kind", resp.Kind, "error", err)
	}
	return err
}

// transfer runs one selected transfer under the per-transfer deadline.
func (t *Transport) transfer(ctx context.Context, fn func(context.Context, []byte) error, buf []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	if err := t.bus.Select(); err != nil {
		return err
	}
	err := fn(ctx, buf)
	if derr := t.bus.Deselect(); err == nil {
		err = derr
	}
	return err
}

// StorageHandler serves block requests from a Storage.
type StorageHandler struct {
	Storage  Storage
	Counters *pkg.Counters
}

// Serve answers BlockRead with the block contents (zeros on any storage
// error) and stores BlockWrite without a response. Other kinds are
// discarded.
func (s StorageHandler) Serve(req *packet.Packet) *packet.Packet {
	switch cmd := req.Command().(type) {
	case packet.BlockRead:
		resp := packet.NewBlockRead(cmd.LBA)
		if err := s.Storage.ReadBlock(cmd.LBA, resp.Payload[:]); err != nil {
			clear(resp.Payload[:])
			pkg.LogWarn(pkg.ComponentStorage, "block read failed", "lba", cmd.LBA, "error", err)
		}
		return resp

	case packet.BlockWrite:
		if err := s.Storage.WriteBlock(cmd.LBA, cmd.Data); err != nil {
			pkg.LogWarn(pkg.ComponentStorage, "block write failed", "lba", cmd.LBA, "error", err)
		}
		return nil

	default:
		if s.Counters != nil {
			s.Counters.DiscardedRequests.Add(1)
		}
		pkg.LogDebug(pkg.ComponentStorage, "request discarded", "kind", req.Kind)
		return nil
	}
}
