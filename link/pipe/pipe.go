// Package pipe implements the link HAL in process memory.
//
// Frames travel over buffered channels whose depth models the hardware
// FIFO on each side of a synchronous serial link. The handshake line is a
// buffered channel of edges. All four endpoints returned by [New] are
// connected to each other:
//
//	bus := pipe.New(pipe.Config{})
//	go satellite(bus.Slave(), bus.Signal())
//	controller(bus.Master(), bus.Line())
package pipe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/duckbridge/link"
	"github.com/ardnew/duckbridge/pkg"
)

// Default queue depths.
const (
	DefaultDepth     = 16 // frames buffered per direction
	DefaultEdgeDepth = 64 // handshake edges buffered before further pulses are lost
)

// Config configures an in-process bus.
type Config struct {
	Depth     int // frames buffered per direction (default DefaultDepth)
	EdgeDepth int // edges buffered on the handshake line (default DefaultEdgeDepth)
}

func (c Config) withDefaults() Config {
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.EdgeDepth <= 0 {
		c.EdgeDepth = DefaultEdgeDepth
	}
	return c
}

// Bus is a connected in-process link and handshake line.
type Bus struct {
	toSlave  chan []byte // master -> satellite
	toMaster chan []byte // satellite -> master
	edges    chan struct{}

	selected atomic.Bool
	selects  atomic.Uint64
	lost     atomic.Uint64

	closeCh   chan struct{}
	closeOnce sync.Once
	edgeOnce  sync.Once
	edgeMutex sync.RWMutex
	edgeDone  bool
}

// New creates a connected bus.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{
		toSlave:  make(chan []byte, cfg.Depth),
		toMaster: make(chan []byte, cfg.Depth),
		edges:    make(chan struct{}, cfg.EdgeDepth),
		closeCh:  make(chan struct{}),
	}
}

// Master returns the controller end of the link.
func (b *Bus) Master() link.Master { return (*master)(b) }

// Slave returns the satellite end of the link.
func (b *Bus) Slave() link.Slave { return (*slave)(b) }

// Line returns the controller end of the handshake line.
func (b *Bus) Line() link.Line { return (*line)(b) }

// Signal returns the satellite end of the handshake line.
func (b *Bus) Signal() link.Signal { return (*signal)(b) }

// Selects returns how many times the master asserted select.
func (b *Bus) Selects() uint64 { return b.selects.Load() }

// LostEdges returns how many pulses were dropped because the edge queue
// was full.
func (b *Bus) LostEdges() uint64 { return b.lost.Load() }

// Close shuts down every endpoint. Blocked transfers return [pkg.ErrClosed].
func (b *Bus) Close() error {
	b.closeOnce.Do(func() { close(b.closeCh) })
	return nil
}

func (b *Bus) send(ctx context.Context, ch chan []byte, p []byte) error {
	frame := make([]byte, len(p))
	copy(frame, p)
	select {
	case ch <- frame:
		return nil
	case <-b.closeCh:
		return pkg.ErrClosed
	case <-ctx.Done():
		return link.ContextError(ctx)
	}
}

func (b *Bus) recv(ctx context.Context, ch chan []byte, p []byte) error {
	select {
	case frame := <-ch:
		if len(frame) < len(p) {
			return pkg.ErrShortPacket
		}
		copy(p, frame)
		return nil
	case <-b.closeCh:
		return pkg.ErrClosed
	case <-ctx.Done():
		return link.ContextError(ctx)
	}
}

type master Bus

func (m *master) Select() error {
	b := (*Bus)(m)
	b.selected.Store(true)
	b.selects.Add(1)
	return nil
}

func (m *master) Deselect() error {
	(*Bus)(m).selected.Store(false)
	return nil
}

func (m *master) Transmit(ctx context.Context, p []byte) error {
	b := (*Bus)(m)
	if !b.selected.Load() {
		return pkg.ErrNotSelected
	}
	return b.send(ctx, b.toSlave, p)
}

func (m *master) Receive(ctx context.Context, p []byte) error {
	b := (*Bus)(m)
	if !b.selected.Load() {
		return pkg.ErrNotSelected
	}
	return b.recv(ctx, b.toMaster, p)
}

func (m *master) Close() error { return (*Bus)(m).Close() }

type slave Bus

func (s *slave) Transmit(ctx context.Context, p []byte) error {
	b := (*Bus)(s)
	return b.send(ctx, b.toMaster, p)
}

func (s *slave) Receive(ctx context.Context, p []byte) error {
	b := (*Bus)(s)
	return b.recv(ctx, b.toSlave, p)
}

func (s *slave) Close() error { return (*Bus)(s).Close() }

type line Bus

func (l *line) Edges() <-chan struct{} { return l.edges }

func (l *line) Close() error {
	b := (*Bus)(l)
	b.edgeOnce.Do(func() {
		b.edgeMutex.Lock()
		b.edgeDone = true
		close(b.edges)
		b.edgeMutex.Unlock()
	})
	return nil
}

type signal Bus

func (s *signal) Pulse() error {
	b := (*Bus)(s)
	b.edgeMutex.RLock()
	defer b.edgeMutex.RUnlock()
	if b.edgeDone {
		return pkg.ErrClosed
	}
	select {
	case b.edges <- struct{}{}:
	default:
		b.lost.Add(1)
	}
	return nil
}

// Compile-time interface checks
var (
	_ link.Master = (*master)(nil)
	_ link.Slave  = (*slave)(nil)
	_ link.Line   = (*line)(nil)
	_ link.Signal = (*signal)(nil)
)
