package satellite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ardnew/duckbridge/link"
	"github.com/ardnew/duckbridge/packet"
	"github.com/ardnew/duckbridge/pkg"
)

// BlockSize is the size of one forwarded block.
const BlockSize = packet.PayloadSize

// Default bridge timing.
const (
	DefaultTimeout      = 100 * time.Millisecond
	DefaultPollInterval = 10 * time.Millisecond
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Timeout      time.Duration // request send and response wait per block (default DefaultTimeout)
	PollInterval time.Duration // longest wait for a keystroke frame per Poll (default DefaultPollInterval)

	// USBTask, if set, is called once per Run iteration to service the
	// USB device stack.
	USBTask func(ctx context.Context)
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Bridge forwards USB block requests to the controller and delivers the
// controller's keystrokes to the keyboard. Block operations and polls
// are mutually exclusive; at most one transaction is outstanding.
type Bridge struct {
	slave    link.Slave
	sig      link.Signal
	kb       *Keyboard
	config   BridgeConfig
	counters pkg.Counters
	log      *slog.Logger

	mutex sync.Mutex

	// abandoned counts, per LBA, read requests that reached the link but
	// whose response never arrived in time. The controller still answers
	// them, in order, and those answers must not satisfy a later read.
	abandoned map[uint32]int
}

// New creates a bridge on the slave end of a link.
func New(slave link.Slave, sig link.Signal, sink ReportSink, config BridgeConfig) *Bridge {
	return &Bridge{
		slave:     slave,
		sig:       sig,
		kb:        NewKeyboard(sink),
		config:    config.withDefaults(),
		log:       pkg.Logger(pkg.ComponentSatellite),
		abandoned: make(map[uint32]int),
	}
}

// Counters returns the bridge's counters.
func (b *Bridge) Counters() *pkg.Counters {
	return &b.counters
}

// OnBlockRead fills buf with consecutive blocks starting at lba, one
// exchange per block. A block the controller does not answer with a valid
// response fails the whole read with [pkg.ErrLinkFailure]; the count of
// bytes filled so far is returned with it.
func (b *Bridge) OnBlockRead(ctx context.Context, lba uint32, buf []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	n := 0
	for n < len(buf) {
		block := lba + uint32(n/BlockSize)
		if err := b.request(ctx, packet.NewBlockRead(block)); err != nil {
			b.counters.RecordTransfer(err)
			return n, fmt.Errorf("%w: read request %d: %w", pkg.ErrLinkFailure, block, err)
		}
		resp, err := b.await(ctx, block)
		b.counters.RecordTransfer(err)
		if err != nil {
			b.log.Warn("block read failed", "lba", block, "error", err)
			return n, fmt.Errorf("%w: read %d: %w", pkg.ErrLinkFailure, block, err)
		}
		n += copy(buf[n:], resp.Payload[:])
	}
	return n, nil
}

// OnBlockWrite forwards data as consecutive blocks starting at lba. Writes
// are not acknowledged; link failures are counted and the whole write is
// reported accepted.
func (b *Bridge) OnBlockWrite(ctx context.Context, lba uint32, data []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for n := 0; n < len(data); n += BlockSize {
		block := lba + uint32(n/BlockSize)
		err := b.request(ctx, packet.NewBlockWrite(block, data[n:]))
		b.counters.RecordTransfer(err)
		if err != nil {
			b.log.Warn("block write lost", "lba", block, "error", err)
		}
	}
	return len(data), nil
}

// Poll waits up to the poll interval for one unprompted frame from the
// controller and delivers it. An idle link is not an error.
func (b *Bridge) Poll(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var frame [packet.Size]byte
	pctx, cancel := context.WithTimeout(ctx, b.config.PollInterval)
	err := b.slave.Receive(pctx, frame[:])
	cancel()
	if errors.Is(err, pkg.ErrTimeout) {
		return nil
	}
	if err != nil {
		return err
	}

	var p packet.Packet
	if err := packet.Parse(frame[:], &p); err != nil {
		b.counters.RecordTransfer(err)
		b.log.Debug("frame dropped", "error", err)
		return nil
	}
	if b.stale(&p) || !b.deliver(ctx, &p) {
		b.counters.DiscardedRequests.Add(1)
		b.log.Debug("unexpected frame", "packet", &p)
	}
	return nil
}

// Run services the USB stack and polls the link until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("bridge running")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.config.USBTask != nil {
			b.config.USBTask(ctx)
		}
		if err := b.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, pkg.ErrClosed) {
				return err
			}
			b.log.Warn("poll failed", "error", err)
		}
	}
}

// request queues p for the controller, then raises attention.
func (b *Bridge) request(ctx context.Context, p *packet.Packet) error {
	frame := p.Encode()
	tctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()
	if err := b.slave.Transmit(tctx, frame[:]); err != nil {
		return err
	}
	return b.sig.Pulse()
}

// await receives frames until the BlockRead response for lba arrives.
// Keystrokes received meanwhile are delivered in order; anything else,
// including late answers to abandoned reads, is discarded. The wait is
// bounded by the bridge timeout. A wait that ends without any response
// leaves the request abandoned.
func (b *Bridge) await(ctx context.Context, lba uint32) (*packet.Packet, error) {
	tctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	var frame [packet.Size]byte
	p := new(packet.Packet)
	for {
		if err := b.slave.Receive(tctx, frame[:]); err != nil {
			b.abandoned[lba]++
			return nil, err
		}
		if err := packet.Parse(frame[:], p); err != nil {
			return nil, err
		}
		if b.stale(p) {
			b.counters.DiscardedRequests.Add(1)
			b.log.Debug("late response discarded", "packet", p)
			continue
		}
		if p.Kind == packet.KindBlockRead && p.Address == lba {
			return p, nil
		}
		if !b.deliver(ctx, p) {
			b.counters.DiscardedRequests.Add(1)
			b.log.Debug("unexpected frame while awaiting block", "lba", lba, "packet", p)
		}
	}
}

// stale reports whether p answers an abandoned read, and retires that read.
func (b *Bridge) stale(p *packet.Packet) bool {
	if p.Kind != packet.KindBlockRead || b.abandoned[p.Address] == 0 {
		return false
	}
	if b.abandoned[p.Address]--; b.abandoned[p.Address] == 0 {
		delete(b.abandoned, p.Address)
	}
	return true
}

// deliver hands a keystroke to the keyboard. It reports false for any
// other kind.
func (b *Bridge) deliver(ctx context.Context, p *packet.Packet) bool {
	var err error
	switch cmd := p.Command().(type) {
	case packet.KeyPress:
		err = b.kb.Press(ctx, cmd.Code)
	case packet.KeyRelease:
		err = b.kb.Release(ctx)
	default:
		return false
	}
	if err != nil {
		b.counters.LostKeystrokes.Add(1)
		b.log.Debug("keystroke not reported", "packet", p, "error", err)
	}
	return true
}
