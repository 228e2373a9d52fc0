package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/duckbridge/link"
	"github.com/ardnew/duckbridge/pkg"
)

// MaxFrameSize is the largest frame the FIFO link carries.
const MaxFrameSize = 1024

// DefaultEdgeDepth is the number of handshake edges buffered by a [Line].
const DefaultEdgeDepth = 64

// Message types for the FIFO protocol (must match on both sides).
const (
	msgFrame = 0x02 // one link frame
)

// Header size for messages.
const headerSize = 3 // type (1) + length (2)

// pollInterval bounds each read attempt so cancellation is noticed.
const pollInterval = 10 * time.Millisecond

// FIFO file names.
const (
	fifoMOSI      = "mosi"
	fifoMISO      = "miso"
	fifoAttention = "attention"
)

// endpoint holds the pair of FIFOs one side of the link uses.
type endpoint struct {
	busDir string

	rx *os.File // frames in
	tx *os.File // frames out

	closeCh   chan struct{}
	closeOnce sync.Once

	rxMutex sync.Mutex
	txMutex sync.Mutex

	// Internal buffers (zero-allocation)
	readBuf  [MaxFrameSize + headerSize]byte
	writeBuf [MaxFrameSize + headerSize]byte
}

// Master implements link.Master over named pipes.
type Master struct {
	endpoint
	selected atomic.Bool
}

// Slave implements link.Slave and link.Signal over named pipes.
type Slave struct {
	endpoint
	attention *os.File
}

// OpenMaster opens the controller end of the link in busDir, creating the
// directory and FIFOs if needed.
func OpenMaster(busDir string) (*Master, error) {
	m := &Master{}
	if err := m.open(busDir, fifoMISO, fifoMOSI); err != nil {
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentLink, "fifo master opened", "busDir", busDir)
	return m, nil
}

// OpenSlave opens the satellite end of the link in busDir, creating the
// directory and FIFOs if needed.
func OpenSlave(busDir string) (*Slave, error) {
	s := &Slave{}
	if err := s.open(busDir, fifoMOSI, fifoMISO); err != nil {
		return nil, err
	}
	var err error
	s.attention, err = openFIFO(busDir, fifoAttention)
	if err != nil {
		s.endpoint.Close()
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentLink, "fifo slave opened", "busDir", busDir)
	return s, nil
}

// Select asserts the select condition.
func (m *Master) Select() error {
	m.selected.Store(true)
	return nil
}

// Deselect releases the select condition.
func (m *Master) Deselect() error {
	m.selected.Store(false)
	return nil
}

// Transmit sends one frame to the satellite.
func (m *Master) Transmit(ctx context.Context, p []byte) error {
	if !m.selected.Load() {
		return pkg.ErrNotSelected
	}
	return m.send(ctx, p)
}

// Receive reads one frame from the satellite.
func (m *Master) Receive(ctx context.Context, p []byte) error {
	if !m.selected.Load() {
		return pkg.ErrNotSelected
	}
	return m.recv(ctx, p)
}

// Transmit sends one frame to the controller.
func (s *Slave) Transmit(ctx context.Context, p []byte) error {
	return s.send(ctx, p)
}

// Receive reads one frame from the controller.
func (s *Slave) Receive(ctx context.Context, p []byte) error {
	return s.recv(ctx, p)
}

// Pulse writes one edge to the attention FIFO.
func (s *Slave) Pulse() error {
	select {
	case <-s.closeCh:
		return pkg.ErrClosed
	default:
	}
	_, err := s.attention.Write([]byte{1})
	return err
}

// Close closes the slave FIFOs.
func (s *Slave) Close() error {
	err := s.endpoint.Close()
	if s.attention != nil {
		s.attention.Close()
	}
	return err
}

// BusDir returns the bus directory path.
func (e *endpoint) BusDir() string {
	return e.busDir
}

func (e *endpoint) open(busDir, rxName, txName string) error {
	e.busDir = busDir
	e.closeCh = make(chan struct{})

	if err := createBus(busDir); err != nil {
		return err
	}

	var err error
	if e.rx, err = openFIFO(busDir, rxName); err != nil {
		return err
	}
	if e.tx, err = openFIFO(busDir, txName); err != nil {
		e.rx.Close()
		return err
	}
	return nil
}

// Close closes both FIFOs. Blocked transfers return [pkg.ErrClosed].
func (e *endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	var errs []error
	if e.rx != nil {
		errs = append(errs, e.rx.Close())
	}
	if e.tx != nil {
		errs = append(errs, e.tx.Close())
	}
	return errors.Join(errs...)
}

// send writes a frame message [msgFrame, len_lo, len_hi, data...].
func (e *endpoint) send(ctx context.Context, p []byte) error {
	if len(p) > MaxFrameSize {
		return pkg.ErrBufferTooSmall
	}

	select {
	case <-ctx.Done():
		return link.ContextError(ctx)
	case <-e.closeCh:
		return pkg.ErrClosed
	default:
	}

	e.txMutex.Lock()
	defer e.txMutex.Unlock()

	buf := e.writeBuf[:]
	buf[0] = msgFrame
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(p)))
	copy(buf[headerSize:], p)
	total := headerSize + len(p)

	if deadline, ok := ctx.Deadline(); ok {
		e.tx.SetWriteDeadline(deadline)
	} else {
		e.tx.SetWriteDeadline(time.Time{})
	}

	written := 0
	for written < total {
		n, err := e.tx.Write(buf[written:total])
		if n > 0 {
			written += n
		}
		if err != nil {
			if os.IsTimeout(err) {
				return pkg.ErrTimeout
			}
			return err
		}
	}
	return nil
}

// recv reads one frame message into p.
func (e *endpoint) recv(ctx context.Context, p []byte) error {
	e.rxMutex.Lock()
	defer e.rxMutex.Unlock()

	header := e.readBuf[:headerSize]
	if err := e.readFull(ctx, header); err != nil {
		return err
	}

	if header[0] != msgFrame {
		pkg.LogWarn(pkg.ComponentLink, "unexpected fifo message", "type", header[0])
		e.drain()
		return pkg.ErrFraming
	}

	length := int(binary.LittleEndian.Uint16(header[1:3]))
	if length > MaxFrameSize {
		e.drain()
		return pkg.ErrFraming
	}

	data := e.readBuf[headerSize : headerSize+length]
	if err := e.readFull(ctx, data); err != nil {
		return err
	}

	if length < len(p) {
		return pkg.ErrShortPacket
	}
	copy(p, data)
	return nil
}

// readFull reads exactly len(buf) bytes with context cancellation support.
// A frame cut short by the deadline is discarded along with anything still
// buffered behind it.
func (e *endpoint) readFull(ctx context.Context, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			if total > 0 {
				e.drain()
			}
			return link.ContextError(ctx)
		case <-e.closeCh:
			return pkg.ErrClosed
		default:
		}

		e.rx.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := e.rx.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			select {
			case <-e.closeCh:
				return pkg.ErrClosed
			default:
			}
			return err
		}
	}
	return nil
}

// drain discards every byte currently buffered in the receive FIFO.
func (e *endpoint) drain() {
	var scratch [MaxFrameSize]byte
	for {
		e.rx.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := e.rx.Read(scratch[:])
		if n == 0 || err != nil {
			return
		}
	}
}

// Line implements link.Line by reading the attention FIFO.
type Line struct {
	f       *os.File
	edges   chan struct{}
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
	lost    atomic.Uint64
}

// OpenLine opens the controller end of the handshake line in busDir and
// starts delivering edges. depth <= 0 selects [DefaultEdgeDepth].
func OpenLine(busDir string, depth int) (*Line, error) {
	if depth <= 0 {
		depth = DefaultEdgeDepth
	}
	if err := createBus(busDir); err != nil {
		return nil, err
	}
	f, err := openFIFO(busDir, fifoAttention)
	if err != nil {
		return nil, err
	}
	l := &Line{
		f:       f,
		edges:   make(chan struct{}, depth),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Edges returns the edge channel. It is closed by [Line.Close].
func (l *Line) Edges() <-chan struct{} {
	return l.edges
}

// LostEdges returns how many pulses were dropped because the edge queue
// was full.
func (l *Line) LostEdges() uint64 {
	return l.lost.Load()
}

// Close stops edge delivery.
func (l *Line) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
	})
	<-l.done
	return l.f.Close()
}

func (l *Line) run() {
	defer close(l.done)
	defer close(l.edges)

	var buf [64]byte
	for {
		select {
		case <-l.closeCh:
			return
		default:
		}

		l.f.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := l.f.Read(buf[:])
		for i := 0; i < n; i++ {
			select {
			case l.edges <- struct{}{}:
			default:
				l.lost.Add(1)
			}
		}
		if err != nil && !os.IsTimeout(err) {
			pkg.LogWarn(pkg.ComponentLink, "attention read failed", "error", err)
			return
		}
	}
}

// Remove deletes the bus directory and its FIFOs.
func Remove(busDir string) error {
	return os.RemoveAll(busDir)
}

// createBus creates the bus directory and any missing FIFO.
func createBus(busDir string) error {
	if err := os.MkdirAll(busDir, 0o755); err != nil {
		return fmt.Errorf("create bus dir: %w", err)
	}
	for _, name := range []string{fifoMOSI, fifoMISO, fifoAttention} {
		path := filepath.Join(busDir, name)
		if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}
	return nil
}

// openFIFO opens a named pipe without blocking on the other side.
func openFIFO(busDir, name string) (*os.File, error) {
	path := filepath.Join(busDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Compile-time interface checks
var (
	_ link.Master = (*Master)(nil)
	_ link.Slave  = (*Slave)(nil)
	_ link.Signal = (*Slave)(nil)
	_ link.Line   = (*Line)(nil)
)
