package satellite

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/duckbridge/controller"
	"github.com/ardnew/duckbridge/link/pipe"
	"github.com/ardnew/duckbridge/packet"
	"github.com/ardnew/duckbridge/pkg"
)

// syncLog is a ReportSink safe for use across goroutines.
type syncLog struct {
	mutex   sync.Mutex
	reports []KeyboardReport
}

func (l *syncLog) SendKeyboardReport(_ context.Context, r *KeyboardReport) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.reports = append(l.reports, *r)
	return nil
}

func (l *syncLog) Reports() []KeyboardReport {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]KeyboardReport(nil), l.reports...)
}

func newTestBridge(t *testing.T, busConfig pipe.Config) (*Bridge, *pipe.Bus, *syncLog) {
	t.Helper()
	bus := pipe.New(busConfig)
	t.Cleanup(func() { bus.Close() })
	sink := &syncLog{}
	b := New(bus.Slave(), bus.Signal(), sink, BridgeConfig{Timeout: 50 * time.Millisecond})
	return b, bus, sink
}

// serve runs a controller transport answering attention from store until
// the test ends.
func serve(t *testing.T, bus *pipe.Bus, store controller.Storage) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tr := controller.NewTransport(bus.Master(), controller.TransportConfig{}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		edges := bus.Line().Edges()
		for {
			select {
			case <-ctx.Done():
				return
			case <-edges:
				tr.Exchange(ctx, controller.StorageHandler{Storage: store})
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// respond runs fn once for the next attention edge with the received request.
func respond(t *testing.T, bus *pipe.Bus, fn func(m masterConn, req packet.Packet)) {
	t.Helper()
	go func() {
		<-bus.Line().Edges()
		m := masterConn{bus: bus}
		req, err := packet.Decode(m.receive())
		if err != nil {
			return
		}
		fn(m, req)
	}()
}

type masterConn struct {
	bus *pipe.Bus
}

func (m masterConn) receive() []byte {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, packet.Size)
	master := m.bus.Master()
	master.Select()
	defer master.Deselect()
	if err := master.Receive(ctx, buf); err != nil {
		return nil
	}
	return buf
}

func (m masterConn) send(frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	master := m.bus.Master()
	master.Select()
	defer master.Deselect()
	master.Transmit(ctx, frame)
}

func (m masterConn) sendPacket(p *packet.Packet) {
	frame := p.Encode()
	m.send(frame[:])
}

func TestBridgeBlockRead(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{})

	image := make([]byte, 3*BlockSize)
	for i := range image {
		image[i] = byte(i / BlockSize * 16)
	}
	serve(t, bus, controller.NewMemoryStorage(image))

	buf := make([]byte, 2*BlockSize)
	n, err := b.OnBlockRead(context.Background(), 1, buf)
	if err != nil {
		t.Fatalf("OnBlockRead() error = %v", err)
	}
	if n != len(buf) {
		t.Errorf("OnBlockRead() = %d, want %d", n, len(buf))
	}
	if !bytes.Equal(buf, image[BlockSize:]) {
		t.Error("OnBlockRead() returned wrong blocks")
	}
	if got := b.Counters().Exchanges.Load(); got != 2 {
		t.Errorf("Exchanges = %d, want 2", got)
	}
}

func TestBridgeBlockReadPartial(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{})
	serve(t, bus, controller.NewMemoryStorage(bytes.Repeat([]byte{9}, BlockSize)))

	buf := make([]byte, 100)
	n, err := b.OnBlockRead(context.Background(), 0, buf)
	if err != nil || n != 100 {
		t.Fatalf("OnBlockRead() = %d, %v, want 100, nil", n, err)
	}
	if buf[99] != 9 {
		t.Error("partial read not filled")
	}
}

func TestBridgeBlockReadTimeout(t *testing.T) {
	b, _, _ := newTestBridge(t, pipe.Config{})

	n, err := b.OnBlockRead(context.Background(), 0, make([]byte, BlockSize))
	if !errors.Is(err, pkg.ErrLinkFailure) {
		t.Errorf("OnBlockRead() error = %v, want ErrLinkFailure", err)
	}
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("OnBlockRead() error = %v, should wrap ErrTimeout", err)
	}
	if n != 0 {
		t.Errorf("OnBlockRead() = %d, want 0", n)
	}
	if got := b.Counters().LinkTimeouts.Load(); got != 1 {
		t.Errorf("LinkTimeouts = %d, want 1", got)
	}
}

func TestBridgeReadAfterTimedOutRead(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{Depth: 8})
	ctx := context.Background()

	// No controller yet: the request stays queued on the link.
	if _, err := b.OnBlockRead(ctx, 5, make([]byte, BlockSize)); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("OnBlockRead() error = %v, want ErrTimeout", err)
	}

	store := controller.NewMemoryStorage(bytes.Repeat([]byte{0x11}, 8*BlockSize))
	serve(t, bus, store)

	if _, err := b.OnBlockWrite(ctx, 5, bytes.Repeat([]byte{0x22}, BlockSize)); err != nil {
		t.Fatalf("OnBlockWrite() error = %v", err)
	}
	buf := make([]byte, BlockSize)
	if _, err := b.OnBlockRead(ctx, 5, buf); err != nil {
		t.Fatalf("OnBlockRead() error = %v", err)
	}
	if stored := store.Bytes()[5*BlockSize]; stored != 0x22 {
		t.Fatalf("store holds 0x%02X, want 0x22", stored)
	}
	if buf[0] != 0x22 {
		t.Errorf("read returned 0x%02X after write of 0x22", buf[0])
	}
	if got := b.Counters().DiscardedRequests.Load(); got != 1 {
		t.Errorf("DiscardedRequests = %d, want 1", got)
	}

	// The late answer is retired; the next read takes its own response.
	if _, err := b.OnBlockRead(ctx, 5, buf); err != nil || buf[0] != 0x22 {
		t.Errorf("second OnBlockRead() = 0x%02X, %v", buf[0], err)
	}
}

func TestBridgeBlockReadBadSentinel(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{})
	respond(t, bus, func(m masterConn, req packet.Packet) {
		frame := packet.NewBlockRead(req.Address).Encode()
		frame[0] = 0xAA
		m.send(frame[:])
	})

	_, err := b.OnBlockRead(context.Background(), 5, make([]byte, BlockSize))
	if !errors.Is(err, pkg.ErrLinkFailure) || !errors.Is(err, pkg.ErrBadSentinel) {
		t.Errorf("OnBlockRead() error = %v, want ErrLinkFailure wrapping ErrBadSentinel", err)
	}
	if got := b.Counters().DroppedPackets.Load(); got != 1 {
		t.Errorf("DroppedPackets = %d, want 1", got)
	}
}

func TestBridgeKeystrokesDuringRead(t *testing.T) {
	b, bus, sink := newTestBridge(t, pipe.Config{})
	respond(t, bus, func(m masterConn, req packet.Packet) {
		m.sendPacket(packet.NewKeyPress('x'))
		m.sendPacket(packet.NewBlockWrite(99, nil)) // stray, discarded
		m.sendPacket(packet.NewKeyRelease())
		resp := packet.NewBlockRead(req.Address)
		resp.Payload[0] = 0x77
		m.sendPacket(resp)
	})

	buf := make([]byte, BlockSize)
	if _, err := b.OnBlockRead(context.Background(), 2, buf); err != nil {
		t.Fatalf("OnBlockRead() error = %v", err)
	}
	if buf[0] != 0x77 {
		t.Errorf("buf[0] = 0x%02X, want 0x77", buf[0])
	}

	reports := sink.Reports()
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if reports[0].Keys[0] != KeyA+('x'-'a') || !reports[1].Empty() {
		t.Errorf("reports = %+v", reports)
	}
	if got := b.Counters().DiscardedRequests.Load(); got != 1 {
		t.Errorf("DiscardedRequests = %d, want 1", got)
	}
}

func TestBridgeBlockWrite(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{})
	store := controller.NewMemoryStorage(nil)
	serve(t, bus, store)

	data := append(bytes.Repeat([]byte{1}, BlockSize), bytes.Repeat([]byte{2}, BlockSize)...)
	n, err := b.OnBlockWrite(context.Background(), 4, data)
	if err != nil || n != len(data) {
		t.Fatalf("OnBlockWrite() = %d, %v", n, err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, writes := store.Stats(); writes == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("writes not served")
		}
		time.Sleep(time.Millisecond)
	}
	got := store.Bytes()
	if !bytes.Equal(got[4*BlockSize:], data) {
		t.Error("stored blocks mismatch")
	}
}

func TestBridgeBlockWriteLost(t *testing.T) {
	b, _, _ := newTestBridge(t, pipe.Config{Depth: 1})

	data := make([]byte, 3*BlockSize)
	n, err := b.OnBlockWrite(context.Background(), 0, data)
	if err != nil {
		t.Errorf("OnBlockWrite() error = %v, want nil", err)
	}
	if n != len(data) {
		t.Errorf("OnBlockWrite() = %d, want %d", n, len(data))
	}
	if got := b.Counters().LinkTimeouts.Load(); got != 2 {
		t.Errorf("LinkTimeouts = %d, want 2", got)
	}
}

func TestBridgePoll(t *testing.T) {
	b, bus, sink := newTestBridge(t, pipe.Config{})
	m := masterConn{bus: bus}
	ctx := context.Background()

	// Idle link.
	if err := b.Poll(ctx); err != nil {
		t.Fatalf("Poll() on idle link error = %v", err)
	}

	m.sendPacket(packet.NewKeyPress('A'))
	m.sendPacket(packet.NewKeyRelease())
	bad := packet.NewKeyPress('b').Encode()
	bad[0] = 0
	m.send(bad[:])
	m.sendPacket(packet.NewBlockRead(0))
	m.sendPacket(packet.NewKeyPress(0x01))
	m.sendPacket(&packet.Packet{Kind: packet.KindKeyPress, Address: 0x141}) // not a key code

	for i := 0; i < 6; i++ {
		if err := b.Poll(ctx); err != nil {
			t.Fatalf("Poll() %d error = %v", i, err)
		}
	}

	reports := sink.Reports()
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	if r := reports[0]; r.Modifiers != ModLeftShift || r.Keys[0] != KeyA {
		t.Errorf("press A = %+v", r)
	}
	if !reports[1].Empty() {
		t.Errorf("release = %+v", reports[1])
	}

	c := b.Counters().Snapshot()
	if c.DroppedPackets != 1 {
		t.Errorf("DroppedPackets = %d, want 1", c.DroppedPackets)
	}
	if c.DiscardedRequests != 2 {
		t.Errorf("DiscardedRequests = %d, want 2", c.DiscardedRequests)
	}
	if c.LostKeystrokes != 1 {
		t.Errorf("LostKeystrokes = %d, want 1", c.LostKeystrokes)
	}
}

func TestBridgePollClosed(t *testing.T) {
	b, bus, _ := newTestBridge(t, pipe.Config{})
	bus.Close()
	if err := b.Poll(context.Background()); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("Poll() error = %v, want ErrClosed", err)
	}
	if err := b.Run(context.Background()); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("Run() error = %v, want ErrClosed", err)
	}
}

func TestBridgeRun(t *testing.T) {
	bus := pipe.New(pipe.Config{})
	defer bus.Close()

	var tasks int
	ctx, cancel := context.WithCancel(context.Background())
	b := New(bus.Slave(), bus.Signal(), &syncLog{}, BridgeConfig{
		PollInterval: time.Millisecond,
		USBTask: func(context.Context) {
			tasks++
			if tasks == 3 {
				cancel()
			}
		},
	})

	if err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if tasks != 3 {
		t.Errorf("USBTask called %d times, want 3", tasks)
	}
}

// TestBridgeWithWorker runs the satellite against a live controller worker.
func TestBridgeWithWorker(t *testing.T) {
	bus := pipe.New(pipe.Config{})
	defer bus.Close()

	image := bytes.Repeat([]byte("duck"), BlockSize/4)
	store := controller.NewMemoryStorage(image)
	w := controller.Open(context.Background(), controller.WorkerConfig{
		Script:  strings.NewReader("STRING Hi\n"),
		Storage: store,
		Master:  bus.Master(),
		Line:    bus.Line(),
		Runner:  controller.RunnerConfig{StringDelay: -1},
	})
	defer w.Close()

	sink := &syncLog{}
	b := New(bus.Slave(), bus.Signal(), sink, BridgeConfig{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	disk := NewDisk(context.Background(), b, 4)
	buf := make([]byte, BlockSize)
	if n, err := disk.Read(0, 1, buf); err != nil || n != 1 {
		t.Fatalf("Disk.Read() = %d, %v", n, err)
	}
	if !bytes.Equal(buf, image) {
		t.Error("Disk.Read() contents mismatch")
	}

	if n, err := disk.Write(1, 1, bytes.Repeat([]byte{0xCC}, BlockSize)); err != nil || n != 1 {
		t.Fatalf("Disk.Write() = %d, %v", n, err)
	}

	w.Start()
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.Reports()) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("reports = %+v, want 4", sink.Reports())
		}
		time.Sleep(time.Millisecond)
	}
	reports := sink.Reports()
	if reports[0].Modifiers != ModLeftShift || reports[0].Keys[0] != KeyA+('h'-'a') {
		t.Errorf("first report = %+v, want shifted h", reports[0])
	}
	if reports[2].Modifiers != 0 || reports[2].Keys[0] != KeyA+('i'-'a') {
		t.Errorf("third report = %+v, want i", reports[2])
	}

	for {
		if got := store.Bytes(); len(got) == 2*BlockSize && got[BlockSize] == 0xCC {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write not stored")
		}
		time.Sleep(time.Millisecond)
	}
}
