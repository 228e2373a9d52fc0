package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/ardnew/duckbridge/pkg"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindKeyPress, "KeyPress"},
		{KindKeyRelease, "KeyRelease"},
		{KindBlockRead, "BlockRead"},
		{KindBlockWrite, "BlockWrite"},
		{Kind(0x7F), "Kind(0x7F)"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestMarshalTo_Layout(t *testing.T) {
	p := NewBlockWrite(0x04030201, []byte{0xAA, 0xBB})

	var buf [Size]byte
	if n := p.MarshalTo(buf[:]); n != Size {
		t.Fatalf("MarshalTo() = %d, want %d", n, Size)
	}

	if buf[0] != Sentinel {
		t.Errorf("sentinel = 0x%02X, want 0x%02X", buf[0], Sentinel)
	}
	if buf[1] != 0x11 {
		t.Errorf("kind = 0x%02X, want 0x11", buf[1])
	}
	if !bytes.Equal(buf[2:6], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("address bytes = % X, want little-endian 01 02 03 04", buf[2:6])
	}
	if buf[6] != 0xAA || buf[7] != 0xBB {
		t.Errorf("payload head = % X, want AA BB", buf[6:8])
	}
	for i := 8; i < Size; i++ {
		if buf[i] != 0 {
			t.Fatalf("payload byte %d = 0x%02X, want zero fill", i-HeaderSize, buf[i])
		}
	}
}

func TestMarshalTo_ShortBuffer(t *testing.T) {
	p := NewKeyRelease()
	buf := make([]byte, Size-1)
	if n := p.MarshalTo(buf); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestParse_ShortBuffer(t *testing.T) {
	for _, n := range []int{0, 1, HeaderSize, Size - 1} {
		buf := make([]byte, n)
		if n > 0 {
			buf[0] = Sentinel
		}
		var p Packet
		if err := Parse(buf, &p); !errors.Is(err, pkg.ErrShortPacket) {
			t.Errorf("Parse(%d bytes) error = %v, want ErrShortPacket", n, err)
		}
	}
}

// Every buffer decodes iff its sentinel matches, and a successful decode
// reproduces the buffer's kind, address and payload bits exactly.
func TestDecode_RandomBuffers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, Size)

	for i := 0; i < 2000; i++ {
		rng.Read(buf)
		if i%2 == 0 {
			buf[0] = Sentinel
		}

		p, err := Decode(buf)
		if buf[0] != Sentinel {
			if !errors.Is(err, pkg.ErrBadSentinel) {
				t.Fatalf("iteration %d: sentinel 0x%02X decoded with err %v", i, buf[0], err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("iteration %d: valid buffer failed: %v", i, err)
		}
		if p.Kind != Kind(buf[1]) {
			t.Fatalf("iteration %d: kind = 0x%02X, want 0x%02X", i, p.Kind, buf[1])
		}
		if p.Address != binary.LittleEndian.Uint32(buf[2:6]) {
			t.Fatalf("iteration %d: address mismatch", i)
		}
		if !bytes.Equal(p.Payload[:], buf[HeaderSize:]) {
			t.Fatalf("iteration %d: payload mismatch", i)
		}

		// Re-encoding reproduces the input byte for byte.
		out := p.Encode()
		if !bytes.Equal(out[:], buf) {
			t.Fatalf("iteration %d: re-encode mismatch", i)
		}
	}
}

func TestParse_EveryWrongSentinel(t *testing.T) {
	buf := make([]byte, Size)
	for s := 0; s < 256; s++ {
		buf[0] = byte(s)
		_, err := Decode(buf)
		if s == Sentinel && err != nil {
			t.Errorf("sentinel 0x%02X rejected: %v", s, err)
		}
		if s != Sentinel && !errors.Is(err, pkg.ErrBadSentinel) {
			t.Errorf("sentinel 0x%02X accepted", s)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	block := bytes.Repeat([]byte{0x5A}, PayloadSize)
	packets := []*Packet{
		NewKeyPress('h'),
		NewKeyRelease(),
		NewBlockRead(7),
		NewBlockWrite(0xFFFFFFFF, block),
		{Kind: Kind(0x42), Address: 99}, // unknown kind survives the codec
	}

	for _, want := range packets {
		t.Run(want.Kind.String(), func(t *testing.T) {
			wire := want.Encode()
			got, err := Decode(wire[:])
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != *want {
				t.Errorf("Decode(Encode(p)) = %v, want %v", &got, want)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, PayloadSize)

	tests := []struct {
		name string
		p    *Packet
		want Command
	}{
		{"press", NewKeyPress('i'), KeyPress{Code: 'i'}},
		{"release", NewKeyRelease(), KeyRelease{}},
		{"read", NewBlockRead(7), BlockRead{LBA: 7}},
		{"unknown", &Packet{Kind: 0x33, Address: 5}, Unknown{Raw: 0x33, Address: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Command(); got != tt.want {
				t.Errorf("Command() = %#v, want %#v", got, tt.want)
			}
			if got := tt.p.Command().Packet(); *got != *tt.p {
				t.Errorf("Command().Packet() = %v, want %v", got, tt.p)
			}
		})
	}

	w, ok := NewBlockWrite(3, data).Command().(BlockWrite)
	if !ok {
		t.Fatal("BlockWrite packet did not yield BlockWrite command")
	}
	if w.LBA != 3 || !bytes.Equal(w.Data, data) {
		t.Errorf("BlockWrite = {%d, %d bytes}, want {3, %d bytes of 0xAA}", w.LBA, len(w.Data), PayloadSize)
	}
}

func TestKeyPress_AddressRange(t *testing.T) {
	tests := []struct {
		address uint32
		want    Command
	}{
		{0x00, KeyPress{Code: 0x00}},
		{0x41, KeyPress{Code: 'A'}},
		{0xFF, KeyPress{Code: 0xFF}},
		{0x100, Unknown{Raw: KindKeyPress, Address: 0x100}},
		{0x141, Unknown{Raw: KindKeyPress, Address: 0x141}},
		{0xFFFFFFFF, Unknown{Raw: KindKeyPress, Address: 0xFFFFFFFF}},
	}
	for _, tt := range tests {
		p := &Packet{Kind: KindKeyPress, Address: tt.address}
		if got := p.Command(); got != tt.want {
			t.Errorf("Command() for address 0x%X = %#v, want %#v", tt.address, got, tt.want)
		}
	}
}
