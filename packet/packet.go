package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ardnew/duckbridge/pkg"
)

// Sentinel is the constant first byte of every valid packet.
const Sentinel = 0xBD

// PayloadSize is the size of the payload block in bytes.
const PayloadSize = 512

// HeaderSize is the size of the sentinel, kind and address fields.
const HeaderSize = 6

// Size is the size of an encoded packet in bytes.
const Size = HeaderSize + PayloadSize

// Kind identifies the transaction a packet carries.
type Kind uint8

// Packet kinds.
const (
	KindKeyPress   Kind = 0x01 // Press the key in Address
	KindKeyRelease Kind = 0x02 // Release all keys
	KindBlockRead  Kind = 0x10 // Read block Address; response carries the block
	KindBlockWrite Kind = 0x11 // Write payload to block Address
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindKeyPress:
		return "KeyPress"
	case KindKeyRelease:
		return "KeyRelease"
	case KindBlockRead:
		return "BlockRead"
	case KindBlockWrite:
		return "BlockWrite"
	default:
		return fmt.Sprintf("Kind(0x%02X)", uint8(k))
	}
}

// IsKey reports whether k is a keystroke kind.
func (k Kind) IsKey() bool {
	return k == KindKeyPress || k == KindKeyRelease
}

// IsBlock reports whether k is a block I/O kind.
func (k Kind) IsBlock() bool {
	return k == KindBlockRead || k == KindBlockWrite
}

// Packet is a decoded link record. The fields hold the raw wire values;
// the sentinel is implicit.
type Packet struct {
	Kind    Kind
	Address uint32
	Payload [PayloadSize]byte
}

// NewKeyPress returns a packet pressing the key with the given code.
func NewKeyPress(code uint8) *Packet {
	return &Packet{Kind: KindKeyPress, Address: uint32(code)}
}

// NewKeyRelease returns a packet releasing all keys.
func NewKeyRelease() *Packet {
	return &Packet{Kind: KindKeyRelease}
}

// NewBlockRead returns a read request for block lba.
func NewBlockRead(lba uint32) *Packet {
	return &Packet{Kind: KindBlockRead, Address: lba}
}

// NewBlockWrite returns a write request for block lba. At most
// [PayloadSize] bytes of data are copied; the rest of the payload is zero.
func NewBlockWrite(lba uint32, data []byte) *Packet {
	p := &Packet{Kind: KindBlockWrite, Address: lba}
	copy(p.Payload[:], data)
	return p
}

// MarshalTo writes the packet to buf.
// Returns the number of bytes written ([Size]), or 0 if buf is too small.
func (p *Packet) MarshalTo(buf []byte) int {
	if len(buf) < Size {
		return 0
	}
	buf[0] = Sentinel
	buf[1] = byte(p.Kind)
	binary.LittleEndian.PutUint32(buf[2:6], p.Address)
	copy(buf[HeaderSize:Size], p.Payload[:])
	return Size
}

// Encode returns the wire form of the packet.
func (p *Packet) Encode() [Size]byte {
	var buf [Size]byte
	p.MarshalTo(buf[:])
	return buf
}

// Parse decodes buf into out. It returns [pkg.ErrShortPacket] if buf holds
// fewer than [Size] bytes and [pkg.ErrBadSentinel] if the first byte is not
// [Sentinel]; out is left untouched in both cases. Bytes beyond Size are
// ignored.
func Parse(buf []byte, out *Packet) error {
	if len(buf) < Size {
		return pkg.ErrShortPacket
	}
	if buf[0] != Sentinel {
		return pkg.ErrBadSentinel
	}
	out.Kind = Kind(buf[1])
	out.Address = binary.LittleEndian.Uint32(buf[2:6])
	copy(out.Payload[:], buf[HeaderSize:Size])
	return nil
}

// Decode is the value-returning form of [Parse].
func Decode(buf []byte) (Packet, error) {
	var p Packet
	err := Parse(buf, &p)
	return p, err
}

// Command returns the typed meaning of the packet. A KeyPress whose
// address does not fit a single key code is reported as [Unknown].
func (p *Packet) Command() Command {
	switch p.Kind {
	case KindKeyPress:
		if p.Address > math.MaxUint8 {
			return Unknown{Raw: p.Kind, Address: p.Address}
		}
		return KeyPress{Code: uint8(p.Address)}
	case KindKeyRelease:
		return KeyRelease{}
	case KindBlockRead:
		return BlockRead{LBA: p.Address}
	case KindBlockWrite:
		return BlockWrite{LBA: p.Address, Data: p.Payload[:]}
	default:
		return Unknown{Raw: p.Kind, Address: p.Address}
	}
}

// String returns a short description for logging.
func (p *Packet) String() string {
	return fmt.Sprintf("%s@%d", p.Kind, p.Address)
}
