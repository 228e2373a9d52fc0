// Package packet defines the fixed-size record exchanged between the
// controller and the satellite over the link.
//
// Every packet is exactly [Size] bytes on the wire, little-endian, with no
// padding and no length field:
//
//	offset  size  field
//	0       1     sentinel (always [Sentinel])
//	1       1     kind
//	2       4     address (LBA or keycode, little-endian)
//	6       512   payload
//
// Framing relies entirely on the fixed size. Decoding fails only when the
// buffer is short or the sentinel byte does not match; unknown kinds and
// out-of-range addresses decode successfully and are left for the receiver
// to reject.
//
// The address field means different things for different kinds. Use
// [Packet.Command] to obtain a typed view instead of reading Address
// directly:
//
//	switch cmd := p.Command().(type) {
//	case packet.BlockRead:
//	    serve(cmd.LBA)
//	case packet.KeyPress:
//	    press(cmd.Code)
//	}
package packet
