package packet

// Command is the typed view of a packet. The concrete type determines what
// the address field means, so consumers never interpret it by convention.
type Command interface {
	// Kind returns the wire kind the command travels as.
	Kind() Kind
	// Packet builds a packet carrying the command.
	Packet() *Packet
}

// KeyPress presses one key. Code is the character code taken from the
// script; the satellite translates it to a HID usage.
type KeyPress struct {
	Code uint8
}

// KeyRelease releases every pressed key.
type KeyRelease struct{}

// BlockRead requests one block.
type BlockRead struct {
	LBA uint32
}

// BlockWrite stores one block. Data aliases the originating packet's
// payload and is always [PayloadSize] bytes.
type BlockWrite struct {
	LBA  uint32
	Data []byte
}

// Unknown is a structurally valid packet whose kind no receiver serves.
type Unknown struct {
	Raw     Kind
	Address uint32
}

func (KeyPress) Kind() Kind   { return KindKeyPress }
func (KeyRelease) Kind() Kind { return KindKeyRelease }
func (BlockRead) Kind() Kind  { return KindBlockRead }
func (BlockWrite) Kind() Kind { return KindBlockWrite }
func (u Unknown) Kind() Kind  { return u.Raw }

func (c KeyPress) Packet() *Packet   { return NewKeyPress(c.Code) }
func (KeyRelease) Packet() *Packet   { return NewKeyRelease() }
func (c BlockRead) Packet() *Packet  { return NewBlockRead(c.LBA) }
func (c BlockWrite) Packet() *Packet { return NewBlockWrite(c.LBA, c.Data) }
func (u Unknown) Packet() *Packet    { return &Packet{Kind: u.Raw, Address: u.Address} }
