package satellite

import (
	"context"

	"github.com/ardnew/duckbridge/pkg"
)

// Modifier bits for the first report byte.
const (
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// HID keyboard usages.
const (
	KeyA          = 0x04
	Key1          = 0x1E
	Key0          = 0x27
	KeyEnter      = 0x28
	KeyEscape     = 0x29
	KeyBackspace  = 0x2A
	KeyTab        = 0x2B
	KeySpace      = 0x2C
	KeyMinus      = 0x2D
	KeyEqual      = 0x2E
	KeyLeftBrace  = 0x2F
	KeyRightBrace = 0x30
	KeyBackslash  = 0x31
	KeySemicolon  = 0x33
	KeyQuote      = 0x34
	KeyGrave      = 0x35
	KeyComma      = 0x36
	KeyDot        = 0x37
	KeySlash      = 0x38
)

// KeyboardReportSize is the size of a keyboard report in bytes.
const KeyboardReportSize = 8

// KeyboardReport is an 8-byte boot keyboard input report.
type KeyboardReport struct {
	Modifiers uint8    // Modifier key state
	Reserved  uint8    // Reserved (always 0)
	Keys      [6]uint8 // Up to 6 simultaneous key codes
}

// MarshalTo writes the keyboard report to buf.
func (r *KeyboardReport) MarshalTo(buf []byte) int {
	if len(buf) < KeyboardReportSize {
		return 0
	}
	buf[0] = r.Modifiers
	buf[1] = r.Reserved
	copy(buf[2:KeyboardReportSize], r.Keys[:])
	return KeyboardReportSize
}

// Clear resets the keyboard report to all keys released.
func (r *KeyboardReport) Clear() {
	*r = KeyboardReport{}
}

// SetKey sets a key in the key array.
// Returns false if no slot is available.
func (r *KeyboardReport) SetKey(key uint8) bool {
	for i := range r.Keys {
		if r.Keys[i] == 0 {
			r.Keys[i] = key
			return true
		}
		if r.Keys[i] == key {
			return true
		}
	}
	return false
}

// Empty reports whether no key or modifier is pressed.
func (r *KeyboardReport) Empty() bool {
	return *r == KeyboardReport{}
}

// usShifted maps shifted US-layout symbols to their unshifted key.
var usShifted = map[byte]byte{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	'_': '-', '+': '=', '{': '[', '}': ']', '|': '\\',
	':': ';', '"': '\'', '~': '`', '<': ',', '>': '.', '?': '/',
}

// usUnshifted maps unshifted US-layout symbols to HID usages.
var usUnshifted = map[byte]uint8{
	'\n': KeyEnter, '\r': KeyEnter, '\t': KeyTab, '\b': KeyBackspace,
	0x1B: KeyEscape, ' ': KeySpace,
	'-': KeyMinus, '=': KeyEqual, '[': KeyLeftBrace, ']': KeyRightBrace,
	'\\': KeyBackslash, ';': KeySemicolon, '\'': KeyQuote, '`': KeyGrave,
	',': KeyComma, '.': KeyDot, '/': KeySlash,
}

// Translate maps an ASCII character to a HID usage on a US layout and
// reports whether left shift must be held. Characters with no key return
// usage 0.
func Translate(ch byte) (usage uint8, shift bool) {
	switch {
	case ch >= 'a' && ch <= 'z':
		return KeyA + (ch - 'a'), false
	case ch >= 'A' && ch <= 'Z':
		return KeyA + (ch - 'A'), true
	case ch >= '1' && ch <= '9':
		return Key1 + (ch - '1'), false
	case ch == '0':
		return Key0, false
	}
	if base, ok := usShifted[ch]; ok {
		usage, _ = Translate(base)
		return usage, true
	}
	return usUnshifted[ch], false
}

// ReportSink delivers keyboard reports to the USB host.
type ReportSink interface {
	SendKeyboardReport(ctx context.Context, report *KeyboardReport) error
}

// ReportSinkFunc adapts a function to the ReportSink interface.
type ReportSinkFunc func(ctx context.Context, report *KeyboardReport) error

// SendKeyboardReport calls f(ctx, report).
func (f ReportSinkFunc) SendKeyboardReport(ctx context.Context, report *KeyboardReport) error {
	return f(ctx, report)
}

// Keyboard turns keystroke commands into reports on a sink.
type Keyboard struct {
	sink   ReportSink
	report KeyboardReport
}

// NewKeyboard creates a keyboard reporting to sink.
func NewKeyboard(sink ReportSink) *Keyboard {
	return &Keyboard{sink: sink}
}

// Press reports the key for ch as the only key down. Characters with no
// key on the layout are rejected with [pkg.ErrInvalidParameter].
func (k *Keyboard) Press(ctx context.Context, ch byte) error {
	usage, shift := Translate(ch)
	if usage == 0 {
		return pkg.ErrInvalidParameter
	}
	k.report.Clear()
	if shift {
		k.report.Modifiers = ModLeftShift
	}
	k.report.SetKey(usage)
	return k.sink.SendKeyboardReport(ctx, &k.report)
}

// Release reports every key up.
func (k *Keyboard) Release(ctx context.Context) error {
	k.report.Clear()
	return k.sink.SendKeyboardReport(ctx, &k.report)
}
