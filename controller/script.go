package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ardnew/duckbridge/packet"
	"github.com/ardnew/duckbridge/pkg"
)

// DefaultStringDelay is the pause after each character typed by STRING.
const DefaultStringDelay = 10 * time.Millisecond

// scriptBufferSize is the read-ahead window over the script file.
const scriptBufferSize = 128

// Keyboard accepts keystroke packets. [Transport] satisfies it.
type Keyboard interface {
	Send(ctx context.Context, p *packet.Packet) error
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	StringDelay time.Duration // pause per typed character (default DefaultStringDelay, <0 disables)
	Sleep       Sleeper       // default Sleep
	Counters    *pkg.Counters

	// OnDelay, if set, is called with the requested duration before a
	// DELAY sleep and with zero after it.
	OnDelay func(remaining time.Duration)
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.StringDelay == 0 {
		c.StringDelay = DefaultStringDelay
	}
	if c.Sleep == nil {
		c.Sleep = Sleep
	}
	if c.Counters == nil {
		c.Counters = new(pkg.Counters)
	}
	return c
}

// Verb executes one script command. arg is the text after the first space.
type Verb func(ctx context.Context, r *Runner, arg string) error

// StepResult describes what one Step did.
type StepResult int

// Step results.
const (
	StepByte StepResult = iota // a byte was buffered
	StepLine                   // a line was interpreted
	StepEOF                    // the script is exhausted
)

// String returns the result name.
func (s StepResult) String() string {
	switch s {
	case StepByte:
		return "byte"
	case StepLine:
		return "line"
	case StepEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// ScriptError reports a failure while interpreting a script line.
type ScriptError struct {
	Line int // 1-based
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Runner interprets a script one byte per step. Bytes accumulate into a
// line buffer; a newline interprets the buffered line and clears it.
// A final line without a trailing newline is never interpreted.
type Runner struct {
	script io.ReadSeeker
	reader *bufio.Reader
	kb     Keyboard
	config RunnerConfig
	verbs  map[string]Verb

	line   []byte
	lineNo int   // lines completed
	offset int64 // bytes consumed
}

// NewRunner creates a runner reading script and typing on kb.
// STRING and DELAY are registered.
func NewRunner(script io.ReadSeeker, kb Keyboard, config RunnerConfig) *Runner {
	r := &Runner{
		script: script,
		reader: bufio.NewReaderSize(script, scriptBufferSize),
		kb:     kb,
		config: config.withDefaults(),
		verbs:  make(map[string]Verb),
		line:   make([]byte, 0, scriptBufferSize),
	}
	r.Register("STRING", verbString)
	r.Register("DELAY", verbDelay)
	return r
}

// Register binds name to v, replacing any previous binding.
func (r *Runner) Register(name string, v Verb) {
	r.verbs[name] = v
}

// Reset rewinds the script to its first byte.
func (r *Runner) Reset() error {
	if _, err := r.script.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.reader.Reset(r.script)
	r.line = r.line[:0]
	r.lineNo = 0
	r.offset = 0
	return nil
}

// Line returns the number of lines interpreted since the last Reset.
func (r *Runner) Line() int {
	return r.lineNo
}

// Offset returns the number of bytes consumed since the last Reset.
func (r *Runner) Offset() int64 {
	return r.offset
}

// Counters returns the counters the runner records into.
func (r *Runner) Counters() *pkg.Counters {
	return r.config.Counters
}

// Step consumes one byte. A newline interprets the buffered line, which may
// block for the duration of its verb. Read failures are returned as
// *ScriptError; a done ctx is returned as is.
func (r *Runner) Step(ctx context.Context) (StepResult, error) {
	b, err := r.reader.ReadByte()
	if err == io.EOF {
		return StepEOF, nil
	}
	if err != nil {
		return StepByte, &ScriptError{Line: r.lineNo + 1, Err: err}
	}
	r.offset++

	if b != '\n' {
		r.line = append(r.line, b)
		return StepByte, nil
	}

	line := strings.TrimSuffix(string(r.line), "\r")
	r.line = r.line[:0]
	err = r.interpret(ctx, line)
	r.lineNo++
	return StepLine, err
}

func (r *Runner) interpret(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	verb, ok := r.verbs[name]
	if !ok {
		r.config.Counters.UnknownLines.Add(1)
		pkg.LogDebug(pkg.ComponentScript, "line ignored", "line", r.lineNo+1, "text", line)
		return nil
	}
	return verb(ctx, r, arg)
}

// Type sends a press and release for each byte of s, pausing StringDelay
// after each one. Keystrokes that cannot be sent are counted and skipped.
func (r *Runner) Type(ctx context.Context, s string) error {
	for i := 0; i < len(s); i++ {
		r.key(ctx, packet.NewKeyPress(s[i]))
		r.key(ctx, packet.NewKeyRelease())
		if r.config.StringDelay > 0 {
			if err := r.config.Sleep(ctx, r.config.StringDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delay suspends the runner for d, reporting progress through OnDelay.
func (r *Runner) Delay(ctx context.Context, d time.Duration) error {
	if r.config.OnDelay != nil {
		r.config.OnDelay(d)
		defer r.config.OnDelay(0)
	}
	return r.config.Sleep(ctx, d)
}

func (r *Runner) key(ctx context.Context, p *packet.Packet) {
	if err := r.kb.Send(ctx, p); err != nil {
		r.config.Counters.LostKeystrokes.Add(1)
		pkg.LogDebug(pkg.ComponentScript, "keystroke lost", "packet", p, "error", err)
	}
}

func verbString(ctx context.Context, r *Runner, arg string) error {
	return r.Type(ctx, arg)
}

func verbDelay(ctx context.Context, r *Runner, arg string) error {
	ms, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 32)
	if err != nil {
		r.config.Counters.ParseErrors.Add(1)
		pkg.LogDebug(pkg.ComponentScript, "bad delay", "line", r.lineNo+1, "arg", arg)
		return nil
	}
	return r.Delay(ctx, time.Duration(ms)*time.Millisecond)
}
