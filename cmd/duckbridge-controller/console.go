package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"

	"github.com/ardnew/duckbridge/controller"
)

const (
	historyFileName = ".duckbridge_history"
	historySize     = 500
	prompt          = "duck> "
)

// lineEditor reads console commands with readline on a terminal and with
// a plain scanner when stdin is piped.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

func newLineEditor() *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            filepath.Join(home, historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
		Prompt:                 prompt,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using basic input\n", err)
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineEditor{rl: rl}
}

// getLine returns the next line, or io.EOF on Ctrl-D, Ctrl-C or end of input.
func (le *lineEditor) getLine() (string, error) {
	if le.rl == nil {
		fmt.Print(prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	line, err := le.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *lineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

const consoleHelp = `commands:
  start     run the script from the top
  stop      abandon the running script
  toggle    stop if running, start otherwise (empty line)
  pause     pause or resume the running script
  status    show the run state
  counters  show link and script counters
  quit      exit
`

// console dispatches one command line to w. It reports false when the
// console should exit.
func console(w *controller.Worker, out io.Writer, line string) bool {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "", "toggle":
		w.Toggle()
	case "start":
		w.Start()
	case "stop":
		w.Stop()
	case "pause", "resume":
		w.PauseResume()
	case "status":
		printStatus(out, w.State())
	case "counters":
		printCounters(out, w.State())
	case "help", "?":
		fmt.Fprint(out, consoleHelp)
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(out, "unknown command %q (try help)\n", cmd)
	}
	return true
}

func printStatus(out io.Writer, s controller.State) {
	fmt.Fprintf(out, "%-12s line %d/%d", s.Phase, s.CurrentLine, s.TotalLines)
	switch s.Phase {
	case controller.PhaseDelay:
		fmt.Fprintf(out, "  delay %v", s.DelayRemaining)
	case controller.PhaseFileError, controller.PhaseScriptError:
		fmt.Fprintf(out, "  error at line %d: %s", s.ErrorLine, s.ErrorText)
	}
	if !s.Storage {
		fmt.Fprint(out, "  (no image)")
	}
	fmt.Fprintln(out)
}

func printCounters(out io.Writer, s controller.State) {
	c := s.Counters
	fmt.Fprintf(out, "exchanges %d  timeouts %d  dropped %d  discarded %d\n",
		c.Exchanges, c.LinkTimeouts, c.DroppedPackets, c.DiscardedRequests)
	fmt.Fprintf(out, "lost keys %d  parse errors %d  unknown lines %d\n",
		c.LostKeystrokes, c.ParseErrors, c.UnknownLines)
}
