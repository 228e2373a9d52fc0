package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/duckbridge/controller"
	"github.com/ardnew/duckbridge/link/pipe"
)

func openTestWorker(t *testing.T) *controller.Worker {
	t.Helper()
	bus := pipe.New(pipe.Config{})
	w := controller.Open(context.Background(), controller.WorkerConfig{
		Script: strings.NewReader("DELAY 1000\n"),
		Master: bus.Master(),
		Runner: controller.RunnerConfig{StringDelay: -1},
	})
	t.Cleanup(func() {
		w.Close()
		bus.Close()
	})
	return w
}

func TestConsoleCommands(t *testing.T) {
	w := openTestWorker(t)
	var out bytes.Buffer

	tests := []struct {
		line     string
		wantMore bool
		wantOut  string
	}{
		{"help", true, "commands:"},
		{"status", true, "Idle"},
		{"counters", true, "exchanges 0"},
		{"bogus", true, `unknown command "bogus"`},
		{"  QUIT ", false, ""},
		{"exit", false, ""},
	}
	for _, tt := range tests {
		out.Reset()
		if got := console(w, &out, tt.line); got != tt.wantMore {
			t.Errorf("console(%q) = %v, want %v", tt.line, got, tt.wantMore)
		}
		if !strings.Contains(out.String(), tt.wantOut) {
			t.Errorf("console(%q) output = %q, want %q", tt.line, out.String(), tt.wantOut)
		}
	}
}

func TestConsoleStart(t *testing.T) {
	w := openTestWorker(t)

	console(w, &bytes.Buffer{}, "start")
	deadline := time.Now().Add(2 * time.Second)
	for w.State().Phase == controller.PhaseIdle {
		if time.Now().After(deadline) {
			t.Fatal("script did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, controller.State{
		Phase:      controller.PhaseFileError,
		ErrorLine:  3,
		ErrorText:  "media removed",
		TotalLines: 9,
	})
	got := out.String()
	for _, want := range []string{"FileError", "line 0/9", "error at line 3: media removed", "(no image)"} {
		if !strings.Contains(got, want) {
			t.Errorf("printStatus() = %q, missing %q", got, want)
		}
	}
}
