// Command duckbridge-controller drives a script and serves a disk image to
// a duckbridge satellite over a FIFO link.
//
// Usage:
//
//	duckbridge-controller [options] /path/to/bus-dir
//
// The bus directory is shared with the satellite process.
//
// Options:
//
//	-v                   Enable verbose (debug) logging
//	-json                Use JSON log format
//	-script path         Script to run (default: payload.txt)
//	-image path          Backing disk image (default: disk.img)
//	-seed path           Raw, .gz or .7z seed for a missing image
//	-monitor addr        Serve state over websocket at addr (e.g. :8090)
//	-timeout duration    Per-transfer timeout (default: 100ms)
//	-turnaround duration Delay before a response (default: 50µs)
//	-string-delay dur    Pause per typed character (default: 10ms)
//	-autostart           Start the script immediately
//	-console             Read commands from stdin (default: true)
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardnew/duckbridge/controller"
	"github.com/ardnew/duckbridge/controller/monitor"
	"github.com/ardnew/duckbridge/link/fifo"
	"github.com/ardnew/duckbridge/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentController

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	scriptPath := flag.String("script", "payload.txt", "script to run")
	imagePath := flag.String("image", "disk.img", "backing disk image")
	seedPath := flag.String("seed", "", "raw, .gz or .7z seed for a missing image")
	monitorAddr := flag.String("monitor", "", "serve state over websocket at `addr`")
	timeout := flag.Duration("timeout", controller.DefaultTimeout, "per-transfer timeout")
	turnaround := flag.Duration("turnaround", controller.DefaultTurnaround, "delay before a response")
	stringDelay := flag.Duration("string-delay", controller.DefaultStringDelay, "pause per typed character")
	autostart := flag.Bool("autostart", false, "start the script immediately")
	useConsole := flag.Bool("console", true, "read commands from stdin")
	flag.Parse()

	if flag.NArg() < 1 {
		pkg.LogError(component, "missing bus directory argument",
			"usage", "duckbridge-controller [options] <bus-dir>")
		os.Exit(1)
	}
	busDir := flag.Arg(0)

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	} else if level, ok := pkg.ParseLogLevel(os.Getenv("DUCKBRIDGE_LOG")); ok {
		pkg.SetLogLevel(level)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if _, err := controller.ProvisionImage(*seedPath, *imagePath); err != nil {
		pkg.LogError(component, "failed to provision image", "error", err)
		os.Exit(1)
	}
	store, err := controller.OpenFileStorage(*imagePath)
	if err != nil {
		pkg.LogError(component, "failed to open image", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	master, err := fifo.OpenMaster(busDir)
	if err != nil {
		pkg.LogError(component, "failed to open link", "error", err)
		os.Exit(1)
	}
	defer master.Close()

	line, err := fifo.OpenLine(busDir, 0)
	if err != nil {
		pkg.LogError(component, "failed to open attention line", "error", err)
		os.Exit(1)
	}
	defer line.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	w := controller.Open(ctx, controller.WorkerConfig{
		ScriptPath: *scriptPath,
		Storage:    store,
		Master:     master,
		Line:       line,
		Transport:  controller.TransportConfig{Timeout: *timeout, Turnaround: *turnaround},
		Runner:     controller.RunnerConfig{StringDelay: *stringDelay},
	})
	defer w.Close()

	s := w.State()
	pkg.LogInfo(component, "controller ready",
		"busDir", busDir, "script", *scriptPath, "phase", s.Phase,
		"lines", s.TotalLines, "image", *imagePath, "storage", s.Storage)

	if *monitorAddr != "" {
		srv := serveMonitor(ctx, *monitorAddr, w)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if *autostart {
		w.Start()
	}

	if *useConsole {
		go runConsole(ctx, cancel, w)
	}

	select {
	case <-ctx.Done():
	case <-w.Done():
	}

	if err := store.Sync(); err != nil {
		pkg.LogWarn(component, "image sync failed", "error", err)
	}
	pkg.LogInfo(component, "controller stopped", "counters", w.State().Counters)
}

// serveMonitor starts the websocket state feed on addr.
func serveMonitor(ctx context.Context, addr string, w *controller.Worker) *http.Server {
	hub := monitor.New(w, monitor.Config{})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		pkg.LogInfo(pkg.ComponentMonitor, "monitor listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(pkg.ComponentMonitor, "monitor failed", "error", err)
		}
	}()
	return srv
}

// runConsole reads commands until quit or end of input, then cancels ctx.
func runConsole(ctx context.Context, cancel context.CancelFunc, w *controller.Worker) {
	defer cancel()

	le := newLineEditor()
	defer le.Close()

	for ctx.Err() == nil {
		line, err := le.getLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				pkg.LogWarn(component, "console read failed", "error", err)
			}
			return
		}
		if !console(w, os.Stdout, line) {
			return
		}
	}
}
