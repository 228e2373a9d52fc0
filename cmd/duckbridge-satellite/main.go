// Command duckbridge-satellite runs the USB-facing side of a duckbridge
// over a FIFO link.
//
// Without a USB device stack attached, keyboard reports are logged and the
// disk can be exercised with -probe.
//
// Usage:
//
//	duckbridge-satellite [options] /path/to/bus-dir
//
// Options:
//
//	-v                 Enable verbose (debug) logging
//	-json              Use JSON log format
//	-blocks n          Disk capacity in blocks (default: 2048)
//	-timeout duration  Per-block response timeout (default: 100ms)
//	-probe n           Read the first n blocks at startup and log a digest
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cespare/xxhash"

	"github.com/ardnew/duckbridge/link/fifo"
	"github.com/ardnew/duckbridge/pkg"
	"github.com/ardnew/duckbridge/satellite"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentSatellite

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	blocks := flag.Uint64("blocks", 2048, "disk capacity in blocks")
	timeout := flag.Duration("timeout", satellite.DefaultTimeout, "per-block response timeout")
	probe := flag.Uint("probe", 0, "read the first `n` blocks at startup and log a digest")
	flag.Parse()

	if flag.NArg() < 1 {
		pkg.LogError(component, "missing bus directory argument",
			"usage", "duckbridge-satellite [options] <bus-dir>")
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

	slave, err := fifo.OpenSlave(busDir)
	if err != nil {
		pkg.LogError(component, "failed to open link", "error", err)
		os.Exit(1)
	}
	defer slave.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	bridge := satellite.New(slave, slave, satellite.ReportSinkFunc(logReport),
		satellite.BridgeConfig{Timeout: *timeout})
	disk := satellite.NewDisk(ctx, bridge, *blocks)

	pkg.LogInfo(component, "satellite ready", "busDir", busDir, "blocks", disk.BlockCount())

	if *probe > 0 {
		go probeDisk(disk, uint32(*probe))
	}

	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		pkg.LogError(component, "bridge stopped", "error", err)
		os.Exit(1)
	}
	pkg.LogInfo(component, "satellite stopped", "counters", bridge.Counters().Snapshot())
}

// logReport stands in for a USB keyboard endpoint.
func logReport(_ context.Context, r *satellite.KeyboardReport) error {
	if r.Empty() {
		pkg.LogDebug(component, "key release")
		return nil
	}
	pkg.LogInfo(component, "key press", "usage", r.Keys[0], "modifiers", r.Modifiers)
	return nil
}

func probeDisk(disk *satellite.Disk, blocks uint32) {
	start := time.Now()
	buf := make([]byte, int(blocks)*int(disk.BlockSize()))
	n, err := disk.Read(0, blocks, buf)
	if err != nil {
		pkg.LogWarn(component, "probe failed", "blocks", n, "error", err)
		return
	}
	pkg.LogInfo(component, "probe complete", "blocks", n,
		"digest", xxhash.Sum64(buf), "elapsed", time.Since(start))
}
