// Package controller implements the script-driving side of the bridge.
//
// The controller owns the backing image and drives the link as bus
// master. A single [Worker] goroutine multiplexes three event sources:
//
//   - script control (start, stop, pause/resume) from the user
//   - attention edges raised by the satellite on the handshake line
//   - script continuation, one [Runner] step per idle tick
//
// # Architecture
//
// The package is organized in layers, leaves first:
//
//   - [Storage] maps block addresses onto a backing image file
//   - [Transport] owns the link and performs one exchange per call
//   - [Runner] interprets the script one byte per step and emits keystrokes
//   - [Worker] schedules all of the above and owns the [State]
//
// # Scheduling
//
// Each tick waits up to [WorkerConfig.TickInterval] for an event, then
// drains every attention event already queued. Control requests (Stop,
// Start, Pause/Resume) are held in sticky flags outside that queue, so a
// full attention queue never loses them; each tick picks them up. Attention
// events are serviced first, then Stop, then Start, then Pause/Resume. A script step runs only when the
// tick saw no events at all, so a continuous stream of attention edges
// holds the script where it is. The STRING verb types its whole argument
// inside one step and services no attention edges while it does.
//
// # Usage
//
//	bus := pipe.New(pipe.Config{})
//	store, _ := controller.OpenFileStorage("disk.img")
//
//	w := controller.Open(ctx, controller.WorkerConfig{
//	    ScriptPath: "payload.txt",
//	    Storage:    store,
//	    Master:     bus.Master(),
//	    Line:       bus.Line(),
//	})
//	defer w.Close()
//
//	w.Start()
//	fmt.Println(w.State().Phase)
package controller
