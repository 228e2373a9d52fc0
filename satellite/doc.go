// Package satellite implements the USB-facing side of the bridge.
//
// The satellite is a link slave. It presents a keyboard and a block device
// to a USB host, but owns neither keystrokes nor storage: keystrokes are
// pushed to it by the controller, and every block the host reads or writes
// is forwarded to the controller over the link.
//
// # Transactions
//
// A block read or write is initiated by the satellite. It queues the
// request frame, pulses the attention line, and (for reads) waits for the
// controller's response frame. Keystroke frames are unprompted and are
// picked up by [Bridge.Poll]. A keystroke that arrives while a read is
// waiting for its response is delivered to the keyboard immediately.
//
// # Usage
//
//	bus, _ := fifo.OpenSlave(dir)
//	b := satellite.New(bus, bus, sink, satellite.BridgeConfig{})
//	disk := satellite.NewDisk(ctx, b, blocks)
//	go b.Run(ctx)
package satellite
