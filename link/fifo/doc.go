// Package fifo implements the link HAL using named pipes (FIFOs).
//
// This HAL lets the controller and the satellite run as separate
// processes on one machine. Both sides share a bus directory:
//
//	/tmp/duckbridge/        # Bus directory (shared by both sides)
//	├── mosi                # Frames from controller to satellite
//	├── miso                # Frames from satellite to controller
//	└── attention           # One byte per handshake pulse
//
// Whichever side starts first creates the directory and the FIFOs. Every
// FIFO is opened O_RDWR|O_NONBLOCK so neither side blocks waiting for the
// other to open its end.
//
// # Framing
//
// Each frame travels as a message [type, len_lo, len_hi, data...]. Writes
// are smaller than PIPE_BUF and therefore atomic. A receive that times out
// after part of a frame arrived drains whatever is still buffered, the
// same way deasserting select resets a hardware shift register.
//
// # Usage
//
//	// controller
//	m, _ := fifo.OpenMaster("/tmp/duckbridge")
//	line, _ := fifo.OpenLine("/tmp/duckbridge", 0)
//
//	// satellite
//	s, _ := fifo.OpenSlave("/tmp/duckbridge")
//	s.Pulse()
package fifo
