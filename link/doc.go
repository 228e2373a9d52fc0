// Package link defines the Hardware Abstraction Layer for the synchronous
// byte link and the handshake line joining the controller and the
// satellite.
//
// The controller is the bus master: it asserts select and clocks every
// transfer. The satellite can only ask for attention by pulsing the
// handshake line, after which the master performs exactly one exchange.
//
//	controller                         satellite
//	----------                         ---------
//	Line.Edges()   <-- handshake ---   Signal.Pulse()
//	Master.Receive <---- request ----  Slave.Transmit
//	Master.Transmit ---- response ---> Slave.Receive
//
// Every transfer moves exactly one fixed-size frame and is bounded by the
// caller's context deadline. Implementations return [pkg.ErrTimeout] when
// the deadline expires mid-frame and discard whatever was partially
// received.
//
// Platform vendors implement [Master] and [Line] for the controller and
// [Slave] and [Signal] for the satellite. Two implementations ship with
// the module:
//
//   - [github.com/ardnew/duckbridge/link/pipe]: in-process, for tests and
//     single-process emulation
//   - [github.com/ardnew/duckbridge/link/fifo]: named pipes, for running the
//     two sides as separate processes
package link
