// Package sbi models the three SBI (Supervisor Binary Interface)
// primitives spec.md §6 names as the core's only consumed firmware
// surface: console_putchar, set_timer, and system_reset. Everything
// else about SBI is out of scope. Real firmware is not available in a
// software simulation, so Firmware is an interface the kernel program
// wires to a concrete implementation (a host console for cmd/kernel,
// a recording fake for tests).
package sbi

import "os"

// Firmware is the consumed SBI surface.
type Firmware interface {
	// ConsolePutchar writes a single byte to the console.
	ConsolePutchar(b byte)
	// ConsoleGetchar reads a single pending byte, or (0, false) if none.
	ConsoleGetchar() (byte, bool)
	// SetTimer arms the next timer interrupt for the given absolute
	// cycle count.
	SetTimer(absoluteCycles uint64)
	// SystemReset halts the machine. resetType/reason follow the SBI
	// SRST extension encoding; the core only ever requests a clean
	// shutdown.
	SystemReset(resetType, reason uint32)
}

const (
	ResetTypeShutdown uint32 = 0
	ResetReasonNoReason uint32 = 0
)

// Host is a Firmware backed by the process's own stdout/stdin, used by
// cmd/kernel when actually driving the simulated machine interactively.
type Host struct {
	in     chan byte
	halted bool
}

// NewHost constructs a Host firmware. Bytes pushed onto Feed become
// available to ConsoleGetchar, standing in for keyboard input since
// there is no real UART in a software simulation.
func NewHost() *Host {
	return &Host{in: make(chan byte, 256)}
}

func (h *Host) ConsolePutchar(b byte) {
	os.Stdout.Write([]byte{b})
}

func (h *Host) ConsoleGetchar() (byte, bool) {
	select {
	case b := <-h.in:
		return b, true
	default:
		return 0, false
	}
}

// Feed makes b available to a subsequent ConsoleGetchar, simulating a
// keystroke arriving at the UART.
func (h *Host) Feed(b byte) {
	h.in <- b
}

func (h *Host) SetTimer(absoluteCycles uint64) {
	// The host firmware has no hardware timer to arm; internal/sched
	// keeps its own virtual clock, advanced by sched.Processor's
	// ArmNextTimer.
}

func (h *Host) SystemReset(resetType, reason uint32) {
	h.halted = true
}

// Halted reports whether SystemReset has been called.
func (h *Host) Halted() bool { return h.halted }
