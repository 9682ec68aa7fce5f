package syscall

import (
	"errors"

	"rvkernel/internal/sbi"
)

var (
	errStdinNotWritable  = errors.New("syscall: stdin is not writable")
	errStdoutNotReadable = errors.New("syscall: stdout/stderr is not readable")
)

// consoleIn is fd 0: the only input primitive the SBI contract exposes
// (spec.md §6 names console_putchar, not a read counterpart, but
// internal/sbi.Firmware extends it with ConsoleGetchar so a stdin fd
// has something to read from). A call that finds nothing pending
// returns (0, nil) rather than blocking, the same "try again"
// contract pipe.ReadEnd.Read uses.
type consoleIn struct{ fw sbi.Firmware }

func (consoleIn) Readable() bool { return true }
func (consoleIn) Writable() bool { return false }

func (c consoleIn) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, ok := c.fw.ConsoleGetchar()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (consoleIn) Write(p []byte) (int, error) { return 0, errStdinNotWritable }
func (consoleIn) Close() error                 { return nil }

// consoleOut backs fds 1 and 2: a write-only adapter over
// console_putchar.
type consoleOut struct{ fw sbi.Firmware }

func (consoleOut) Readable() bool             { return false }
func (consoleOut) Writable() bool             { return true }
func (consoleOut) Read(p []byte) (int, error) { return 0, errStdoutNotReadable }

func (c consoleOut) Write(p []byte) (int, error) {
	for _, b := range p {
		c.fw.ConsolePutchar(b)
	}
	return len(p), nil
}

func (consoleOut) Close() error { return nil }
