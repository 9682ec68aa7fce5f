package sched

import (
	"sync"
	"sync/atomic"

	"rvkernel/internal/kconfig"
	"rvkernel/internal/proc"
	"rvkernel/internal/trap"
)

// Timer is the abstraction the processor arms on every timer trap,
// implemented in cmd/kernel by firmwareTimer, an adapter over
// sbi.Firmware.SetTimer.
type Timer interface {
	ArmNext()
}

// RunResult is what a process's one turn at the token produced: it
// either exhausted its slice or voluntarily yielded, was boosted by an
// I/O wake before yielding, or exited outright.
type RunResult struct {
	Yield    bool
	Boost    bool
	Exited   bool
	ExitCode int
}

// RunFunc simulates a process running for one turn — in a real kernel
// this is "resume at the saved PC until the next trap"; here it is
// whatever the caller (cmd/kernel's scheduler loop) wires up to drive
// trap.Handle against the process.
type RunFunc func(pcb *proc.PCB) RunResult

type worker struct {
	turn chan struct{}
	done chan RunResult
}

// Processor is the per-CPU scheduling object (spec.md §4.F): it owns
// the ready queues plus the currently Running PCB, and hands the
// goroutine-token to exactly one registered worker at a time.
type Processor struct {
	mu      sync.Mutex
	sched   *Scheduler
	timer   Timer
	current *proc.PCB
	workers map[proc.PID]*worker
	ticks   int64
}

// NewProcessor returns a processor driving sched and arming timer on
// every timer interrupt.
func NewProcessor(sched *Scheduler, timer Timer) *Processor {
	return &Processor{sched: sched, timer: timer, workers: make(map[proc.PID]*worker)}
}

// Register spawns the goroutine standing in for pcb's kernel thread:
// it blocks on its turn channel until RunOnce hands it the token, runs
// work once, and reports back. Registering is required before a PCB
// can ever be dispatched by RunOnce.
func (p *Processor) Register(pcb *proc.PCB, work RunFunc) {
	w := &worker{turn: make(chan struct{}), done: make(chan RunResult)}
	p.mu.Lock()
	p.workers[pcb.PID()] = w
	p.mu.Unlock()

	go func() {
		for range w.turn {
			res := work(pcb)
			w.done <- res
			if res.Exited {
				return
			}
		}
	}()
}

// Unregister drops the worker bookkeeping for pcb once it has exited
// and been reaped.
func (p *Processor) Unregister(pcb *proc.PCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workers, pcb.PID())
}

// Current returns the PCB presently holding the token, or nil.
func (p *Processor) Current() *proc.PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// RunOnce runs spec.md §4.F's main loop once: fetch, mark Running,
// hand the token to the fetched process's worker, wait for it to hand
// control back, then re-enqueue (or leave it for the caller to reap,
// if it exited). It reports false if the ready queues were empty.
func (p *Processor) RunOnce() (*proc.PCB, RunResult, bool) {
	p.mu.Lock()
	pcb, ok := p.sched.Fetch()
	if !ok {
		p.mu.Unlock()
		return nil, RunResult{}, false
	}
	pcb.SetState(proc.Running)
	p.current = pcb
	w := p.workers[pcb.PID()]
	p.mu.Unlock()

	if w == nil {
		panic("sched: RunOnce fetched an unregistered PCB")
	}

	w.turn <- struct{}{}
	res := <-w.done

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	switch {
	case res.Exited:
		pcb.SetState(proc.Zombie)
	case res.Boost:
		p.sched.Boost(pcb)
	default:
		p.sched.Add(pcb, pcb.Priority())
	}
	return pcb, res, true
}

// --- trap.Scheduler ---

// ArmNextTimer arms the next timer interrupt and advances the
// processor's virtual clock by one tick — the only notion of elapsed
// time available in a simulation with no real timer hardware, and the
// source sys_get_time reads (SPEC_FULL.md's supplemented syscall).
func (p *Processor) ArmNextTimer() {
	atomic.AddInt64(&p.ticks, 1)
	p.timer.ArmNext()
}

// BootMillis returns milliseconds elapsed since boot, derived from the
// tick count: kconfig.TickMillis per timer interrupt.
func (p *Processor) BootMillis() uint64 {
	return uint64(atomic.LoadInt64(&p.ticks)) * kconfig.TickMillis
}

// ChargeTick charges one tick against the given process's time slice.
func (p *Processor) ChargeTick(who trap.Process) bool {
	pcb, ok := who.(*proc.PCB)
	if !ok {
		panic("sched: ChargeTick called with a non-*proc.PCB trap.Process")
	}
	return pcb.ChargeTick()
}

// DemoteAndReschedule marks who Ready and enqueues it at its
// (already-demoted, by ChargeTick) priority level. The scheduler picks
// it up again on a future RunOnce.
func (p *Processor) DemoteAndReschedule(who trap.Process) {
	pcb, ok := who.(*proc.PCB)
	if !ok {
		panic("sched: DemoteAndReschedule called with a non-*proc.PCB trap.Process")
	}
	pcb.SetState(proc.Ready)
	p.mu.Lock()
	p.sched.Add(pcb, pcb.Priority())
	p.mu.Unlock()
}
