// Package sched implements the MLFQ ready-queue scheduler (spec.md
// §4.F): N priority levels with doubling time slices, add/fetch/boost,
// and the per-processor main loop that hands control to exactly one
// process at a time.
//
// The teacher's scheduler rides a modified Go runtime: biscuit parks
// and resumes kernel threads as raw goroutines via
// biscuit/src/tinfo/tinfo.go's Tnote_t/runtime.Gptr, something only
// that runtime fork can do. Stock Go cannot save/restore an arbitrary
// goroutine's register state by hand, so this package expresses the
// same "exactly one runnable thing advances at a time, everything else
// waits" discipline with ordinary goroutines blocked on channels: each
// process registered with a Processor gets one goroutine parked on a
// "turn" channel, and the processor hands the turn to exactly one of
// them at a time, waiting for it to hand control back before picking
// the next.
package sched

import (
	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
	"rvkernel/internal/proc"
)

var log = kernlog.For("sched")

// Scheduler holds the N MLFQ ready queues (spec.md §4.F).
type Scheduler struct {
	queues [kconfig.MLFQLevels][]*proc.PCB
}

// NewScheduler returns a scheduler with every queue empty.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= kconfig.MLFQLevels {
		return kconfig.MLFQLevels - 1
	}
	return level
}

// Add pushes pcb onto the back of queue min(priority, N-1), recording
// that priority on the PCB itself.
func (s *Scheduler) Add(pcb *proc.PCB, priority int) {
	level := clampLevel(priority)
	pcb.SetPriority(level)
	pcb.SetState(proc.Ready)
	s.queues[level] = append(s.queues[level], pcb)
}

// AddNew pushes pcb onto queue 0, for a process that has never run.
func (s *Scheduler) AddNew(pcb *proc.PCB) {
	s.Add(pcb, 0)
}

// Fetch pops the front of the lowest-indexed non-empty queue, or
// returns false if every queue is empty.
func (s *Scheduler) Fetch() (*proc.PCB, bool) {
	for level := 0; level < kconfig.MLFQLevels; level++ {
		q := s.queues[level]
		if len(q) == 0 {
			continue
		}
		pcb := q[0]
		s.queues[level] = q[1:]
		return pcb, true
	}
	return nil, false
}

// Boost resets pcb's priority and used-slice to 0 and re-enqueues it,
// per spec.md §4.F's wake-from-I/O rule: "interactive processes should
// not be penalised for having yielded".
func (s *Scheduler) Boost(pcb *proc.PCB) {
	s.Add(pcb, 0)
	log.WithField("pid", pcb.PID()).Debug("priority boosted to 0")
}

// Len reports how many processes are waiting at the given level, for
// tests and diagnostics.
func (s *Scheduler) Len(level int) int {
	return len(s.queues[clampLevel(level)])
}

// SetPriority directly sets pcb's MLFQ level, clamped to [0,N-1],
// independent of the automatic demotion path — sys_set_priority's
// effect. pcb is not moved between queues here: a process calling
// this on itself is the Running PCB, not presently queued, and picks
// up the new level the next time RunOnce re-enqueues it.
func (s *Scheduler) SetPriority(pcb *proc.PCB, level int) {
	pcb.SetPriority(clampLevel(level))
}
