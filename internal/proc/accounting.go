package proc

import "sync/atomic"

// Accounting tracks a process's accumulated scheduler ticks, adapted
// from biscuit/src/accnt/accnt.go's Accnt_t (there: user/sys
// nanoseconds via two atomic counters; here: whole ticks, since this
// core's MLFQ charges quantized ticks rather than wall-clock
// nanoseconds against a process's time slice).
type Accounting struct {
	userTicks int64
	sysTicks  int64
}

// AddUser charges n ticks of user-mode execution.
func (a *Accounting) AddUser(n int64) { atomic.AddInt64(&a.userTicks, n) }

// AddSys charges n ticks of kernel-mode execution (time spent inside a
// syscall or trap handler on this process's behalf).
func (a *Accounting) AddSys(n int64) { atomic.AddInt64(&a.sysTicks, n) }

// UserTicks reports the accumulated user-mode tick count.
func (a *Accounting) UserTicks() int64 { return atomic.LoadInt64(&a.userTicks) }

// SysTicks reports the accumulated kernel-mode tick count.
func (a *Accounting) SysTicks() int64 { return atomic.LoadInt64(&a.sysTicks) }
