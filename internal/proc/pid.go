package proc

import "sync"

// PID is a process identifier.
type PID uint64

// PIDAllocator is a monotonic counter plus a LIFO recycle list,
// grounded on the PID-allocation shape biscuit's accnt.go callers all
// assume: allocation prefers recycled PIDs, deallocation asserts the
// PID was actually handed out and isn't already free (spec.md §4.E).
type PIDAllocator struct {
	mu       sync.Mutex
	current  PID
	recycled []PID
}

// NewPIDAllocator returns an allocator with no PIDs yet handed out.
// PID 0 is never allocated; init always receives PID 1.
func NewPIDAllocator() *PIDAllocator {
	return &PIDAllocator{current: 1}
}

// Alloc hands out a PID, preferring a recycled one over bumping the
// counter.
func (a *PIDAllocator) Alloc() PID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid
	}
	pid := a.current
	a.current++
	return pid
}

// Free returns pid to the recycle list. It panics if pid was never
// allocated or is already free, matching spec.md §4.E's "deallocation
// asserts pid < current and absence-from-list".
func (a *PIDAllocator) Free(pid PID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pid >= a.current {
		panic("proc: freeing a PID that was never allocated")
	}
	for _, p := range a.recycled {
		if p == pid {
			panic("proc: double free of PID")
		}
	}
	a.recycled = append(a.recycled, pid)
}
