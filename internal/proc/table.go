package proc

import "sync"

// tableShards is the bucket count for Table, mirroring the sharded
// locking idiom in biscuit/src/hashtable/hashtable.go (there keyed by
// an FNV hash of an arbitrary key; here keyed by PID, which is already
// a well-distributed integer, so a plain modulus stands in for the
// hash function).
const tableShards = 16

type shard struct {
	mu sync.RWMutex
	m  map[PID]*PCB
}

// Table is the global PID -> PCB table every live process is reachable
// through (spec.md §3 invariant (a): exactly one PCB holds a given PID
// at a time).
type Table struct {
	shards [tableShards]*shard
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{m: make(map[PID]*PCB)}
	}
	return t
}

func (t *Table) shardFor(pid PID) *shard {
	return t.shards[uint64(pid)%uint64(tableShards)]
}

// Insert adds pcb to the table under its own PID.
func (t *Table) Insert(pcb *PCB) {
	s := t.shardFor(pcb.pid)
	s.mu.Lock()
	s.m[pcb.pid] = pcb
	s.mu.Unlock()
}

// Lookup returns the PCB for pid, if it is currently live.
func (t *Table) Lookup(pid PID) (*PCB, bool) {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	pcb, ok := s.m[pid]
	return pcb, ok
}

// Remove drops pid from the table, e.g. once its parent has reaped it.
func (t *Table) Remove(pid PID) {
	s := t.shardFor(pid)
	s.mu.Lock()
	delete(s.m, pid)
	s.mu.Unlock()
}
