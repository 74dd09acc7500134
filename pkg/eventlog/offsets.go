package eventlog

import (
	"sync"
)

// offsetTracker computes, per partition, the highest offset that can be committed
// without skipping over a record that is still being processed. Records may finish
// out of order when several lanes consume concurrently; offsets may have gaps.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64
	done    map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: map[int]*partitionOffsets{}}
}

func (t *offsetTracker) partition(partition int) *partitionOffsets {
	p, ok := t.partitions[partition]
	if !ok {
		p = &partitionOffsets{done: map[int64]bool{}}
		t.partitions[partition] = p
	}

	return p
}

// Fetched records that offset is now being processed. Offsets within a partition
// are fetched in ascending order.
func (t *offsetTracker) Fetched(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(partition)
	if n := len(p.pending); n > 0 && offset <= p.pending[n-1] {
		// The partition was rewound (rebalance or reconnect), start again from here.
		p.pending = nil
		p.done = map[int64]bool{}
	}
	p.pending = append(p.pending, offset)
}

// Done marks offset finished and returns the highest offset whose predecessors have
// all finished too, or -1 when the commit position does not move.
func (t *offsetTracker) Done(partition int, offset int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(partition)
	p.done[offset] = true

	committable := int64(-1)
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		committable = p.pending[0]
		delete(p.done, committable)
		p.pending = p.pending[1:]
	}

	return committable
}
