package collection

import (
	"fmt"
	"sync"
)

type TSD interface {
	GetTimestamp() int64
}

// SnapshotRing is a capped, timestamp-ordered circular buffer. Once full,
// every insert evicts the oldest entry. A single writer appends; any number
// of readers may query concurrently.
type SnapshotRing struct {
	lock     *sync.RWMutex
	data     []TSD
	capacity int
	cursor   int
	num      int
}

func NewSnapshotRing(capacity int) *SnapshotRing {
	if capacity <= 0 {
		panic("invalid SnapshotRing capacity")
	}
	return &SnapshotRing{
		lock:     &sync.RWMutex{},
		data:     make([]TSD, capacity),
		capacity: capacity,
		cursor:   0,
	}
}

// binarySearch returns the logical position of the first entry with
// timestamp >= t. Caller holds the lock.
func (r *SnapshotRing) binarySearch(t int64) int {
	if r.num == 0 {
		return 0
	}
	var l, h int
	if r.data[r.cursor] == nil {
		l = 0
		h = r.cursor - 1
	} else {
		l = r.cursor
		h = r.cursor - 1 + r.capacity
	}

	for {
		if l > h {
			return l
		}
		m := l + (h-l)/2
		if t <= r.data[m%r.capacity].GetTimestamp() {
			h = m - 1
		} else {
			l = m + 1
		}
	}
}

// Put inserts d keeping ascending timestamp order. Samplers produce strictly
// increasing timestamps so the fast path is a plain append; out-of-order
// entries (a reloaded partition, a clock step) are placed by binary search.
func (r *SnapshotRing) Put(d TSD) {
	r.lock.Lock()
	defer r.lock.Unlock()

	defer func() {
		r.num++
	}()

	if r.num == 0 || d.GetTimestamp() >= r.data[((r.cursor-1)+r.capacity)%r.capacity].GetTimestamp() {
		r.data[r.cursor] = d
		r.cursor = (r.cursor + 1) % r.capacity
		return
	}

	pos := r.binarySearch(d.GetTimestamp())
	if pos == r.cursor && r.data[r.cursor] != nil {
		return
	}

	end := r.cursor
	if r.data[end] != nil {
		end += r.capacity
	}
	for i := end; i > pos; i-- {
		r.data[i%r.capacity] = r.data[(i-1)%r.capacity]
	}
	r.data[pos%r.capacity] = d
	r.cursor = (r.cursor + 1) % r.capacity
}

// Len returns the number of entries currently held.
func (r *SnapshotRing) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.num < r.capacity {
		return r.num
	}
	return r.capacity
}

// Query returns the entries with timestamps in the inclusive range
// [start, end], oldest first.
func (r *SnapshotRing) Query(start, end int64) []TSD {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := []TSD{}
	if r.num == 0 {
		return result
	}

	from := r.binarySearch(start)
	to := r.binarySearch(end + 1)
	for i := from; i < to; i++ {
		result = append(result, r.data[i%r.capacity])
	}
	return result
}

// All returns every held entry, oldest first.
func (r *SnapshotRing) All() []TSD {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.num == 0 {
		return []TSD{}
	}

	var head, tail int
	if r.data[r.cursor] == nil {
		head = 0
		tail = r.cursor - 1
	} else {
		head = r.cursor
		tail = r.cursor + r.capacity - 1
	}

	s := make([]TSD, tail-head+1)
	for i := 0; i <= tail-head; i++ {
		s[i] = r.data[(i+head)%r.capacity]
	}
	return s
}

func (r *SnapshotRing) String() string {
	return fmt.Sprint(r.All())
}
