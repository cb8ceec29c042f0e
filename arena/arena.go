// Package arena implements a block allocator over an abstract range of
// contiguous blocks. All bookkeeping lives in regular Go memory; the arena
// never touches the resource (shared memory) it tracks, so a misbehaving
// client can never corrupt allocator state through the shared segment.
//
// Grounded on the reference allocator: power-of-two-binned free lists,
// next-fit scanning within a bin, and eager coalescing of adjacent free
// chunks on deallocation. Allocation tracks both offset and size, so
// deallocation is O(1) and needs no metadata stored alongside the chunk.
package arena

import "math/bits"

// chunk is a contiguous run of blocks, either free or allocated. Chunks form
// a doubly linked adjacency list in offset order (bounded by two zero-count
// sentinels) and, while free, also belong to a size-binned free list.
type chunk struct {
	start, count uint64
	inUse        bool

	adjPrev, adjNext   *chunk
	freePrev, freeNext *chunk
}

// freeList is a doubly linked list of free chunks whose block count falls in
// one power-of-two bin. A nil head means the list is empty.
type freeList struct {
	head, tail *chunk
}

func (l *freeList) pushFront(c *chunk) {
	c.freePrev, c.freeNext = nil, l.head
	if l.head != nil {
		l.head.freePrev = c
	}
	l.head = c
	if l.tail == nil {
		l.tail = c
	}
}

func (l *freeList) pushBack(c *chunk) {
	c.freeNext, c.freePrev = nil, l.tail
	if l.tail != nil {
		l.tail.freeNext = c
	}
	l.tail = c
	if l.head == nil {
		l.head = c
	}
}

func (l *freeList) remove(c *chunk) {
	if c.freePrev != nil {
		c.freePrev.freeNext = c.freeNext
	} else {
		l.head = c.freeNext
	}
	if c.freeNext != nil {
		c.freeNext.freePrev = c.freePrev
	} else {
		l.tail = c.freePrev
	}
	c.freePrev, c.freeNext = nil, nil
}

// freeListIndexForSize returns the bin index for a chunk of the given block
// count: free lists are binned by power-of-two thresholds, bin N holding
// chunks whose count is in (2^(N-1), 2^N].
func freeListIndexForSize(size uint64) int {
	return 64 - bits.LeadingZeros64(size-1)
}

// Arena allocates and frees runs of blocks from a fixed-size range
// [0, size). Clients map block counts to concrete byte sizes; the arena
// itself only ever deals in block counts.
type Arena struct {
	size              uint64
	leftSent, rightSent *chunk
	freeLists         []freeList
}

// New returns an Arena managing size blocks, numbered [0, size).
func New(size uint64) *Arena {
	a := &Arena{size: size}
	a.leftSent = &chunk{start: 0, count: 0, inUse: true}
	a.rightSent = &chunk{start: size, count: 0, inUse: true}
	a.leftSent.adjNext = a.rightSent
	a.rightSent.adjPrev = a.leftSent

	if size > 0 {
		free := &chunk{start: 0, count: size, inUse: false}
		a.insertAfter(a.leftSent, free)

		n := freeListIndexForSize(size) + 1
		a.freeLists = make([]freeList, n)
		a.freeLists[n-1].pushBack(free)
	}

	return a
}

// Size returns the total number of blocks managed by the arena.
func (a *Arena) Size() uint64 { return a.size }

func (a *Arena) insertAfter(at, c *chunk) {
	next := at.adjNext
	at.adjNext = c
	c.adjPrev = at
	c.adjNext = next
	next.adjPrev = c
}

func (a *Arena) freeListForCount(count uint64) *freeList {
	return &a.freeLists[freeListIndexForSize(count)]
}

// Allocation identifies a run of blocks handed out by an Arena. The zero
// Allocation is invalid (as reported by Valid). Allocation does not release
// itself; the owner must call Arena.Free explicitly once the chunk is no
// longer needed — Go has no destructor to hook this to, unlike the
// reference implementation's RAII wrapper.
type Allocation struct {
	chunk *chunk
}

// Valid reports whether the allocation succeeded.
func (al Allocation) Valid() bool { return al.chunk != nil }

// Start returns the offset, in blocks, of the allocated run.
func (al Allocation) Start() uint64 {
	if al.chunk == nil {
		return 0
	}
	return al.chunk.start
}

// Count returns the number of blocks in the allocated run.
func (al Allocation) Count() uint64 {
	if al.chunk == nil {
		return 0
	}
	return al.chunk.count
}

// Allocate reserves a run of count contiguous blocks, or returns an invalid
// Allocation if the arena has no free run large enough. A zero count is
// treated as one block, so that zero-sized allocations still get a distinct
// offset from one another.
func (a *Arena) Allocate(count uint64) Allocation {
	if count == 0 {
		count = 1
	}
	if count > a.size {
		return Allocation{}
	}

	startIdx := freeListIndexForSize(count)
	if startIdx >= len(a.freeLists) {
		return Allocation{}
	}

	for i := startIdx; i < len(a.freeLists); i++ {
		flist := &a.freeLists[i]
		for c := flist.head; c != nil; c = c.freeNext {
			if c.count < count {
				continue
			}

			// Next-fit: chunks scanned before the winner go to the back of
			// the list so they aren't re-scanned first on the next call.
			for scan := flist.head; scan != c; {
				next := scan.freeNext
				flist.remove(scan)
				flist.pushBack(scan)
				scan = next
			}

			flist.remove(c)

			if c.count > count {
				excess := &chunk{start: c.start + count, count: c.count - count}
				c.count = count
				a.freeListForCount(excess.count).pushFront(excess)
				a.insertAfter(c, excess)
			}

			c.inUse = true
			return Allocation{chunk: c}
		}
	}

	return Allocation{}
}

// Free returns the blocks held by al to the arena, coalescing with any
// adjacent free chunks. Freeing the zero Allocation is a no-op.
func (a *Arena) Free(al Allocation) {
	c := al.chunk
	if c == nil {
		return
	}
	c.inUse = false

	if prev := c.adjPrev; !prev.inUse && prev.count > 0 {
		a.freeListForCount(prev.count).remove(prev)
		c.start = prev.start
		c.count += prev.count
		a.unlinkAdjacent(prev)
	}

	if next := c.adjNext; !next.inUse && next.count > 0 {
		a.freeListForCount(next.count).remove(next)
		c.count += next.count
		a.unlinkAdjacent(next)
	}

	a.freeListForCount(c.count).pushFront(c)
}

func (a *Arena) unlinkAdjacent(c *chunk) {
	c.adjPrev.adjNext = c.adjNext
	c.adjNext.adjPrev = c.adjPrev
}
