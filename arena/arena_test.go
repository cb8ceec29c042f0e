package arena_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/marktsuchida/partaked/arena"
)

func TestArena(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "arena")
}

var _ = Describe("Arena", func() {
	It("reports the requested size", func() {
		Expect(arena.New(0).Size()).To(Equal(uint64(0)))
		Expect(arena.New(1).Size()).To(Equal(uint64(1)))
		Expect(arena.New(10).Size()).To(Equal(uint64(10)))
	})

	It("fails to allocate from an empty arena", func() {
		Expect(arena.New(0).Allocate(1).Valid()).To(BeFalse())
	})

	It("allocates, splits, fails when exhausted, frees, and coalesces", func() {
		a := arena.New(8)

		a0 := a.Allocate(1)
		Expect(a0.Valid()).To(BeTrue())
		Expect(a0.Count()).To(Equal(uint64(1)))

		a1 := a.Allocate(2)
		Expect(a1.Valid()).To(BeTrue())
		Expect(a1.Count()).To(Equal(uint64(2)))

		a2 := a.Allocate(4)
		Expect(a2.Valid()).To(BeTrue())

		Expect(a.Allocate(2).Valid()).To(BeFalse())

		a3 := a.Allocate(0)
		Expect(a3.Valid()).To(BeTrue())
		Expect(a3.Count()).To(Equal(uint64(1)))

		Expect(a.Allocate(1).Valid()).To(BeFalse())

		a.Free(a1)

		a4 := a.Allocate(1)
		Expect(a4.Valid()).To(BeTrue())
		Expect(a4.Count()).To(Equal(uint64(1)))

		a5 := a.Allocate(1)
		Expect(a5.Valid()).To(BeTrue())
		Expect(a5.Count()).To(Equal(uint64(1)))

		a.Free(a4)
		a.Free(a5)

		// a4 and a5 together occupy the same two blocks formerly held by
		// a1; freeing both should coalesce back into a run of 2.
		a6 := a.Allocate(2)
		Expect(a6.Valid()).To(BeTrue())
		Expect(a6.Count()).To(Equal(uint64(2)))
	})

	It("handles sizes near the uint64 range limit", func() {
		const max = ^uint64(0)
		b := arena.New(max)
		Expect(b.Allocate(max).Count()).To(Equal(max))

		c := arena.New(max - 1)
		Expect(c.Allocate(max).Valid()).To(BeFalse())
	})

	It("freeing the zero Allocation is a no-op", func() {
		a := arena.New(4)
		a.Free(arena.Allocation{})
		Expect(a.Allocate(4).Valid()).To(BeTrue())
	})
})

var _ = Describe("Allocator", func() {
	It("rounds size down to whole blocks and back up on allocation", func() {
		a := arena.NewAllocator(9, 1)
		Expect(a.Arena().Size()).To(Equal(uint64(4)))
		Expect(a.Size()).To(Equal(uint64(8)))

		alloc := a.Allocate(5)
		Expect(alloc.Valid()).To(BeTrue())
		Expect(alloc.Size()).To(Equal(uint64(6)))
	})

	It("treats a zero-byte allocation as one block", func() {
		a := arena.NewAllocator(9, 1)
		alloc := a.Allocate(0)
		Expect(alloc.Valid()).To(BeTrue())
		Expect(alloc.Size()).To(Equal(uint64(2)))
	})

	It("reports failure when the arena has no room", func() {
		a := arena.NewAllocator(9, 1)
		Expect(a.Allocate(200).Valid()).To(BeFalse())
	})

	It("computes byte offsets from the underlying block offset", func() {
		a := arena.NewAllocator(1024, 4) // block size 16
		alloc := a.Allocate(20)
		Expect(alloc.Valid()).To(BeTrue())
		Expect(alloc.Offset()).To(Equal(uint64(0)))
		Expect(alloc.Size()).To(Equal(uint64(32)))

		alloc2 := a.Allocate(8)
		Expect(alloc2.Offset()).To(Equal(uint64(32)))
	})
})
