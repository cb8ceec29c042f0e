package daemon_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/marktsuchida/partaked/arena"
	"github.com/marktsuchida/partaked/daemon"
	"github.com/marktsuchida/partaked/wire"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "daemon")
}

const arenaSize = 1 << 20 // 1 MiB, plenty for every scenario below.

func newFixture() (*daemon.Repository, func() time.Time, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	queue := daemon.NewVoucherQueueForTesting(nowFn)
	allocator := arena.NewAllocator(arenaSize, 0)
	repo := daemon.NewRepository(allocator, queue)
	return repo, nowFn, clock
}

func newSession(id uint64, repo *daemon.Repository) *daemon.Session {
	segment := wire.SegmentSpec{Mechanism: wire.MechanismMmapFile, MmapFilePath: "/dev/null"}
	return daemon.NewSession(id, repo, 10*time.Second, segment)
}

var _ = Describe("Session", func() {
	var (
		repo  *daemon.Repository
		nowFn func() time.Time
		clock *time.Time
		a, b  *daemon.Session
	)

	BeforeEach(func() {
		repo, nowFn, clock = newFixture()
		a = newSession(1, repo)
		b = newSession(2, repo)
	})

	Describe("Hello", func() {
		It("rejects a second call without changing name/pid", func() {
			Expect(a.Hello("client-a", 100)).To(Equal(daemon.StatusOK))
			Expect(a.Name).To(Equal("client-a"))
			Expect(a.PID).To(Equal(int32(100)))

			status := a.Hello("someone-else", 200)
			Expect(status).To(Equal(daemon.StatusInvalidRequest))
			Expect(a.Name).To(Equal("client-a"))
			Expect(a.PID).To(Equal(int32(100)))
		})
	})

	Describe("CreateVoucher with count 0", func() {
		It("fails INVALID_REQUEST", func() {
			mapping, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))

			_, status = a.CreateVoucher(mapping.Key, 0, nowFn())
			Expect(status).To(Equal(daemon.StatusInvalidRequest))
		})
	})

	// Scenario S1.
	Describe("alloc, busy reopen, share, then a second session opens", func() {
		It("matches the documented sequence", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(m1.Size).To(BeNumerically(">=", 1024))

			var openResult daemon.Result
			a.Open(m1.Key, wire.PolicyDefault, false, nowFn(), func(r daemon.Result) { openResult = r })
			Expect(openResult.Status).To(Equal(daemon.StatusObjectBusy))

			Expect(a.Share(m1.Key)).To(Equal(daemon.StatusOK))

			var bResult daemon.Result
			b.Open(m1.Key, wire.PolicyDefault, false, nowFn(), func(r daemon.Result) { bResult = r })
			Expect(bResult.Status).To(Equal(daemon.StatusOK))
			Expect(bResult.Mapping.Offset).To(Equal(m1.Offset))
			Expect(bResult.Mapping.Size).To(Equal(m1.Size))
		})
	})

	// Scenario S2.
	Describe("a deferred open that loses its exclusive writer", func() {
		It("resumes with NO_SUCH_OBJECT once A closes without sharing", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))

			var bResult *daemon.Result
			b.Open(m1.Key, wire.PolicyDefault, true, nowFn(), func(r daemon.Result) { bResult = &r })
			Expect(bResult).To(BeNil(), "B's open must defer, not resolve immediately")

			Expect(a.Close(m1.Key)).To(Equal(daemon.StatusOK))

			Expect(bResult).NotTo(BeNil())
			Expect(bResult.Status).To(Equal(daemon.StatusNoSuchObject))
		})
	})

	// Scenario S3.
	Describe("unshare deferred until the only other opener closes", func() {
		It("rekeys to a new token once uniquely open, and the old token is unresolvable", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			t1 := m1.Key
			Expect(a.Share(t1)).To(Equal(daemon.StatusOK))

			var bOpen daemon.Result
			b.Open(t1, wire.PolicyDefault, false, nowFn(), func(r daemon.Result) { bOpen = r })
			Expect(bOpen.Status).To(Equal(daemon.StatusOK))

			var unshareResult *daemon.Result
			a.Unshare(t1, true, func(r daemon.Result) { unshareResult = &r })
			Expect(unshareResult).To(BeNil(), "unshare must defer while B still holds the object open")

			Expect(b.Close(t1)).To(Equal(daemon.StatusOK))

			Expect(unshareResult).NotTo(BeNil())
			Expect(unshareResult.Status).To(Equal(daemon.StatusOK))
			t2 := unshareResult.Key
			Expect(t2).NotTo(Equal(t1))

			var reopenOld daemon.Result
			b.Open(t1, wire.PolicyDefault, false, nowFn(), func(r daemon.Result) { reopenOld = r })
			Expect(reopenOld.Status).To(Equal(daemon.StatusNoSuchObject))

			var reopenNew *daemon.Result
			b.Open(t2, wire.PolicyDefault, true, nowFn(), func(r daemon.Result) { reopenNew = &r })
			Expect(reopenNew).To(BeNil(), "B's open of the new token must defer until A shares again")

			Expect(a.Share(t2)).To(Equal(daemon.StatusOK))
			Expect(reopenNew).NotTo(BeNil())
			Expect(reopenNew.Status).To(Equal(daemon.StatusOK))
		})
	})

	// Scenario S4.
	Describe("create and discard a multi-use voucher", func() {
		It("discards to the target token, then fails on a second discard", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(a.Share(m1.Key)).To(Equal(daemon.StatusOK))

			v, status := a.CreateVoucher(m1.Key, 2, nowFn())
			Expect(status).To(Equal(daemon.StatusOK))

			target, status := a.DiscardVoucher(v, nowFn())
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(target).To(Equal(m1.Key))

			_, status = a.DiscardVoucher(v, nowFn())
			Expect(status).To(Equal(daemon.StatusNoSuchObject))
		})
	})

	// Scenario S5.
	Describe("a voucher that outlives its TTL", func() {
		It("is dropped by the expiration queue and becomes unresolvable", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(a.Share(m1.Key)).To(Equal(daemon.StatusOK))

			v, status := a.CreateVoucher(m1.Key, 1, nowFn())
			Expect(status).To(Equal(daemon.StatusOK))

			*clock = clock.Add(11 * time.Second)
			repo.ExpireVouchers(nowFn())

			var openResult daemon.Result
			b.Open(v, wire.PolicyDefault, false, nowFn(), func(r daemon.Result) { openResult = r })
			Expect(openResult.Status).To(Equal(daemon.StatusNoSuchObject))
		})
	})

	Describe("discard_voucher on a proper object's own token", func() {
		It("is an idempotent no-op returning the same token (invariant 9)", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))

			target, status := a.DiscardVoucher(m1.Key, nowFn())
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(target).To(Equal(m1.Key))
		})
	})

	Describe("share called twice on the same handle (invariant 10)", func() {
		It("fails the second time without mutating state", func() {
			m1, status := a.Alloc(1024, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(a.Share(m1.Key)).To(Equal(daemon.StatusOK))
			Expect(a.Share(m1.Key)).To(Equal(daemon.StatusNoSuchObject))
		})
	})

	Describe("alloc followed by close on the same session and token (invariant 8)", func() {
		It("returns the exact same byte range to the allocator", func() {
			nearFull := uint64(arenaSize - 64)

			m1, status := a.Alloc(nearFull, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(a.Close(m1.Key)).To(Equal(daemon.StatusOK))

			m2, status := a.Alloc(nearFull, wire.PolicyDefault)
			Expect(status).To(Equal(daemon.StatusOK))
			Expect(m2.Offset).To(Equal(m1.Offset))
		})
	})
})
