package reqhandler_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/marktsuchida/partaked/arena"
	"github.com/marktsuchida/partaked/daemon"
	"github.com/marktsuchida/partaked/reqhandler"
	"github.com/marktsuchida/partaked/wire"
)

func TestReqhandler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "reqhandler")
}

const arenaSize = 1 << 20

func newRepository() *daemon.Repository {
	allocator := arena.NewAllocator(arenaSize, 0)
	return daemon.NewRepository(allocator, daemon.NewVoucherQueueForTesting(time.Now))
}

func newSession(id uint64, repo *daemon.Repository) *daemon.Session {
	segment := wire.SegmentSpec{Mechanism: wire.MechanismMmapFile, MmapFilePath: "/dev/null"}
	return daemon.NewSession(id, repo, 10*time.Second, segment)
}

var _ = Describe("Handle", func() {
	var (
		repo    *daemon.Repository
		session *daemon.Session
		now     time.Time
		pending []wire.ResponseBatch
		sink    reqhandler.Deferred
	)

	BeforeEach(func() {
		repo = newRepository()
		session = newSession(7, repo)
		now = time.Now()
		pending = nil
		sink = func(b wire.ResponseBatch) { pending = append(pending, b) }
	})

	It("answers Ping immediately with the request's seqno", func() {
		batch := wire.RequestBatch{Requests: []wire.Request{{Seqno: 1, Kind: wire.RequestPing}}}
		resp, quit := reqhandler.Handle(session, batch, now, sink)
		Expect(quit).To(BeFalse())
		Expect(resp.Responses).To(HaveLen(1))
		Expect(resp.Responses[0].Seqno).To(Equal(uint64(1)))
		Expect(resp.Responses[0].Status).To(Equal(wire.StatusOK))
	})

	It("returns the session id from Hello, and rejects a second Hello in the same batch", func() {
		batch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 1, Kind: wire.RequestHello, HelloName: "client", HelloPID: 123},
			{Seqno: 2, Kind: wire.RequestHello, HelloName: "again", HelloPID: 124},
		}}
		resp, quit := reqhandler.Handle(session, batch, now, sink)
		Expect(quit).To(BeFalse())
		Expect(resp.Responses).To(HaveLen(2))
		Expect(resp.Responses[0].Status).To(Equal(wire.StatusOK))
		Expect(resp.Responses[0].SessionID).To(Equal(uint64(7)))
		Expect(resp.Responses[1].Status).To(Equal(wire.StatusInvalidRequest))
	})

	It("ends the batch on Quit without processing what follows", func() {
		batch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 1, Kind: wire.RequestQuit},
			{Seqno: 2, Kind: wire.RequestPing},
		}}
		resp, quit := reqhandler.Handle(session, batch, now, sink)
		Expect(quit).To(BeTrue())
		Expect(resp.Responses).To(HaveLen(1))
		Expect(resp.Responses[0].Status).To(Equal(wire.StatusOK))
	})

	It("ends the batch on an unrecognized variant tag", func() {
		batch := wire.RequestBatch{Requests: []wire.Request{{Seqno: 1, Kind: wire.RequestKind(200)}}}
		resp, quit := reqhandler.Handle(session, batch, now, sink)
		Expect(quit).To(BeTrue())
		Expect(resp.Responses).To(HaveLen(1))
		Expect(resp.Responses[0].Status).To(Equal(wire.StatusInvalidRequest))
	})

	It("allocates and reports the mapping synchronously", func() {
		batch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 1, Kind: wire.RequestAlloc, AllocSize: 1024, AllocPolicy: wire.PolicyDefault},
		}}
		resp, _ := reqhandler.Handle(session, batch, now, sink)
		Expect(resp.Responses).To(HaveLen(1))
		Expect(resp.Responses[0].Status).To(Equal(wire.StatusOK))
		Expect(resp.Responses[0].Mapping.Size).To(BeNumerically(">=", 1024))
	})

	It("defers an Open that must wait, then delivers it through the sink once resolved", func() {
		allocBatch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 1, Kind: wire.RequestAlloc, AllocSize: 1024, AllocPolicy: wire.PolicyDefault},
		}}
		allocResp, _ := reqhandler.Handle(session, allocBatch, now, sink)
		key := allocResp.Responses[0].Mapping.Key

		other := newSession(8, repo)
		openBatch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 9, Kind: wire.RequestOpen, Key: key, AllocPolicy: wire.PolicyDefault, Wait: true},
		}}
		resp, quit := reqhandler.Handle(other, openBatch, now, sink)
		Expect(quit).To(BeFalse())
		Expect(resp.Responses).To(BeEmpty(), "a deferred Open must not appear in the immediate batch")
		Expect(pending).To(BeEmpty())

		shareBatch := wire.RequestBatch{Requests: []wire.Request{
			{Seqno: 2, Kind: wire.RequestShare, Key: key},
		}}
		reqhandler.Handle(session, shareBatch, now, sink)

		Expect(pending).To(HaveLen(1))
		Expect(pending[0].Responses).To(HaveLen(1))
		Expect(pending[0].Responses[0].Seqno).To(Equal(uint64(9)))
		Expect(pending[0].Responses[0].Status).To(Equal(wire.StatusOK))
	})
})
