package replicate

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("TransferSet", func() {
	It("hands a submitted context to drainPending exactly once", func() {
		ts := NewTransferSet()
		ctx := newContext(Snapshot{FileID: 1}, KindManifest, OpPost, nil, false, false)

		h := ts.Submit(ctx)
		Expect(h).NotTo(BeZero())

		batch := ts.drainPending()
		Expect(batch).To(HaveLen(1))
		Expect(batch[h]).To(BeIdenticalTo(ctx))

		Expect(ts.drainPending()).To(BeNil())
	})

	It("queues a cancelled snapshot and leaves its pending match for the loop to remove", func() {
		ts := NewTransferSet()
		snap := Snapshot{VolumeID: 1, FileID: 2, FileVersion: 1}
		ctx := newContext(snap, KindManifest, OpDelete, nil, false, false)
		ctx.prepare(testSigner)

		ts.Submit(ctx)
		ts.RequestCancel(snap)
		snaps := ts.drainCancels()
		Expect(snaps).To(ConsistOf(snap))

		// Emulate the loop's driveCancels half directly: the match must
		// still be sitting in pending since no loop is running.
		ts.pendingMu.Lock()
		var found bool
		for _, c := range ts.pending {
			if c.Snapshot.Matches(snap) {
				found = true
			}
		}
		ts.pendingMu.Unlock()
		Expect(found).To(BeTrue())
	})

	It("never reuses a handle across two submissions", func() {
		ts := NewTransferSet()
		seen := make(map[Handle]bool)
		for i := 0; i < 100; i++ {
			ctx := newContext(Snapshot{FileID: uint64(i)}, KindBlock, OpPost, nil, false, true)
			h := ts.Submit(ctx)
			Expect(seen[h]).To(BeFalse())
			seen[h] = true
		}
	})

	It("does not register fire-and-forget contexts for wait_and_free lookup", func() {
		ts := NewTransferSet()
		ctx := newContext(Snapshot{FileID: 9}, KindManifest, OpDelete, nil, false, true)
		h := ts.Submit(ctx)
		_, ok := ts.lookup(h)
		Expect(ok).To(BeFalse())
	})

	It("releases processing_lock exactly once for a context that never reaches an RG", func() {
		ts := NewTransferSet()
		ctx := newContext(Snapshot{FileID: 5}, KindManifest, OpPost, nil, false, false)
		h := ts.Submit(ctx)

		done := make(chan struct{})
		go func() {
			Expect(ctx.wait(context.Background())).NotTo(HaveOccurred())
			close(done)
		}()

		batch := ts.drainPending()
		Expect(batch).To(HaveLen(1))
		ctx.setErr(ErrNoReplicas)
		ctx.release()

		Eventually(done, time.Second).Should(BeClosed())
		_ = h
	})
})
