package replicate

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/syndicate-storage/gateway/cmn"
)

var testSigner Signer

var _ = BeforeSuite(func() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	Expect(err).NotTo(HaveOccurred())
	testSigner = NewRSASigner(key)
})

func newTestEngine(rgURLs map[string]string, fanout time.Duration) (*Engine, *memFsEntryStore) {
	fsStore := NewMemFsEntryStore()
	conf := cmn.DefaultConfig()
	conf.Transfer.Timeout = fanout
	conf.Replica.RGCacheTTL = 0
	cfg := EngineConfig{
		FsStore:    fsStore,
		BlockStore: NewFSBlockStore(os.TempDir()),
		Codec:      NewJSONManifestCodec(),
		Signer:     testSigner,
		MSClient:   NewStaticMSClient(rgURLs),
		Config:     conf,
	}
	return NewEngine("test", cfg, 0), fsStore
}

var _ = Describe("Engine", func() {
	It("completes a happy-path POST to every RG", func() {
		var hits int32
		rg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusOK)
		}))
		defer rg.Close()

		engine, fsStore := newTestEngine(map[string]string{"rg1": rg.URL}, time.Second)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 100, Version: 1, OwnerID: 5, Local: true})

		kind, err := engine.ReplicateManifest(100, true, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrNone))
		Expect(atomic.LoadInt32(&hits)).To(Equal(int32(1)))
	})

	It("reports ErrNoReplicas when the volume has no known RGs", func() {
		engine, fsStore := newTestEngine(map[string]string{}, time.Second)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 101, Version: 1})

		kind, err := engine.ReplicateManifest(101, true, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrNoReplicas))
	})

	It("reports the worst error across a partial fan-out failure", func() {
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer good.Close()
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer bad.Close()

		engine, fsStore := newTestEngine(map[string]string{"good": good.URL, "bad": bad.URL}, time.Second)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 102, Version: 1})

		kind, err := engine.ReplicateManifest(102, true, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrRemoteIO))
	})

	It("times out when an RG never responds", func() {
		block := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer slow.Close()
		defer close(block)

		engine, fsStore := newTestEngine(map[string]string{"slow": slow.URL}, 150*time.Millisecond)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 103, Version: 1})

		kind, err := engine.ReplicateManifest(103, true, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrTimeout))
	})

	It("lets GC cancel an in-flight replication of the exact version", func() {
		block := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer slow.Close()
		defer close(block)

		engine, fsStore := newTestEngine(map[string]string{"slow": slow.URL}, 5*time.Second)
		defer engine.Shutdown()
		entry := &FsEntry{VolumeID: 1, FileID: 200, Version: 1, OwnerID: 1}
		fsStore.Put(entry)

		fh := NewFileHandle()
		_, err := engine.ReplicateManifest(200, false, fh)
		Expect(err).NotTo(HaveOccurred())

		// give the loop time to move the context from pending to active
		// before GC races it with a cancel.
		time.Sleep(50 * time.Millisecond)

		snap := Snapshot{VolumeID: 1, FileID: 200, FileVersion: 1, WriterID: 0, OwnerID: 1}
		engine.CancelMatching(snap)

		kind, err := engine.WaitAll(fh, 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrCancelled))
	})

	It("drains in-flight transfers on Shutdown without hanging", func() {
		block := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer slow.Close()
		defer close(block)

		engine, fsStore := newTestEngine(map[string]string{"slow": slow.URL}, 5*time.Second)
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 300, Version: 1})

		_, err := engine.ReplicateManifest(300, false, nil)
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(50 * time.Millisecond)

		done := make(chan struct{})
		go func() {
			engine.Shutdown()
			close(done)
		}()
		Eventually(done, 2*time.Second).Should(BeClosed())
	})

	It("expires a context via wait_and_free's own deadline when the context has none of its own", func() {
		block := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer slow.Close()
		defer close(block)

		// fanout=0 means ctx.Deadline stays zero (unbounded); only
		// WaitAll's own timeout should cut this short.
		engine, fsStore := newTestEngine(map[string]string{"slow": slow.URL}, 0)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 400, Version: 1})

		fh := NewFileHandle()
		_, err := engine.ReplicateManifest(400, false, fh)
		Expect(err).NotTo(HaveOccurred())
		kind, err := engine.WaitAll(fh, 100*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrTimeout))
	})

	It("batches a ReplicateBlocks submission through WaitAll and reports the worst error", func() {
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer good.Close()
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer bad.Close()

		engine, fsStore := newTestEngine(map[string]string{"good": good.URL, "bad": bad.URL}, time.Second)
		defer engine.Shutdown()
		fsStore.Put(&FsEntry{VolumeID: 1, FileID: 500, Version: 1})

		// ReplicateBlocks reads each block from the BlockStore before
		// submitting it, so both staging block files must exist.
		store := &fsBlockStore{root: os.TempDir()}
		for _, blockID := range []uint64{1, 2} {
			path := store.blockPath(500, 1, blockID, 1, true)
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("block"), 0o644)).To(Succeed())
			defer os.Remove(path)
		}

		fh := NewFileHandle()
		_, err := engine.ReplicateBlocks(500, map[uint64]BlockInfo{1: {Version: 1}, 2: {Version: 1}}, false, fh)
		Expect(err).NotTo(HaveOccurred())
		kind, err := engine.WaitAll(fh, 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(ErrPermissionDenied))
	})
})
