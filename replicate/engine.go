package replicate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syndicate-storage/gateway/cmn"
	"github.com/syndicate-storage/gateway/cmn/nlog"
)

// Engine is the public surface spec §4.4/§4.5 describe: replicate_*,
// gc_*, wait_and_free, cancel_matching. Both the replication and
// garbage_collector engines (spec §9, "Global engine singletons") are
// instances of this same type, wired to different defaults and
// metrics labels rather than duplicated code.
type Engine struct {
	name    string
	ts      *TransferSet
	loop    *MultiTransferLoop
	metrics *Metrics

	fsStore    FsEntryStore
	blockStore BlockStore
	codec      ManifestCodec
	signer     Signer
	ms         MSClient
	gatewayID  uint64

	fanoutDeadline time.Duration

	shutdownOnce sync.Once
}

// EngineConfig bundles an Engine's collaborators and timing (spec §6,
// §9). Defaults for Transfer.Timeout/Replica.ConnectTimeout come from
// cmn.Config. GatewayID identifies the local gateway originating every
// write this engine submits; it becomes each context's Snapshot.WriterID
// (spec §3) and is never derived from the volume or file identity.
type EngineConfig struct {
	FsStore    FsEntryStore
	BlockStore BlockStore
	Codec      ManifestCodec
	Signer     Signer
	MSClient   MSClient
	HTTPClient *http.Client
	Config     *cmn.Config
	Registerer prometheus.Registerer
	GatewayID  uint64
}

// NewEngine constructs and starts one engine under name ("replication"
// or "garbage_collector"), launching its MultiTransferLoop goroutine.
// Callers must Shutdown it when done (spec §9).
func NewEngine(name string, cfg EngineConfig, smod nlog.Smodule) *Engine {
	conf := cfg.Config
	if conf == nil {
		conf = cmn.DefaultConfig()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: conf.Replica.ConnectTimeout + conf.Transfer.Timeout}
	}
	ts := NewTransferSet()
	metrics := NewMetrics(cfg.Registerer, name)
	ms := newCachingMSClient(cfg.MSClient, conf.Replica.RGCacheTTL)
	loop := NewMultiTransferLoop(ts, client, ms, metrics, smod, conf.Worker.IdleTick)
	e := &Engine{
		name:           name,
		ts:             ts,
		loop:           loop,
		metrics:        metrics,
		fsStore:        cfg.FsStore,
		blockStore:     cfg.BlockStore,
		codec:          cfg.Codec,
		signer:         cfg.Signer,
		ms:             ms,
		gatewayID:      cfg.GatewayID,
		fanoutDeadline: conf.Transfer.Timeout,
	}
	go loop.Run()
	return e
}

// ReplicationInit and GCInit are the two named constructors spec §9
// calls for explicitly ("the filesystem layer passes references,
// avoiding hidden global state") in place of the source's two
// process-wide singletons. The filesystem layer is expected to hold
// onto the returned *Engine and pass it to whatever needs to submit
// transfers, rather than reaching for a package-level variable.
func ReplicationInit(cfg EngineConfig) *Engine {
	return NewEngine("replication", cfg, nlog.SmoduleReplicate)
}

func GCInit(cfg EngineConfig) *Engine {
	return NewEngine("garbage_collector", cfg, nlog.SmoduleGC)
}

// Shutdown tears the engine's loop down, aborting any in-flight legs
// (spec §8, "shutdown with in-flight transfers"). Safe to call more
// than once; only the first call actually stops the loop.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(e.loop.Stop)
}

func (e *Engine) deadline() time.Time {
	if e.fanoutDeadline <= 0 {
		return time.Time{}
	}
	return time.Now().Add(e.fanoutDeadline)
}

// ReplicateManifest is replicate_manifest (spec §4.5): read-locks
// fileID just long enough to snapshot and serialize it, then submits a
// POST Manifest context. When sync is true it blocks until the
// submitted context finishes (or Config.Transfer.Timeout elapses) and
// returns the observed result directly; when false the new Handle is
// pushed onto fh's pending_contexts for a later WaitAll — fh may be
// nil if the caller only ever issues sync calls.
func (e *Engine) ReplicateManifest(fileID uint64, sync bool, fh *FileHandle) (cmn.ErrKind, error) {
	entry, err := e.fsStore.RLock(fileID)
	if err != nil {
		return cmn.ErrNone, cmn.NewError(cmn.ErrNotFound, err)
	}
	ctx, err := NewManifestContext(entry, e.gatewayID, e.codec, e.signer, sync)
	e.fsStore.RUnlock(fileID)
	if err != nil {
		return cmn.ErrNone, err
	}
	ctx.Deadline = e.deadline()
	h := e.ts.Submit(ctx)
	if sync {
		return e.waitBatch([]Handle{h}, e.fanoutDeadline)
	}
	if fh != nil {
		fh.push(h)
	}
	return cmn.ErrNone, nil
}

// ReplicateBlocks is replicate_blocks (spec §4.5): one POST Block
// context per (blockID, version) pair, all submitted under a single
// read-lock span of fileID. Errors from individual begin calls are
// logged but do not abort the batch (spec §4.5); only successful
// begins are waited on or pushed to fh.
func (e *Engine) ReplicateBlocks(fileID uint64, blocks map[uint64]BlockInfo, sync bool, fh *FileHandle) (cmn.ErrKind, error) {
	entry, err := e.fsStore.RLock(fileID)
	if err != nil {
		return cmn.ErrNone, cmn.NewError(cmn.ErrNotFound, err)
	}
	defer e.fsStore.RUnlock(fileID)

	handles := make([]Handle, 0, len(blocks))
	for blockID, info := range blocks {
		ctx, err := NewBlockContext(entry, e.gatewayID, blockID, info, e.blockStore, e.signer, sync)
		if err != nil {
			nlog.Warningf("replicate_blocks: begin block %x failed: %s", blockID, err)
			continue
		}
		ctx.Deadline = e.deadline()
		handles = append(handles, e.ts.Submit(ctx))
	}
	if sync {
		return e.waitBatch(handles, e.fanoutDeadline)
	}
	if fh != nil {
		for _, h := range handles {
			fh.push(h)
		}
	}
	return cmn.ErrNone, nil
}

// GCManifest is gc_manifest (spec §4.5): first queues a cancel of any
// in-flight transfer of the exact version snap names, then submits a
// fire-and-forget DELETE Manifest context. Both go to e's own
// TransferSet; no other engine is consulted, so replication POSTs are
// preempted only when they were submitted to this same engine.
func (e *Engine) GCManifest(snap Snapshot) error {
	e.ts.RequestCancel(snap)
	ctx, err := NewGCManifestContext(snap, e.signer)
	if err != nil {
		return err
	}
	ctx.Deadline = e.deadline()
	e.ts.Submit(ctx)
	return nil
}

// GCBlocks is gc_blocks (spec §4.5): derives one per-block snapshot
// from baseSnap via Snapshot.WithBlock, queues a cancel of any matching
// in-flight transfer, and submits a fire-and-forget DELETE Block
// context for each, all on e's own TransferSet as in GCManifest.
func (e *Engine) GCBlocks(baseSnap Snapshot, blocks map[uint64]BlockInfo) error {
	for blockID, info := range blocks {
		snap := baseSnap.WithBlock(blockID, info.Version)
		e.ts.RequestCancel(snap)
		ctx, err := NewGCBlockContext(snap, e.signer)
		if err != nil {
			return err
		}
		ctx.Deadline = e.deadline()
		e.ts.Submit(ctx)
	}
	return nil
}

// WaitAndFree is wait_and_free (spec §4.4): blocks until h's context
// releases its processing_lock or timeout elapses first, then forgets
// the Handle. A timeout does not abandon the underlying fan-out — it
// asks the loop to expire it, so the caller never leaks outstanding
// legs by giving up early (spec §8, "free_on_processed leak check").
func (e *Engine) WaitAndFree(h Handle, timeout time.Duration) (cmn.ErrKind, error) {
	ctx, ok := e.ts.lookup(h)
	if !ok {
		return cmn.ErrNone, cmn.NewError(cmn.ErrNotFound, nil)
	}
	defer e.ts.forget(h)

	waitCtx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(waitCtx, timeout)
		defer cancel()
	}
	if err := ctx.wait(waitCtx); err != nil {
		e.ts.RequestExpire(h)
		<-waitFinished(ctx)
		return ctx.Err(), nil
	}
	return ctx.Err(), nil
}

// WaitAll is the batch form of wait_and_free spec §4.5 actually names
// ("wait_and_free(engine, contexts, timeout)"): it drains fh's
// pending_contexts and returns the worst observed error across the
// whole batch (spec §8).
func (e *Engine) WaitAll(fh *FileHandle, timeout time.Duration) (cmn.ErrKind, error) {
	return e.waitBatch(fh.drain(), timeout)
}

// waitBatch folds WaitAndFree over a batch of handles, worst error
// wins (spec §4.5, §7).
func (e *Engine) waitBatch(handles []Handle, timeout time.Duration) (cmn.ErrKind, error) {
	worst := cmn.ErrNone
	var firstErr error
	for _, h := range handles {
		kind, err := e.WaitAndFree(h, timeout)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		worst = cmn.Worse(worst, kind)
	}
	return worst, firstErr
}

// waitFinished returns a channel that closes once ctx's
// processing_lock becomes available again, used to block WaitAndFree
// until the loop has actually finished tearing an expired context
// down before returning control to the caller.
func waitFinished(ctx *Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = ctx.wait(context.Background())
		close(done)
	}()
	return done
}

// CancelMatching is cancel_matching (spec §4.4): exposed directly for
// callers that need to cancel without also issuing a GC delete (e.g.
// a rename that invalidates an in-flight replication of the old
// identity).
func (e *Engine) CancelMatching(snap Snapshot) {
	e.ts.RequestCancel(snap)
}
