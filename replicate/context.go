package replicate

import (
	"context"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/semaphore"

	"github.com/syndicate-storage/gateway/cmn"
	"github.com/syndicate-storage/gateway/cmn/debug"
)

// Handle identifies one in-flight HTTP request: one leg of a
// context's fan-out to a single RG (spec §3, "active_handles: set of
// HTTP handles, one per target RG").
type Handle uint64

type contextState int32

const (
	stateBuilding contextState = iota
	statePending
	stateActive
	stateFinished
)

// Context is ReplicaContext (spec §3, §4.2): one logical transfer of
// one artifact, fanned out to every known RG. Up to the point begin()
// hands it to the TransferSet, it is owned solely by its creator; from
// then on activeHandles is mutated solely by the MultiTransferLoop
// goroutine (spec §5), so no mutex guards it — only the worker ever
// touches a context after it leaves "pending".
type Context struct {
	Snapshot Snapshot
	Kind     ArtifactKind
	Op       Op
	Payload  *Payload // nil for DELETE
	Sync     bool
	FreeOnProcessed bool
	Deadline time.Time // zero means "no deadline"

	traceID string
	body    []byte
	contentType string

	sem      *semaphore.Weighted // processing_lock: binary, released exactly once (I3)
	released bool                // guards I3; checked in release()
	state    contextState

	activeHandles map[string]context.CancelFunc // rgID -> leg cancel, worker-owned once active
	err           cmn.ErrKind
}

func newContext(snap Snapshot, kind ArtifactKind, op Op, payload *Payload, sync, freeOnProcessed bool) *Context {
	id, _ := shortid.Generate()
	return &Context{
		Snapshot:        snap,
		Kind:            kind,
		Op:              op,
		Payload:         payload,
		Sync:            sync,
		FreeOnProcessed: freeOnProcessed,
		traceID:         id,
		sem:             semaphore.NewWeighted(1),
		state:           stateBuilding,
	}
}

// NewManifestContext builds a POST Manifest context (spec §4.2,
// "new_manifest"). The caller must hold fent's read lock for the
// duration of this call (spec §4.2, §9: "read-lock span during
// manifest serialization") — entry is a snapshot of its identity, not
// a live Handle, precisely so the lock can be released immediately
// after this call returns. gatewayID identifies the local gateway
// originating this write and becomes the snapshot's WriterID (spec §3);
// it is the engine's own identity, distinct from entry's VolumeID.
func NewManifestContext(entry *FsEntry, gatewayID uint64, codec ManifestCodec, signer Signer, sync bool) (*Context, error) {
	raw, err := codec.Serialize(entry)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrLocalIO, err)
	}
	snap := Snapshot{
		VolumeID:    entry.VolumeID,
		FileID:      entry.FileID,
		FileVersion: entry.Version,
		MtimeSec:    entry.MtimeSec,
		MtimeNsec:   entry.MtimeNsec,
		WriterID:    gatewayID,
		OwnerID:     entry.OwnerID,
	}
	ctx := newContext(snap, KindManifest, OpPost, ManifestPayload(raw), sync, false)
	if err := ctx.prepare(signer); err != nil {
		return nil, err
	}
	return ctx, nil
}

// NewBlockContext builds a POST Block context (spec §4.2,
// "new_block"): opens the local block file via store, reads it fully
// (see payload.go for why), and determines its size. gatewayID is the
// local gateway's identity; see NewManifestContext.
func NewBlockContext(entry *FsEntry, gatewayID uint64, blockID uint64, info BlockInfo, store BlockStore, signer Signer, sync bool) (*Context, error) {
	rc, _, err := store.Open(entry.FileID, entry.Version, blockID, info.Version, !entry.Local)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrLocalIO, err)
	}
	raw, err := readAllClose(rc)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrLocalIO, err)
	}
	snap := Snapshot{
		VolumeID:     entry.VolumeID,
		FileID:       entry.FileID,
		FileVersion:  entry.Version,
		BlockID:      blockID,
		BlockVersion: info.Version,
		MtimeSec:     entry.MtimeSec,
		MtimeNsec:    entry.MtimeNsec,
		WriterID:     gatewayID,
		OwnerID:      entry.OwnerID,
	}
	ctx := newContext(snap, KindBlock, OpPost, BlockPayload(raw), sync, false)
	if err := ctx.prepare(signer); err != nil {
		return nil, err
	}
	return ctx, nil
}

// NewGCManifestContext builds a DELETE Manifest context (spec §4.2,
// "new_gc_manifest"): fire-and-forget, owned by the worker.
func NewGCManifestContext(snap Snapshot, signer Signer) (*Context, error) {
	ctx := newContext(snap, KindManifest, OpDelete, nil, false, true)
	if err := ctx.prepare(signer); err != nil {
		return nil, err
	}
	return ctx, nil
}

// NewGCBlockContext builds a DELETE Block context (spec §4.2, "new_gc_block").
func NewGCBlockContext(snap Snapshot, signer Signer) (*Context, error) {
	ctx := newContext(snap, KindBlock, OpDelete, nil, false, true)
	if err := ctx.prepare(signer); err != nil {
		return nil, err
	}
	return ctx, nil
}

// prepare signs the request and assembles the multipart form (spec
// §4.1) exactly once, so every RG leg reuses identical bytes.
func (c *Context) prepare(signer Signer) error {
	var raw []byte
	if c.Payload != nil {
		raw = c.Payload.Bytes()
	}
	info, err := buildRequest(c.Snapshot, c.Kind, c.Op, raw, signer)
	if err != nil {
		return err
	}
	body, contentType, err := buildForm(info, c.Kind, c.Op, raw)
	if err != nil {
		return cmn.NewError(cmn.ErrLocalIO, err)
	}
	c.body = body.Bytes()
	c.contentType = contentType
	return nil
}

// acquire takes the processing_lock for the fan-out duration (spec
// §4.2 step 1). It always succeeds immediately: a freshly built
// context's semaphore starts available (I1: a context is in exactly
// one of building/pending/active/finished, and TransferSet.Submit is
// the sole caller, once).
func (c *Context) acquire() {
	_ = c.sem.Acquire(context.Background(), 1)
}

// release drops the processing_lock; the MultiTransferLoop calls this
// exactly once, when activeHandles becomes empty (I3).
func (c *Context) release() {
	debug.Assert(!c.released)
	c.released = true
	c.sem.Release(1)
}

// wait blocks until release() has been called or deadlineCtx expires.
func (c *Context) wait(deadlineCtx context.Context) error {
	return c.sem.Acquire(deadlineCtx, 1)
}

// setErr records the worst error observed so far across this
// context's fan-out legs (spec §4.2, §7: "the worst error wins").
func (c *Context) setErr(kind cmn.ErrKind) {
	c.err = cmn.Worse(c.err, kind)
}

func (c *Context) Err() cmn.ErrKind { return c.err }

func (c *Context) TraceID() string { return c.traceID }
