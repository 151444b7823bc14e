package replicate

import (
	"context"
	"io"
	"sync"
)

// FsEntry is the minimal view of a filesystem entry the engine needs
// in order to build a ReplicaContext; the rest of an entry's state
// (directory listings, extended attributes, rename/unlink machinery)
// belongs to FsEntryStore and is out of scope (spec §1).
type FsEntry struct {
	VolumeID  uint64
	FileID    uint64
	Version   int64
	OwnerID   uint64
	MtimeSec  int64
	MtimeNsec int64
	Local     bool // true: canonical block path; false: staging (spec §4.2, supplemented feature)
}

// BlockInfo names one block's current version within a file.
type BlockInfo struct {
	Version int64
}

// FsEntryStore is the out-of-scope collaborator that owns filesystem
// entries. ReplicaContext construction requires the entry to be at
// least read-locked for its duration (spec §4.2); RLock/RUnlock model
// that without exposing the rest of the entry's API.
type FsEntryStore interface {
	RLock(fileID uint64) (*FsEntry, error)
	RUnlock(fileID uint64)
}

// ManifestCodec is the out-of-scope collaborator that serializes a
// file's block-layout manifest to bytes (spec §6).
type ManifestCodec interface {
	Serialize(entry *FsEntry) ([]byte, error)
}

// BlockStore is the out-of-scope collaborator that opens a local
// block file for reading, canonical or staging depending on whether
// the entry is locally hosted (spec §4.2, §6).
type BlockStore interface {
	Open(fileID uint64, fileVersion int64, blockID uint64, blockVersion int64, staging bool) (io.ReadCloser, int64, error)
}

// Signer is the out-of-scope collaborator holding the local gateway's
// private key; Sign returns the raw signature bytes over data (spec
// §4.1 — callers base64-encode before populating the wire envelope).
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// MSClient is the out-of-scope metadata-service client that enumerates
// a volume's replica gateways and resolves their content URLs (spec §6).
type MSClient interface {
	ListRGIDs(ctx context.Context, volumeID uint64) ([]string, error)
	RGContentURL(ctx context.Context, rgID string) (string, error)
}

// FileHandle is the collaborator interface the engine exposes, not
// consumes (spec §6, "file-handle shim"): callers that batch several
// async submissions against one open file hold one of these. Async
// replicate_manifest/replicate_blocks calls push the resulting Handle
// onto pending_contexts; WaitAll (spec's wait_and_free over a list)
// drains it and folds the worst error across the whole batch.
type FileHandle struct {
	mu      sync.Mutex
	pending []Handle
}

func NewFileHandle() *FileHandle {
	return &FileHandle{}
}

// push appends h to pending_contexts; called only by the engine, on
// async submission.
func (fh *FileHandle) push(h Handle) {
	fh.mu.Lock()
	fh.pending = append(fh.pending, h)
	fh.mu.Unlock()
}

// drain empties pending_contexts and returns what it held.
func (fh *FileHandle) drain() []Handle {
	fh.mu.Lock()
	out := fh.pending
	fh.pending = nil
	fh.mu.Unlock()
	return out
}
