package replicate

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// fsBlockStore is the reference local BlockStore: blocks live under
// <root>/blocks (canonical) or <root>/staging (spec §4.2, "staging vs
// canonical block paths", recovered from libsyndicate/storage.h). It
// exists so the engine's tests can exercise begin()'s local-IO path
// without a real gateway's on-disk layout.
type fsBlockStore struct {
	root string
}

func NewFSBlockStore(root string) BlockStore {
	return &fsBlockStore{root: root}
}

func (s *fsBlockStore) blockPath(fileID uint64, fileVersion int64, blockID uint64, blockVersion int64, staging bool) string {
	sub := "blocks"
	if staging {
		sub = "staging"
	}
	return filepath.Join(s.root, sub, fmt.Sprintf("%x.%d.%x.%d", fileID, fileVersion, blockID, blockVersion))
}

func (s *fsBlockStore) Open(fileID uint64, fileVersion int64, blockID uint64, blockVersion int64, staging bool) (io.ReadCloser, int64, error) {
	path := s.blockPath(fileID, fileVersion, blockID, blockVersion, staging)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size, nil
}

// rsaSigner is the reference Signer: RSA-PSS over SHA-256, the
// standard-library primitive spec.md names directly (§4.1, "signed
// with the local gateway's private key").
type rsaSigner struct {
	key *rsa.PrivateKey
}

func NewRSASigner(key *rsa.PrivateKey) Signer { return &rsaSigner{key: key} }

func (s *rsaSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], nil)
}

// jsonManifestCodec is the reference ManifestCodec: a JSON rendering
// of the entry's identity, sufficient for tests that only need stable,
// hashable bytes — the real codec (out of scope) encodes full block
// layout and per-block checksums.
type jsonManifestCodec struct{}

func NewJSONManifestCodec() ManifestCodec { return jsonManifestCodec{} }

func (jsonManifestCodec) Serialize(entry *FsEntry) ([]byte, error) {
	return json.Marshal(entry)
}

// staticMSClient is the reference MSClient: a fixed RG list and URL
// table, standing in for the real metadata service.
type staticMSClient struct {
	mu    sync.RWMutex
	rgIDs []string
	urls  map[string]string
}

func NewStaticMSClient(urls map[string]string) MSClient {
	ids := make([]string, 0, len(urls))
	for id := range urls {
		ids = append(ids, id)
	}
	return &staticMSClient{rgIDs: ids, urls: urls}
}

func (c *staticMSClient) ListRGIDs(context.Context, uint64) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.rgIDs))
	copy(out, c.rgIDs)
	return out, nil
}

func (c *staticMSClient) RGContentURL(_ context.Context, rgID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.urls[rgID]
	if !ok {
		return "", fmt.Errorf("replicate: unknown rg %q", rgID)
	}
	return url, nil
}

// memFsEntryStore is the reference FsEntryStore: entries held in
// memory, locked with a per-file mutex.
type memFsEntryStore struct {
	mu      sync.Mutex
	entries map[uint64]*FsEntry
	locks   map[uint64]*sync.RWMutex
}

func NewMemFsEntryStore() *memFsEntryStore {
	return &memFsEntryStore{
		entries: make(map[uint64]*FsEntry),
		locks:   make(map[uint64]*sync.RWMutex),
	}
}

func (s *memFsEntryStore) Put(e *FsEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.FileID] = e
	if _, ok := s.locks[e.FileID]; !ok {
		s.locks[e.FileID] = &sync.RWMutex{}
	}
}

func (s *memFsEntryStore) RLock(fileID uint64) (*FsEntry, error) {
	s.mu.Lock()
	lk, ok := s.locks[fileID]
	entry := s.entries[fileID]
	s.mu.Unlock()
	if !ok || entry == nil {
		return nil, fmt.Errorf("replicate: unknown file %x", fileID)
	}
	lk.RLock()
	return entry, nil
}

func (s *memFsEntryStore) RUnlock(fileID uint64) {
	s.mu.Lock()
	lk := s.locks[fileID]
	s.mu.Unlock()
	if lk != nil {
		lk.RUnlock()
	}
}
