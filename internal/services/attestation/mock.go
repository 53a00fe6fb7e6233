package attestation

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"veritrace-system/internal/apperr"
)

// MockDocumentStore derives CIDs from content hashes and keeps blobs in
// memory. CIDs are deterministic: the same bytes always yield the same CID.
type MockDocumentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{blobs: make(map[string][]byte)}
}

// DeriveCID returns the mock CIDv0-style handle for content: "Qm" plus the
// first 44 hex chars of the blake3 digest.
func DeriveCID(content []byte) string {
	sum := blake3.Sum256(content)
	return "Qm" + hex.EncodeToString(sum[:])[:44]
}

// ContentHash returns the full hex blake3 digest used as a file hash.
func ContentHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *MockDocumentStore) Store(ctx context.Context, content []byte) (string, error) {
	cid := DeriveCID(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[cid] = append([]byte(nil), content...)
	return cid, nil
}

func (s *MockDocumentStore) Fetch(ctx context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.blobs[cid]
	if !ok {
		return nil, apperr.E(apperr.ErrNotFound, "no document stored for CID %s", cid)
	}
	return append([]byte(nil), content...), nil
}

func (s *MockDocumentStore) Unpin(ctx context.Context, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[cid]; !ok {
		return apperr.E(apperr.ErrNotFound, "no document stored for CID %s", cid)
	}
	delete(s.blobs, cid)
	return nil
}

// MockLedger commits records as deterministic hashes of their sorted fields
// plus a timestamp, and tracks ownership in memory.
type MockLedger struct {
	mu      sync.RWMutex
	owners  map[string]map[string]bool // owner -> cid set
	byHash  map[string]string          // file_hash -> cid
	commits map[string]map[string]string
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		owners:  make(map[string]map[string]bool),
		byHash:  make(map[string]string),
		commits: make(map[string]map[string]string),
	}
}

func (l *MockLedger) Commit(ctx context.Context, record map[string]string) (string, error) {
	if len(record) == 0 {
		return "", apperr.E(apperr.ErrCommitmentFailed, "empty ledger record")
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, record[k])
	}
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	tx := "0x" + hex.EncodeToString(h.Sum(nil))[:64]

	l.mu.Lock()
	defer l.mu.Unlock()

	if owner, ok := record["owner"]; ok {
		if cid, ok := record["cid"]; ok {
			if l.owners[owner] == nil {
				l.owners[owner] = make(map[string]bool)
			}
			l.owners[owner][cid] = true
		}
	}
	if fileHash, ok := record["file_hash"]; ok {
		if cid, ok := record["cid"]; ok {
			l.byHash[fileHash] = cid
		}
	}
	l.commits[tx] = record

	return tx, nil
}

func (l *MockLedger) VerifyOwnership(ctx context.Context, owner, cid string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owners[owner][cid], nil
}

func (l *MockLedger) LookupByHash(ctx context.Context, fileHash string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cid, ok := l.byHash[fileHash]
	if !ok {
		return "", apperr.E(apperr.ErrNotFound, "no ledger record for hash %s", fileHash)
	}
	return cid, nil
}

func (l *MockLedger) Remove(ctx context.Context, owner, cid string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.owners[owner][cid] {
		return "", apperr.E(apperr.ErrNotFound, "owner %s has no record for CID %s", owner, cid)
	}
	delete(l.owners[owner], cid)
	for h, c := range l.byHash {
		if c == cid {
			delete(l.byHash, h)
		}
	}

	record := map[string]string{"op": "remove", "owner": owner, "cid": cid}
	h := blake3.New()
	fmt.Fprintf(h, "remove;%s;%s;%d", owner, cid, time.Now().UnixNano())
	tx := "0x" + hex.EncodeToString(h.Sum(nil))[:64]
	l.commits[tx] = record
	return tx, nil
}
