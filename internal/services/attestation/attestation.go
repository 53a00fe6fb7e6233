// Package attestation defines the external-proof collaborators every domain
// write depends on: a content-addressed document store and a ledger that
// commits proof-of-record entries. The commit protocols in the batch,
// traceability and storage services only see these interfaces; the mock
// implementations in this package stand in for real IPFS and chain clients.
package attestation

import (
	"context"
	"fmt"
	"strings"
)

// DocumentStore stores immutable blobs addressed by CID.
type DocumentStore interface {
	// Store persists content and returns its CID.
	Store(ctx context.Context, content []byte) (string, error)
	// Fetch returns the content for a CID.
	Fetch(ctx context.Context, cid string) ([]byte, error)
	// Unpin releases the content for a CID.
	Unpin(ctx context.Context, cid string) error
}

// Ledger commits proof-of-record entries and answers ownership queries.
// Commit must return an error on failure; an empty handle is never success.
type Ledger interface {
	// Commit writes a record and returns the transaction handle proving it.
	Commit(ctx context.Context, record map[string]string) (string, error)
	// VerifyOwnership reports whether owner committed a record for cid.
	VerifyOwnership(ctx context.Context, owner, cid string) (bool, error)
	// LookupByHash resolves the CID committed for a content hash.
	LookupByHash(ctx context.Context, fileHash string) (string, error)
	// Remove revokes owner's record for cid and returns the transaction handle.
	Remove(ctx context.Context, owner, cid string) (string, error)
}

// ValidCID reports whether a caller-supplied document handle looks like a
// CIDv0 ("Qm...") or CIDv1 ("bafy...") content address. Only the prefix is
// checked; resolution is the document store's problem.
func ValidCID(cid string) bool {
	return strings.HasPrefix(cid, "Qm") || strings.HasPrefix(cid, "bafy")
}

// ViewLink returns the public gateway URL for a CID.
func ViewLink(gatewayURL, cid string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(gatewayURL, "/"), cid)
}
