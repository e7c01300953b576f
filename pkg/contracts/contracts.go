// Package contracts defines the interfaces that bound Doorway's core: the
// conductor runtime, the storage-peer network, and the policy/governance
// engine are all external collaborators reached only through the typed
// contracts here (spec.md §1's "out of scope" list).
package contracts

import (
	"context"

	"github.com/ethosengine/doorway/pkg/models"
)

// DurableStore is the second tier of the ProjectionStore: a pluggable
// document store. Any engine providing these operations with the stated
// semantics is acceptable (spec.md §9, "Pluggable durable store") — nothing
// in the core depends on a particular index type.
type DurableStore interface {
	Upsert(ctx context.Context, doc *models.ProjectedDocument) error
	Get(ctx context.Context, docType, id string) (*models.ProjectedDocument, error)
	Delete(ctx context.Context, docType, id string) error
	QueryByType(ctx context.Context, docType string, limit int) ([]*models.ProjectedDocument, error)
	UpdateBlobEndpoints(ctx context.Context, blobHash string, endpoints []string) (int, error)
	Invalidate(ctx context.Context, pattern string) error
	Close() error
}

// ByteCache is the legacy REST response cache (spec.md §4.6 step 4): a
// distributed or in-process byte store keyed by a stable cache key, with a
// TTL. Both the Redis-backed and in-memory implementations share this
// interface so the REST layer never branches on backend.
type ByteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSecs int) error
	Invalidate(ctx context.Context, pattern string) error
}

// ShardFetcher retrieves the raw bytes of one shard from a storage peer
// endpoint. Implemented over plain HTTP GET; kept as an interface so tests
// can substitute a fake without a listening server.
type ShardFetcher interface {
	FetchShard(ctx context.Context, endpointURL string) ([]byte, error)
}

// ReplicationTransfer moves bytes from a source custodian to a target
// custodian. The coordinator never touches bytes itself (spec.md §4.10) —
// this is the external blob mover it delegates to.
type ReplicationTransfer interface {
	Transfer(ctx context.Context, req *models.ReplicateContentRequest, sourceAgentID string) error
}

// NoopReplicationTransfer is the zero-config default: it always succeeds
// immediately, letting Doorway run standalone before a real mover is wired
// in (mirrors the teacher's CommunityTierEnforcer no-op default).
type NoopReplicationTransfer struct{}

func (NoopReplicationTransfer) Transfer(ctx context.Context, req *models.ReplicateContentRequest, sourceAgentID string) error {
	return nil
}

// NodeHealthScorer blends availability with a social/trust score published
// by the control DNA into a single [0,1] ranking (spec.md §4.11). The
// scoring function is pluggable; the core uses it only to order candidates.
type NodeHealthScorer interface {
	Score(node *models.NodeInfo) float64
}

// DefaultHealthScorer implements the blend named in spec.md §4.11: equal
// weight between online/offline availability and a normalised trust signal.
type DefaultHealthScorer struct{}

func (DefaultHealthScorer) Score(node *models.NodeInfo) float64 {
	availability := 0.0
	switch node.Status {
	case models.NodeOnline:
		availability = 1.0
	case models.NodeDegraded:
		availability = 0.5
	}

	trust := node.TrustScore
	if trust < 0 {
		trust = 0
	}
	if trust > 1 {
		trust = 1
	}
	impact := node.ImpactScore
	if impact < 0 {
		impact = 0
	}
	if impact > 1 {
		impact = 1
	}

	social := (trust + impact) / 2
	return (availability + social) / 2
}

// AdminClient is the subset of the conductor's admin interface the core
// depends on (spec.md §6). Implemented by internal/conductor against the
// real admin WebSocket; a fake is used in tests.
type AdminClient interface {
	IssueAppAuthenticationToken(ctx context.Context, installedAppID string, expirySecs int) (string, error)
	GenerateAgentPubKey(ctx context.Context) (string, error)
	InstallApp(ctx context.Context, installedAppID, agentPubKey, path string) error
	EnableApp(ctx context.Context, installedAppID string) error
	UninstallApp(ctx context.Context, installedAppID string) error
	ListApps(ctx context.Context) ([]string, error)
	GetAppInfo(ctx context.Context, installedAppID string) (bool, error)
}
