// Package replication implements ReplicationCoordinator (spec.md §4.10),
// adapted from the teacher's internal/workflow/engine.go run/step/progress
// shape generalized from "recipe step" to "replication transfer".
package replication

import (
	"context"
	"sync"

	"github.com/ethosengine/doorway/internal/orchestrator"
	"github.com/ethosengine/doorway/internal/telemetry"
	"github.com/ethosengine/doorway/pkg/contracts"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/rs/zerolog/log"
)

// ProgressSink receives ReplicationProgress updates as a transfer runs.
type ProgressSink func(models.ReplicationProgress)

// Coordinator drives ReplicateContentRequest flows (spec.md §4.10). It
// never touches bytes itself; that is delegated to a
// pkg/contracts.ReplicationTransfer.
type Coordinator struct {
	orch     *orchestrator.Orchestrator
	transfer contracts.ReplicationTransfer
	metrics  *telemetry.Metrics

	mu     sync.Mutex
	byNode map[string][]*models.ReplicationProgress // node_id -> tracked assignments
}

// SetMetrics attaches the Prometheus collectors the coordinator records
// per-content-id replication percent to. A nil metrics is a safe no-op.
func (c *Coordinator) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

// NewCoordinator builds a Coordinator. transfer defaults to a no-op when nil.
func NewCoordinator(orch *orchestrator.Orchestrator, transfer contracts.ReplicationTransfer) *Coordinator {
	if transfer == nil {
		transfer = contracts.NoopReplicationTransfer{}
	}
	return &Coordinator{
		orch:     orch,
		transfer: transfer,
		byNode:   make(map[string][]*models.ReplicationProgress),
	}
}

// Replicate runs the flow in spec.md §4.10: select a healthy source, emit
// Pending, initiate transfer, emit Complete or Failed.
func (c *Coordinator) Replicate(ctx context.Context, req *models.ReplicateContentRequest, sink ProgressSink) {
	source, ok := c.selectHealthySource(req.FromCustodians)
	if !ok {
		c.emit(req.ToCustodian, req.ContentID, sink, models.ReplicationProgress{
			ContentID: req.ContentID,
			Status:    models.ReplicationFailed,
			Error:     "no healthy source custodian available",
		})
		return
	}

	c.emit(req.ToCustodian, req.ContentID, sink, models.ReplicationProgress{
		ContentID: req.ContentID,
		Status:    models.ReplicationPending,
	})

	if err := c.transfer.Transfer(ctx, req, source); err != nil {
		log.Error().Err(err).Str("content_id", req.ContentID).Msg("replication transfer failed")
		c.emit(req.ToCustodian, req.ContentID, sink, models.ReplicationProgress{
			ContentID: req.ContentID,
			Status:    models.ReplicationFailed,
			Error:     err.Error(),
		})
		return
	}

	c.emit(req.ToCustodian, req.ContentID, sink, models.ReplicationProgress{
		ContentID: req.ContentID,
		Status:    models.ReplicationComplete,
		Percent:   100,
	})
}

// selectHealthySource picks the first candidate whose node status is Online
// (spec.md §4.10 step 1).
func (c *Coordinator) selectHealthySource(candidates []string) (string, bool) {
	for _, id := range candidates {
		if node, ok := c.orch.Get(id); ok && node.Status == models.NodeOnline {
			return id, true
		}
	}
	return "", false
}

func (c *Coordinator) emit(nodeID, contentID string, sink ProgressSink, progress models.ReplicationProgress) {
	c.mu.Lock()
	c.byNode[nodeID] = append(c.byNode[nodeID], &progress)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ReplicationProgress.WithLabelValues(contentID).Set(float64(progress.Percent))
	}

	if sink != nil {
		sink(progress)
	}
}

// CalculateRecoverySummary aggregates per-assignment progress tracked for
// failedNodeID into a dashboard-ready summary (spec.md §4.10).
func (c *Coordinator) CalculateRecoverySummary(failedNodeID string) models.RecoverySummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byNode[failedNodeID]
	summary := models.RecoverySummary{Total: len(entries)}
	for _, p := range entries {
		switch p.Status {
		case models.ReplicationComplete:
			summary.Recovered++
		case models.ReplicationFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	if summary.Total > 0 {
		summary.RecoveryPercent = 100 * float64(summary.Recovered) / float64(summary.Total)
	}
	return summary
}
