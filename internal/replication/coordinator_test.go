package replication

import (
	"context"
	"testing"

	"github.com/ethosengine/doorway/internal/orchestrator"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransfer struct {
	fail bool
}

func (f *fakeTransfer) Transfer(ctx context.Context, req *models.ReplicateContentRequest, sourceAgentID string) error {
	if f.fail {
		return assert.AnError
	}
	return nil
}

func onlineOrchestrator(t *testing.T, nodeIDs ...string) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Config{})
	require.NoError(t, err)
	for _, id := range nodeIDs {
		o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: id})
	}
	return o
}

func TestCoordinator_ReplicateSucceeds(t *testing.T) {
	o := onlineOrchestrator(t, "source-1")
	c := NewCoordinator(o, &fakeTransfer{})

	var progress []models.ReplicationProgress
	c.Replicate(context.Background(), &models.ReplicateContentRequest{
		ContentID:      "content-1",
		FromCustodians: []string{"source-1"},
		ToCustodian:    "target-1",
	}, func(p models.ReplicationProgress) { progress = append(progress, p) })

	require.Len(t, progress, 2)
	assert.Equal(t, models.ReplicationPending, progress[0].Status)
	assert.Equal(t, models.ReplicationComplete, progress[1].Status)
	assert.Equal(t, 100, progress[1].Percent)
}

func TestCoordinator_NoHealthySourceFailsImmediately(t *testing.T) {
	o := onlineOrchestrator(t)
	c := NewCoordinator(o, &fakeTransfer{})

	var progress []models.ReplicationProgress
	c.Replicate(context.Background(), &models.ReplicateContentRequest{
		ContentID:      "content-1",
		FromCustodians: []string{"unknown-source"},
		ToCustodian:    "target-1",
	}, func(p models.ReplicationProgress) { progress = append(progress, p) })

	require.Len(t, progress, 1)
	assert.Equal(t, models.ReplicationFailed, progress[0].Status)
}

func TestCoordinator_TransferFailureEmitsFailed(t *testing.T) {
	o := onlineOrchestrator(t, "source-1")
	c := NewCoordinator(o, &fakeTransfer{fail: true})

	var progress []models.ReplicationProgress
	c.Replicate(context.Background(), &models.ReplicateContentRequest{
		ContentID:      "content-1",
		FromCustodians: []string{"source-1"},
		ToCustodian:    "target-1",
	}, func(p models.ReplicationProgress) { progress = append(progress, p) })

	require.Len(t, progress, 2)
	assert.Equal(t, models.ReplicationFailed, progress[1].Status)
	assert.NotEmpty(t, progress[1].Error)
}

func TestCoordinator_CalculateRecoverySummary(t *testing.T) {
	o := onlineOrchestrator(t, "source-1")
	c := NewCoordinator(o, &fakeTransfer{})

	c.Replicate(context.Background(), &models.ReplicateContentRequest{ContentID: "c1", FromCustodians: []string{"source-1"}, ToCustodian: "target-1"}, nil)
	c.Replicate(context.Background(), &models.ReplicateContentRequest{ContentID: "c2", FromCustodians: []string{"source-1"}, ToCustodian: "target-1"}, nil)
	c.Replicate(context.Background(), &models.ReplicateContentRequest{ContentID: "c3", FromCustodians: []string{"missing"}, ToCustodian: "target-1"}, nil)

	summary := c.CalculateRecoverySummary("target-1")
	// Each successful replicate tracks 2 entries (Pending, Complete); the
	// failed one tracks 1 (Failed) — 5 entries total under "target-1".
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Recovered)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, 1, summary.Failed)
}
