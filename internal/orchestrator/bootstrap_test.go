package orchestrator

import (
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_AnnounceRegistersAndProvisionsNode(t *testing.T) {
	var provisioned []string
	o, err := New(Config{
		Provision: func(n *models.NodeInfo) (string, error) {
			provisioned = append(provisioned, n.NodeID)
			return "creds", nil
		},
	})
	require.NoError(t, err)

	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "node-1", Region: "us-west"})

	node, ok := o.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, models.NodeOnline, node.Status)
	assert.True(t, node.Provisioned)
	assert.Equal(t, []string{"node-1"}, provisioned)
}

func TestOrchestrator_AnnounceTwiceIsUpdateOnlyPath(t *testing.T) {
	calls := 0
	o, err := New(Config{
		Provision: func(n *models.NodeInfo) (string, error) { calls++; return "creds", nil },
	})
	require.NoError(t, err)

	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "node-1", Region: "us-west"})
	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "node-1", Region: "us-east"})

	assert.Equal(t, 1, calls, "second announce for an existing node must not re-provision")
	node, _ := o.Get("node-1")
	assert.Equal(t, "us-east", node.Region)
}

func TestOrchestrator_DeregisterRemovesNode(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)
	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "node-1"})
	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "deregister", NodeID: "node-1"})

	_, ok := o.Get("node-1")
	assert.False(t, ok)
}

func TestOrchestrator_UnknownMsgTypeIgnored(t *testing.T) {
	o, err := New(Config{})
	require.NoError(t, err)
	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "explode", NodeID: "node-1"})
	_, ok := o.Get("node-1")
	assert.False(t, ok)
}

func TestOrchestrator_VersionGatingRejectsIncompatibleAnnounce(t *testing.T) {
	o, err := New(Config{MinAgentVersion: ">=1.0.0"})
	require.NoError(t, err)

	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "old-node", Version: "0.5.0"})
	_, ok := o.Get("old-node")
	assert.False(t, ok)

	o.HandleInventoryMessage(models.InventoryMessage{MsgType: "announce", NodeID: "new-node", Version: "1.2.0"})
	_, ok = o.Get("new-node")
	assert.True(t, ok)
}
