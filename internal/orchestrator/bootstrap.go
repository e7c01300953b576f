// Package orchestrator implements NodeBootstrap and the orchestrator's node
// registry (spec.md §4.11), adapted from the teacher's workflow.Engine
// run/step/progress-broadcast shape generalized to "node announce/update/
// deregister".
package orchestrator

import (
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/contracts"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/rs/zerolog/log"
)

// ProvisionFunc registers a node with the control DNA and returns
// credentials to hand back to the announcing node (spec.md §4.11 step
// "register with the control DNA, provision credentials").
type ProvisionFunc func(node *models.NodeInfo) (credentials string, err error)

// AssignFunc triggers custodian assignment for a newly provisioned node
// whose NodeInfo.AutoAssign is true. handleAnnounce builds NodeInfo from an
// InventoryMessage, which carries no auto-assign field, so AutoAssign stays
// false and HandleInventoryMessage does not call an AssignFunc.
type AssignFunc func(node *models.NodeInfo)

// Orchestrator tracks node lifecycle state and gates announcements on a
// minimum compatible agent version (spec.md §4.11).
type Orchestrator struct {
	mu    sync.RWMutex
	nodes map[string]*models.NodeInfo

	scorer      contracts.NodeHealthScorer
	minVersion  *semver.Constraints
	provision   ProvisionFunc
	onAutoAssign AssignFunc
}

// Config configures an Orchestrator.
type Config struct {
	Scorer          contracts.NodeHealthScorer
	MinAgentVersion string // semver constraint, e.g. ">=0.3.0"
	Provision       ProvisionFunc
	OnAutoAssign    AssignFunc
}

// New builds an Orchestrator. An empty MinAgentVersion disables compatibility gating.
func New(cfg Config) (*Orchestrator, error) {
	o := &Orchestrator{
		nodes:        make(map[string]*models.NodeInfo),
		scorer:       cfg.Scorer,
		provision:    cfg.Provision,
		onAutoAssign: cfg.OnAutoAssign,
	}
	if o.scorer == nil {
		o.scorer = contracts.DefaultHealthScorer{}
	}
	if cfg.MinAgentVersion != "" {
		c, err := semver.NewConstraint(cfg.MinAgentVersion)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "BAD_CONSTRAINT", "invalid minimum agent version constraint", err)
		}
		o.minVersion = c
	}
	return o, nil
}

// HandleInventoryMessage dispatches an announce/update/deregister message
// (spec.md §4.11). Unknown msg_type is warned and ignored.
func (o *Orchestrator) HandleInventoryMessage(msg models.InventoryMessage) {
	switch msg.MsgType {
	case "announce":
		o.handleAnnounce(msg)
	case "update":
		o.handleUpdate(msg)
	case "deregister":
		o.handleDeregister(msg)
	default:
		log.Warn().Str("msg_type", msg.MsgType).Str("node_id", msg.NodeID).Msg("orchestrator: unknown inventory message type, ignoring")
	}
}

func (o *Orchestrator) handleAnnounce(msg models.InventoryMessage) {
	o.mu.Lock()
	existing, already := o.nodes[msg.NodeID]
	o.mu.Unlock()

	if already {
		o.applyUpdate(existing, msg)
		return
	}

	if o.minVersion != nil && msg.Version != "" {
		v, err := semver.NewVersion(msg.Version)
		if err != nil || !o.minVersion.Check(v) {
			log.Warn().Str("node_id", msg.NodeID).Str("version", msg.Version).Msg("orchestrator: node version incompatible, rejecting announce")
			return
		}
	}

	node := &models.NodeInfo{
		NodeID:  msg.NodeID,
		Region:  msg.Region,
		Status:  models.NodeRegistering,
		AgentVer: msg.Version,
	}

	o.mu.Lock()
	o.nodes[msg.NodeID] = node
	o.mu.Unlock()

	if o.provision != nil {
		if _, err := o.provision(node); err != nil {
			log.Error().Err(err).Str("node_id", msg.NodeID).Msg("orchestrator: node provisioning failed")
			o.mu.Lock()
			node.Status = models.NodeFailed
			o.mu.Unlock()
			return
		}
	}

	o.mu.Lock()
	node.Status = models.NodeOnline
	node.Provisioned = true
	o.mu.Unlock()

	if node.AutoAssign && o.onAutoAssign != nil {
		o.onAutoAssign(node)
	}
}

func (o *Orchestrator) handleUpdate(msg models.InventoryMessage) {
	o.mu.Lock()
	node, ok := o.nodes[msg.NodeID]
	o.mu.Unlock()
	if !ok {
		log.Warn().Str("node_id", msg.NodeID).Msg("orchestrator: update for unknown node, ignoring")
		return
	}
	o.applyUpdate(node, msg)
}

func (o *Orchestrator) applyUpdate(node *models.NodeInfo, msg models.InventoryMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if msg.Region != "" {
		node.Region = msg.Region
	}
	if msg.Version != "" {
		node.AgentVer = msg.Version
	}
}

func (o *Orchestrator) handleDeregister(msg models.InventoryMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.nodes, msg.NodeID)
}

// Get returns a node by id.
func (o *Orchestrator) Get(nodeID string) (*models.NodeInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n, ok := o.nodes[nodeID]
	return n, ok
}

// NodesByStatus returns a snapshot of every node with the given status.
func (o *Orchestrator) NodesByStatus(status models.NodeHealthStatus) []*models.NodeInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*models.NodeInfo
	for _, n := range o.nodes {
		if n.Status == status {
			out = append(out, n)
		}
	}
	return out
}

// HealthScore blends availability with trust/impact via the configured
// scorer (spec.md §4.11).
func (o *Orchestrator) HealthScore(nodeID string) (float64, bool) {
	node, ok := o.Get(nodeID)
	if !ok {
		return 0, false
	}
	return o.scorer.Score(node), true
}
