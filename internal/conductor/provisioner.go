package conductor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/contracts"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/rs/zerolog/log"
)

// AppBase is the fixed prefix used to build deterministic installed-app ids.
// It names the elohim hApp bundle installed on every conductor; only the
// conductor-id and user-identifier suffix vary.
const AppBase = "elohim"

// ProvisionedAgent is the result of a successful AgentProvisioner.Provision.
type ProvisionedAgent struct {
	AgentPubKeyURLSafe string
	AgentPubKeyStd     string
	ConductorID        string
	InstalledAppID     string
}

// AdminClientFor resolves a contracts.AdminClient for a conductor id. The
// provisioner takes this as a dependency rather than constructing clients
// itself, so tests can inject fakes.
type AdminClientFor func(conductorID string) (contracts.AdminClient, error)

// Provisioner implements provision_agent/deprovision_agent (spec.md §4.3).
type Provisioner struct {
	registry    *Registry
	adminFor    AdminClientFor
	happDNAPath string
	retry       backoff.BackOff
}

// NewProvisioner builds a Provisioner. happDNAPath is the hApp bundle path
// passed to install_app.
func NewProvisioner(registry *Registry, adminFor AdminClientFor, happDNAPath string) *Provisioner {
	return &Provisioner{
		registry:    registry,
		adminFor:    adminFor,
		happDNAPath: happDNAPath,
		retry:       backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
	}
}

// deterministicAppID builds "{app_base}-{conductor_id}-{hex(sha256(user_identifier)[0..3])}",
// a 6 hex-char suffix taken from the first 3 bytes of the digest.
func deterministicAppID(conductorID, userIdentifier string) string {
	sum := sha256.Sum256([]byte(userIdentifier))
	return fmt.Sprintf("%s-%s-%s", AppBase, conductorID, hex.EncodeToString(sum[:3]))
}

// Provision is idempotent: it first checks every known conductor for an
// existing installation before choosing a new one (spec.md §4.3).
func (p *Provisioner) Provision(ctx context.Context, userIdentifier string) (*ProvisionedAgent, error) {
	for _, c := range p.registry.AllConductors() {
		appID := deterministicAppID(c.ConductorID, userIdentifier)
		admin, err := p.adminFor(c.ConductorID)
		if err != nil {
			continue
		}
		installed, err := admin.GetAppInfo(ctx, appID)
		if err != nil {
			continue
		}
		if installed {
			return p.repairedAssignment(c.ConductorID, appID)
		}
	}

	chosen, ok := p.registry.LeastLoaded()
	if !ok {
		return nil, apperr.New(apperr.Unavailable, "no conductor has capacity")
	}

	admin, err := p.adminFor(chosen.ConductorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "ADMIN_UNAVAILABLE", "no admin client for chosen conductor", err)
	}
	appID := deterministicAppID(chosen.ConductorID, userIdentifier)

	var agentPubKey string
	err = backoff.Retry(func() error {
		var rErr error
		agentPubKey, rErr = admin.GenerateAgentPubKey(ctx)
		return rErr
	}, p.retry)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "PUBKEY_FAILED", "generate_agent_pub_key", err)
	}

	if err := admin.InstallApp(ctx, appID, agentPubKey, p.happDNAPath); err != nil {
		return nil, apperr.Wrap(apperr.Backend, "INSTALL_FAILED", "install_app", err)
	}

	if err := admin.EnableApp(ctx, appID); err != nil {
		if uninstallErr := admin.UninstallApp(ctx, appID); uninstallErr != nil {
			log.Warn().Err(uninstallErr).Str("app_id", appID).Msg("compensating uninstall_app failed after enable_app failure")
		}
		return nil, apperr.Wrap(apperr.Backend, "ENABLE_FAILED", "enable_app", err)
	}

	urlSafe := base64.URLEncoding.EncodeToString([]byte(agentPubKey))
	std := base64.StdEncoding.EncodeToString([]byte(agentPubKey))

	assignment := &models.AgentAssignment{
		AgentPubKeyURLSafe: urlSafe,
		AgentPubKeyStd:     std,
		ConductorID:        chosen.ConductorID,
		InstalledAppID:     appID,
	}
	p.registry.Bind(assignment)

	log.Info().Str("conductor_id", chosen.ConductorID).Str("app_id", appID).Msg("🧑‍🌾 agent provisioned")

	return &ProvisionedAgent{
		AgentPubKeyURLSafe: urlSafe,
		AgentPubKeyStd:     std,
		ConductorID:        chosen.ConductorID,
		InstalledAppID:     appID,
	}, nil
}

// repairedAssignment answers for an installation the provisioner discovered
// via get_app_info. It looks the installed app id up in the registry and,
// on a hit, returns that binding; on a miss it returns only the conductor
// id and installed app id, with empty pubkey fields. It does not write to
// the registry, so a discovered installation that has no binding stays
// unbound.
func (p *Provisioner) repairedAssignment(conductorID, appID string) (*ProvisionedAgent, error) {
	if existing, ok := p.registry.Lookup(appID); ok {
		return &ProvisionedAgent{
			AgentPubKeyURLSafe: existing.AgentPubKeyURLSafe,
			AgentPubKeyStd:     existing.AgentPubKeyStd,
			ConductorID:        existing.ConductorID,
			InstalledAppID:     existing.InstalledAppID,
		}, nil
	}
	return &ProvisionedAgent{ConductorID: conductorID, InstalledAppID: appID}, nil
}

// Deprovision looks up the binding, uninstalls on the owning conductor, and
// removes the mapping. A missing binding is an error (spec.md §4.3).
func (p *Provisioner) Deprovision(ctx context.Context, agentPubKeyEncoding string) error {
	assignment, ok := p.registry.Lookup(agentPubKeyEncoding)
	if !ok {
		return apperr.New(apperr.NotFound, "no binding for agent pubkey")
	}

	admin, err := p.adminFor(assignment.ConductorID)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "ADMIN_UNAVAILABLE", "no admin client for owning conductor", err)
	}
	if err := admin.UninstallApp(ctx, assignment.InstalledAppID); err != nil {
		return apperr.Wrap(apperr.Backend, "UNINSTALL_FAILED", "uninstall_app", err)
	}

	p.registry.Unbind(assignment)
	return nil
}
