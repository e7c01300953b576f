package conductor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/internal/transport"
)

// AdminClient implements pkg/contracts.AdminClient over a short-lived
// connection to a conductor's admin interface. Each call dials fresh rather
// than holding a long-lived admin session, mirroring how rarely these
// operations run relative to call_zome traffic.
type AdminClient struct {
	adminURL string
	timeout  time.Duration
}

// NewAdminClient builds a client bound to one conductor's admin interface.
func NewAdminClient(adminURL string, timeout time.Duration) *AdminClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AdminClient{adminURL: adminURL, timeout: timeout}
}

func (a *AdminClient) call(ctx context.Context, reqType string, value interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, a.adminURL)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "ADMIN_CONNECT_FAILED", "connect to admin interface", err)
	}
	defer conn.Close()

	dispatcher := transport.NewDispatcher(conn)
	go dispatcher.Run()

	env, err := dispatcher.Call(ctx, reqType, value)
	if err != nil {
		return err
	}
	if out != nil {
		if _, err := transport.DecodeInner(env.Data, out); err != nil {
			return apperr.Wrap(apperr.Backend, "DECODE_FAILED", "decode admin response", err)
		}
	}
	return nil
}

// issueAppAuthToken requests a finite-expiry, multi-use app authentication
// token (spec.md §4.1 step 1).
func issueAppAuthToken(ctx context.Context, adminURL, installedAppID string, expirySecs int) (string, error) {
	c := NewAdminClient(adminURL, 10*time.Second)
	return c.IssueAppAuthenticationToken(ctx, installedAppID, expirySecs)
}

type tokenResponse struct {
	Token string `msgpack:"token"`
}

func (a *AdminClient) IssueAppAuthenticationToken(ctx context.Context, installedAppID string, expirySecs int) (string, error) {
	var resp tokenResponse
	err := a.call(ctx, "issue_app_authentication_token", map[string]interface{}{
		"installed_app_id": installedAppID,
		"single_use":       false,
		"expiry_seconds":   expirySecs,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", apperr.New(apperr.Backend, "conductor returned empty app authentication token")
	}
	return resp.Token, nil
}

type pubKeyResponse struct {
	AgentPubKey string `msgpack:"agent_pub_key"`
}

func (a *AdminClient) GenerateAgentPubKey(ctx context.Context) (string, error) {
	var resp pubKeyResponse
	if err := a.call(ctx, "generate_agent_pub_key", nil, &resp); err != nil {
		return "", err
	}
	return resp.AgentPubKey, nil
}

func (a *AdminClient) InstallApp(ctx context.Context, installedAppID, agentPubKey, path string) error {
	return a.call(ctx, "install_app", map[string]interface{}{
		"installed_app_id": installedAppID,
		"agent_key":        agentPubKey,
		"path":             path,
	}, nil)
}

func (a *AdminClient) EnableApp(ctx context.Context, installedAppID string) error {
	return a.call(ctx, "enable_app", map[string]interface{}{
		"installed_app_id": installedAppID,
	}, nil)
}

func (a *AdminClient) UninstallApp(ctx context.Context, installedAppID string) error {
	return a.call(ctx, "uninstall_app", map[string]interface{}{
		"installed_app_id": installedAppID,
	}, nil)
}

type listAppsResponse struct {
	Apps []string `msgpack:"apps"`
}

func (a *AdminClient) ListApps(ctx context.Context) ([]string, error) {
	var resp listAppsResponse
	if err := a.call(ctx, "list_apps", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Apps, nil
}

type appInfoResponse struct {
	Installed bool `msgpack:"installed"`
}

// GetAppInfo reports whether installedAppID exists on this conductor. Used
// by AgentProvisioner's idempotence check (spec.md §4.3 step 1).
func (a *AdminClient) GetAppInfo(ctx context.Context, installedAppID string) (bool, error) {
	var resp appInfoResponse
	err := a.call(ctx, "get_app_info", map[string]interface{}{
		"installed_app_id": installedAppID,
	}, &resp)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("get_app_info %s: %w", installedAppID, err)
	}
	return resp.Installed, nil
}
