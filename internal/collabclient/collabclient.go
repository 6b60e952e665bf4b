// Package collabclient implements internal/collaborators's five
// interfaces as thin JSON-over-HTTP clients against the session/account/
// resource persistence facade, the credential vault, and the gateway-v2
// service — all explicitly out of scope for this repository (spec §1: "out
// of scope, consumed via narrow interfaces").
//
// These are bespoke internal services, not a vendored SDK target in the
// example pack; net/http + encoding/json is the narrowest correct tool for
// a generic internal REST boundary like this, so no third-party HTTP
// client library is wired here (see DESIGN.md).
package collabclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/mateusfdl/infisical/internal/model"
)

// Client is a narrow JSON-over-HTTP client satisfying every interface in
// internal/collaborators against one upstream base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client. timeout bounds every individual request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// FindByID satisfies collaborators.SessionStore.
func (c *Client) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var out model.Session
	found, err := c.getJSON(ctx, fmt.Sprintf("/sessions/%s", id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// accountAdapter and resourceAdapter exist because one Go type cannot have
// two FindByID methods with different return types; collabclient splits
// session/account/resource lookups across Client and these two small
// adapter types, all sharing the same underlying HTTP client.
type accountAdapter struct{ c *Client }

func (a accountAdapter) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var out model.Account
	found, err := a.c.getJSON(ctx, fmt.Sprintf("/accounts/%s", id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

type resourceAdapter struct{ c *Client }

func (r resourceAdapter) FindByID(ctx context.Context, id string) (*model.Resource, error) {
	var out model.Resource
	found, err := r.c.getJSON(ctx, fmt.Sprintf("/resources/%s", id), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Accounts returns the collaborators.AccountStore view of this client.
func (c *Client) Accounts() accountAdapter { return accountAdapter{c: c} }

// Resources returns the collaborators.ResourceStore view of this client.
func (c *Client) Resources() resourceAdapter { return resourceAdapter{c: c} }

// GetSessionCredentials satisfies collaborators.CredentialVault. The vault
// contract has no "absent" case (unlike the session/account/resource
// stores), so a 404 here is a genuine failure, not "not found".
func (c *Client) GetSessionCredentials(ctx context.Context, sessionID string, actor model.Actor) (*model.CredentialEnvelope, error) {
	body := map[string]interface{}{"sessionId": sessionID, "actor": actor}
	var out model.CredentialEnvelope
	found, err := c.postJSON(ctx, "/vault/session-credentials", body, &out, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("credential vault returned no credentials for session")
	}
	return &out, nil
}

// GetPAMConnectionDetails satisfies collaborators.GatewayService. A 404
// maps to (nil, nil) — the gateway service's contract is "bundle | null"
// (spec §6) — the resolver turns an absent bundle into GatewayUnavailable.
func (c *Client) GetPAMConnectionDetails(ctx context.Context, req model.GatewayConnectionRequest) (*model.NestedGatewayBundle, error) {
	var out model.NestedGatewayBundle
	found, err := c.postJSON(ctx, "/gateway/pam-connection-details", req, &out, false)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// getJSON issues a GET and decodes a 200 body into out. A 404 is reported
// as (false, nil) — "not found", not an error; every other non-2xx status
// is an error. Used for the session/account/resource stores, whose
// contracts have a documented null case.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	return c.do(req, out, false)
}

// postJSON issues a POST. When notFoundIsError is true, a 404 response is
// surfaced as an error instead of (false, nil) — for collaborators whose
// contract has no "absent" case.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}, notFoundIsError bool) (bool, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, notFoundIsError)
}

func (c *Client) do(req *http.Request, out interface{}, notFoundIsError bool) (bool, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "collaborator request failed: %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if notFoundIsError {
			return false, errors.Errorf("collaborator request failed: %s %s: status 404", req.Method, req.URL.Path)
		}
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, errors.Errorf("collaborator request failed: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrap(err, "failed to decode collaborator response")
	}
	return true, nil
}
