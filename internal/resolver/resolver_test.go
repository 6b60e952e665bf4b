package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

func discardLogger() zerolog.Logger { return zerolog.Nop() }

type fakeSessions struct {
	byID map[string]*model.Session
}

func (f *fakeSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return f.byID[id], nil
}

type fakeAccounts struct {
	byID map[string]*model.Account
}

func (f *fakeAccounts) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return f.byID[id], nil
}

type fakeResources struct {
	byID map[string]*model.Resource
}

func (f *fakeResources) FindByID(ctx context.Context, id string) (*model.Resource, error) {
	return f.byID[id], nil
}

type fakeVault struct {
	envelope *model.CredentialEnvelope
	err      error
}

func (f *fakeVault) GetSessionCredentials(ctx context.Context, sessionID string, actor model.Actor) (*model.CredentialEnvelope, error) {
	return f.envelope, f.err
}

type fakeGateway struct {
	bundle *model.NestedGatewayBundle
	err    error
}

func (f *fakeGateway) GetPAMConnectionDetails(ctx context.Context, req model.GatewayConnectionRequest) (*model.NestedGatewayBundle, error) {
	return f.bundle, f.err
}

func strp(s string) *string { return &s }

func TestResolveForQuery_EndedSession(t *testing.T) {
	sessions := &fakeSessions{byID: map[string]*model.Session{
		"s1": {ID: "s1", Status: model.SessionEnded, AccountID: "a1"},
	}}
	r := New(sessions, &fakeAccounts{}, &fakeResources{}, &fakeVault{}, &fakeGateway{}, discardLogger())

	_, err := r.ResolveForQuery(context.Background(), "s1", model.Actor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSessionEnded)
}

func TestResolveForQuery_ExpiredAtBoundary(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{byID: map[string]*model.Session{
		"s1": {ID: "s1", Status: model.SessionActive, AccountID: "a1", ExpiresAt: &now},
	}}
	r := New(sessions, &fakeAccounts{}, &fakeResources{}, &fakeVault{}, &fakeGateway{}, discardLogger())
	r.now = func() time.Time { return now }

	_, err := r.ResolveForQuery(context.Background(), "s1", model.Actor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSessionExpired)
}

func TestResolveForQuery_NotExpiredJustBeforeBoundary(t *testing.T) {
	expires := time.Now().Add(time.Millisecond)
	sessions := &fakeSessions{byID: map[string]*model.Session{
		"s1": {ID: "s1", Status: model.SessionActive, AccountID: "a1", ExpiresAt: &expires},
	}}
	accounts := &fakeAccounts{byID: map[string]*model.Account{"a1": {ID: "a1", ResourceID: "r1"}}}
	gwID := "gw1"
	resources := &fakeResources{byID: map[string]*model.Resource{"r1": {ID: "r1", GatewayID: &gwID}}}
	vault := &fakeVault{envelope: &model.CredentialEnvelope{Credentials: model.DatabaseCredentials{Kind: model.ResourcePostgres}}}
	gateway := &fakeGateway{bundle: &model.NestedGatewayBundle{RelayHost: "relay:8443"}}

	r := New(sessions, accounts, resources, vault, gateway, discardLogger())
	now := expires.Add(-time.Millisecond)
	r.now = func() time.Time { return now }

	resolved, err := r.ResolveForQuery(context.Background(), "s1", model.Actor{})
	require.NoError(t, err)
	assert.Equal(t, "relay:8443", resolved.Bundle.RelayHost)
}

func TestResolveForQuery_NoGateway(t *testing.T) {
	sessions := &fakeSessions{byID: map[string]*model.Session{
		"s1": {ID: "s1", Status: model.SessionActive, AccountID: "a1"},
	}}
	accounts := &fakeAccounts{byID: map[string]*model.Account{"a1": {ID: "a1", ResourceID: "r1"}}}
	resources := &fakeResources{byID: map[string]*model.Resource{"r1": {ID: "r1", GatewayID: nil}}}

	r := New(sessions, accounts, resources, &fakeVault{}, &fakeGateway{}, discardLogger())

	_, err := r.ResolveForQuery(context.Background(), "s1", model.Actor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "Resource does not have a gateway configured")
}

func TestResolveForQuery_MissingSession(t *testing.T) {
	r := New(&fakeSessions{byID: map[string]*model.Session{}}, &fakeAccounts{}, &fakeResources{}, &fakeVault{}, &fakeGateway{}, discardLogger())

	_, err := r.ResolveForQuery(context.Background(), "missing", model.Actor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestResolveForQuery_NilGatewayBundle(t *testing.T) {
	sessions := &fakeSessions{byID: map[string]*model.Session{
		"s1": {ID: "s1", Status: model.SessionActive, AccountID: "a1"},
	}}
	accounts := &fakeAccounts{byID: map[string]*model.Account{"a1": {ID: "a1", ResourceID: "r1"}}}
	gwID := "gw1"
	resources := &fakeResources{byID: map[string]*model.Resource{"r1": {ID: "r1", GatewayID: &gwID}}}
	vault := &fakeVault{envelope: &model.CredentialEnvelope{}}
	gateway := &fakeGateway{bundle: nil}

	r := New(sessions, accounts, resources, vault, gateway, discardLogger())

	_, err := r.ResolveForQuery(context.Background(), "s1", model.Actor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "Failed to get gateway connection details")
}

func TestBundleFlatten_MissingFieldsStayAbsent(t *testing.T) {
	nested := model.NestedGatewayBundle{
		RelayHost: "relay.example.com:8443",
		Relay: model.NestedTLSBundle{
			ClientCertificate: strp("R1"),
			ClientPrivateKey:  strp("R2"),
			// ServerCertificateChain intentionally absent.
		},
		Gateway: model.NestedTLSBundle{
			ClientCertificate:      strp("G1"),
			ClientPrivateKey:       strp("G2"),
			ServerCertificateChain: strp("G3"),
		},
	}

	flat := model.Flatten("sess-1", nested)

	assert.Equal(t, "relay.example.com:8443", flat.RelayHost)
	assert.Equal(t, strp("R1"), flat.RelayClientCertificate)
	assert.Equal(t, strp("R2"), flat.RelayClientPrivateKey)
	assert.Nil(t, flat.RelayServerCertificateChain)
	assert.Equal(t, strp("G1"), flat.GatewayClientCertificate)
	assert.Equal(t, strp("G2"), flat.GatewayClientPrivateKey)
	assert.Equal(t, strp("G3"), flat.GatewayServerCertificateChain)
	assert.Equal(t, "sess-1", flat.SessionID)
}
