// Package resolver implements the Credential & Gateway Resolver: pure
// orchestration over the session/account/resource stores, the credential
// vault, and the gateway service, producing everything the Tunnel Builder
// and Query Executor need for one query.
package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mateusfdl/infisical/internal/collaborators"
	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

// defaultGatewayHost/Port are the fixed host/port the resolver asks the
// gateway service to bind the session to; spec §4.1.
const (
	defaultGatewayHost = "localhost"
	defaultGatewayPort = 8443
)

// Resolved bundles everything the pipeline needs after resolution.
type Resolved struct {
	Session     model.Session
	Resource    model.Resource
	Credentials model.DatabaseCredentials
	Bundle      model.GatewayBundle
}

// Resolver is the Credential & Gateway Resolver.
type Resolver struct {
	sessions    collaborators.SessionStore
	accounts    collaborators.AccountStore
	resources   collaborators.ResourceStore
	vault       collaborators.CredentialVault
	gateway     collaborators.GatewayService
	log         zerolog.Logger
	now         func() time.Time
}

// New constructs a Resolver over its collaborators.
func New(
	sessions collaborators.SessionStore,
	accounts collaborators.AccountStore,
	resources collaborators.ResourceStore,
	vault collaborators.CredentialVault,
	gateway collaborators.GatewayService,
	log zerolog.Logger,
) *Resolver {
	return &Resolver{
		sessions:  sessions,
		accounts:  accounts,
		resources: resources,
		vault:     vault,
		gateway:   gateway,
		log:       log.With().Str("component", "resolver").Logger(),
		now:       time.Now,
	}
}

// ResolveForQuery validates the session and gathers the resource,
// credentials, and gateway bundle needed to build a tunnel for it.
func (r *Resolver) ResolveForQuery(ctx context.Context, sessionID string, actor model.Actor) (*Resolved, error) {
	session, err := r.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errs.NotFound("Session not found")
	}

	if err := ValidateUsable(*session, r.now()); err != nil {
		return nil, err
	}

	account, err := r.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errs.NotFound("Account not found")
	}

	resource, err := r.resources.FindByID(ctx, account.ResourceID)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, errs.NotFound("Resource not found")
	}
	if resource.GatewayID == nil {
		return nil, errs.GatewayUnavailable("Resource does not have a gateway configured")
	}

	envelope, err := r.vault.GetSessionCredentials(ctx, sessionID, actor)
	if err != nil {
		return nil, err
	}

	req := model.GatewayConnectionRequest{
		SessionID:    sessionID,
		GatewayID:    *resource.GatewayID,
		ResourceType: envelope.Credentials.Kind,
		Host:         defaultGatewayHost,
		Port:         defaultGatewayPort,
		ActorMeta: model.Actor{
			ID:   "system",
			Type: model.ActorUser,
			Name: "PAM TCP Gateway",
		},
	}
	nested, err := r.gateway.GetPAMConnectionDetails(ctx, req)
	if err != nil {
		return nil, err
	}
	if nested == nil {
		return nil, errs.GatewayUnavailable("Failed to get gateway connection details")
	}

	bundle := model.Flatten(sessionID, *nested)

	r.log.Debug().Str("sessionId", sessionID).Msg("resolved session for query")

	return &Resolved{
		Session:     *session,
		Resource:    *resource,
		Credentials: envelope.Credentials,
		Bundle:      bundle,
	}, nil
}

// ValidateUsable classifies a (session, now) pair. Exactly one of
// {usable, Ended, Expired} holds for every pair; expiresAt == now counts
// as expired (strict inequality required for usability). Exported so the
// HTTP connect handler can run the same check without a full resolve.
func ValidateUsable(session model.Session, now time.Time) error {
	if session.Status == model.SessionEnded {
		return errs.ErrSessionEnded
	}
	if session.ExpiresAt != nil && !session.ExpiresAt.After(now) {
		return errs.ErrSessionExpired
	}
	return nil
}

// Usable reports the classification of a (session, now) pair without
// allocating an error, for callers that only need the verdict.
func Usable(session model.Session, now time.Time) bool {
	return ValidateUsable(session, now) == nil
}
