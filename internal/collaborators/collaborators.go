// Package collaborators defines the narrow interfaces the PAM query core
// consumes from systems outside its scope: the session/account/resource
// persistence facade, the credential vault, and the gateway-v2 service.
//
// None of these are implemented here. The core is wired against whatever
// concrete clients the host process constructs; this package exists so the
// core (internal/resolver, internal/pipeline) can be built and tested
// against fakes instead of real network collaborators.
package collaborators

import (
	"context"

	"github.com/mateusfdl/infisical/internal/model"
)

// SessionStore resolves session records. A nil, nil return means "not
// found"; the resolver is responsible for turning that into a typed error.
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// AccountStore resolves account records.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// ResourceStore resolves resource records.
type ResourceStore interface {
	FindByID(ctx context.Context, id string) (*model.Resource, error)
}

// CredentialVault returns decrypted database credentials for a session.
type CredentialVault interface {
	GetSessionCredentials(ctx context.Context, sessionID string, actor model.Actor) (*model.CredentialEnvelope, error)
}

// GatewayService returns the relay/gateway certificate bundle for a
// session. A nil, nil return means the service has nothing for this
// session; the resolver turns that into GatewayUnavailable.
type GatewayService interface {
	GetPAMConnectionDetails(ctx context.Context, req model.GatewayConnectionRequest) (*model.NestedGatewayBundle, error)
}
