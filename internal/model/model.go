// Package model holds the plain data types shared across the PAM query
// core. None of these are persisted by this repository; session, account,
// and resource records are owned by external collaborators (see
// internal/collaborators), and query results are never stored.
package model

import "time"

// SessionStatus is the lifecycle state of a PAM session.
type SessionStatus string

const (
	SessionStarting SessionStatus = "Starting"
	SessionActive   SessionStatus = "Active"
	SessionEnded    SessionStatus = "Ended"
)

// Session is the external, read-only session record.
type Session struct {
	ID        string
	Status    SessionStatus
	AccountID string
	ProjectID string
	ExpiresAt *time.Time
}

// Account is a specific credential on a resource.
type Account struct {
	ID         string
	ResourceID string
}

// Resource is a target system governed by PAM.
type Resource struct {
	ID        string
	GatewayID *string
}

// ResourceKind discriminates the database credential shape.
type ResourceKind string

const (
	ResourcePostgres ResourceKind = "postgres"
	ResourceMySQL    ResourceKind = "mysql"
)

// DatabaseCredentials is the decrypted credential shape for both Postgres
// and MySQL; the two kinds share a shape per spec §3.
type DatabaseCredentials struct {
	Kind                  ResourceKind
	Host                  string
	Port                  int
	Database              string
	Username              string
	Password              string
	SSLEnabled            bool
	SSLRejectUnauthorized bool
	SSLCertificate        *string
}

// ActorType discriminates who is making a resolver/gateway call.
type ActorType string

const (
	ActorUser    ActorType = "USER"
	ActorService ActorType = "SERVICE"
)

// Actor identifies who is acting on a session.
type Actor struct {
	ID   string
	Type ActorType
	Name string
}

// CredentialEnvelope is the credential vault's response shape.
type CredentialEnvelope struct {
	Credentials    DatabaseCredentials
	ProjectID      string
	Account        Account
	SessionStarted time.Time
}

// GatewayConnectionRequest is sent to the gateway service to obtain a
// relay/gateway certificate bundle for a session.
type GatewayConnectionRequest struct {
	SessionID    string
	GatewayID    string
	ResourceType ResourceKind
	Host         string
	Port         int
	ActorMeta    Actor
}

// NestedTLSBundle is one leg (relay or gateway) of the gateway service's
// nested response shape, before flattening.
type NestedTLSBundle struct {
	ClientCertificate      *string
	ClientPrivateKey       *string
	ServerCertificateChain *string
}

// NestedGatewayBundle is the gateway service's raw, nested response.
type NestedGatewayBundle struct {
	RelayHost string
	Relay     NestedTLSBundle
	Gateway   NestedTLSBundle
}

// GatewayBundle is the flattened connection bundle used by the Tunnel
// Builder. Fields absent in the nested response remain nil, never "".
type GatewayBundle struct {
	RelayHost                     string
	RelayClientCertificate        *string
	RelayClientPrivateKey         *string
	RelayServerCertificateChain   *string
	GatewayClientCertificate      *string
	GatewayClientPrivateKey       *string
	GatewayServerCertificateChain *string
	SessionID                     string
}

// Flatten projects a NestedGatewayBundle into the flat GatewayBundle shape.
// It is a pure projection: missing nested fields map to absent (nil) flat
// fields, never to empty strings.
func Flatten(sessionID string, b NestedGatewayBundle) GatewayBundle {
	return GatewayBundle{
		RelayHost:                     b.RelayHost,
		RelayClientCertificate:        b.Relay.ClientCertificate,
		RelayClientPrivateKey:         b.Relay.ClientPrivateKey,
		RelayServerCertificateChain:   b.Relay.ServerCertificateChain,
		GatewayClientCertificate:      b.Gateway.ClientCertificate,
		GatewayClientPrivateKey:       b.Gateway.ClientPrivateKey,
		GatewayServerCertificateChain: b.Gateway.ServerCertificateChain,
		SessionID:                     sessionID,
	}
}

// Field describes one column of a QueryResult.
type Field struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

// QueryResult is the normalized result of a single executed statement.
type QueryResult struct {
	Fields   []Field         `json:"fields,omitempty"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int64           `json:"rowCount"`
}

// PooledConnectionInfo is a credential-free snapshot of one pool entry.
type PooledConnectionInfo struct {
	SessionID    string       `json:"sessionId"`
	ResourceType ResourceKind `json:"resourceType"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastUsed     time.Time    `json:"lastUsed"`
}

// TunnelInfo is a snapshot of one registry entry.
type TunnelInfo struct {
	SessionID string `json:"sessionId"`
	Active    bool   `json:"active"`
}
