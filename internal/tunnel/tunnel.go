// Package tunnel implements the TLS Tunnel Builder: a two-leg nested mTLS
// dial — outer TLS to the relay with strict hostname verification, inner
// TLS nested inside the outer stream to the gateway with ALPN-negotiated
// mTLS and relaxed peer verification.
//
// Grounded on the teacher's dial-and-wrap shape in cmd/client/tls.go and
// pkg/client/client.go (dial out, wrap the raw conn, log around each leg,
// tear everything down on failure), adapted from a yamux session dial to a
// nested crypto/tls dial since this module's tunnel carries exactly one
// query's worth of traffic rather than a multiplexed session.
package tunnel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

const (
	// GatewayALPN is the ALPN protocol string the inner leg negotiates;
	// wire-level fact that must be preserved per spec §6.
	GatewayALPN = "infisical-pam-proxy"

	defaultRelayPort = 8443

	outerHandshakeTimeout = 10 * time.Second
	innerHandshakeTimeout = 10 * time.Second
)

// Handle is the live tunnel: both TLS legs plus an active flag. Owned
// exclusively by the Tunnel Registry once built.
type Handle struct {
	SessionID string
	Outer     *tls.Conn
	Inner     *tls.Conn
	Active    bool
}

// Builder builds nested TLS tunnels from gateway bundles.
type Builder struct {
	log zerolog.Logger
}

// New constructs a Builder.
func New(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("component", "tunnel-builder").Logger()}
}

// Build dials the relay, then the gateway nested inside the relay
// connection, and returns an active handle. On any failure, every stream
// already opened during this call is destroyed before the error is
// returned.
func (b *Builder) Build(ctx context.Context, bundle model.GatewayBundle) (*Handle, error) {
	outer, err := b.dialOuter(ctx, bundle)
	if err != nil {
		return nil, err
	}

	inner, err := b.dialInner(ctx, outer, bundle)
	if err != nil {
		_ = outer.Close()
		return nil, err
	}

	// The inner stream lives for the duration of the query; clear any
	// handshake-scoped deadlines now that both legs are up.
	_ = inner.SetDeadline(time.Time{})

	b.log.Debug().Str("sessionId", bundle.SessionID).Msg("tunnel established")

	return &Handle{
		SessionID: bundle.SessionID,
		Outer:     outer,
		Inner:     inner,
		Active:    true,
	}, nil
}

func (b *Builder) dialOuter(ctx context.Context, bundle model.GatewayBundle) (*tls.Conn, error) {
	if bundle.RelayClientCertificate == nil || bundle.RelayClientPrivateKey == nil || bundle.RelayServerCertificateChain == nil {
		return nil, errs.Tunnel("Missing relay TLS certificates or keys")
	}

	sni, addr := splitRelayHost(bundle.RelayHost)

	cert, err := tls.X509KeyPair([]byte(*bundle.RelayClientCertificate), []byte(*bundle.RelayClientPrivateKey))
	if err != nil {
		return nil, errs.Tunnelf("Relay TLS connection error: %v", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(*bundle.RelayServerCertificateChain)) {
		return nil, errs.Tunnel("Relay TLS connection error: invalid server certificate chain")
	}

	cfg := &tls.Config{
		ServerName:   sni,
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: outerHandshakeTimeout}

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Tunnelf("Relay TLS connection error: %v", err)
	}

	_ = rawConn.SetDeadline(time.Now().Add(outerHandshakeTimeout))
	conn := tls.Client(rawConn, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, errs.Tunnelf("Relay TLS connection error: %v", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		_ = conn.Close()
		return nil, errs.Tunnel("Relay TLS authorization failed: no peer certificate presented")
	}
	_ = conn.SetDeadline(time.Time{})

	b.log.Debug().Str("relayHost", bundle.RelayHost).Msg("relay leg established")
	return conn, nil
}

func (b *Builder) dialInner(ctx context.Context, outer net.Conn, bundle model.GatewayBundle) (*tls.Conn, error) {
	if bundle.GatewayClientCertificate == nil || bundle.GatewayClientPrivateKey == nil || bundle.GatewayServerCertificateChain == nil {
		return nil, errs.Tunnel("Missing gateway TLS certificates or keys")
	}

	cert, err := tls.X509KeyPair([]byte(*bundle.GatewayClientCertificate), []byte(*bundle.GatewayClientPrivateKey))
	if err != nil {
		return nil, errs.Tunnelf("Gateway TLS handshake failed: %v", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(*bundle.GatewayServerCertificateChain)) {
		return nil, errs.Tunnel("Gateway TLS handshake failed: invalid server certificate chain")
	}

	cfg := &tls.Config{
		ServerName:         "localhost",
		Certificates:       []tls.Certificate{cert},
		RootCAs:            roots,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS13,
		NextProtos:         []string{GatewayALPN},
	}

	_ = outer.SetDeadline(time.Now().Add(innerHandshakeTimeout))
	conn := tls.Client(outer, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, errs.Tunnelf("Gateway TLS handshake failed: %v", err)
	}

	if conn.ConnectionState().NegotiatedProtocol == "" {
		_ = conn.Close()
		return nil, errs.Tunnel("Gateway TLS handshake failed: no protocol negotiated")
	}

	b.log.Debug().Str("sessionId", bundle.SessionID).Msg("gateway leg established")
	return conn, nil
}

// Destroy tears down both legs of a handle, swallowing close errors.
func Destroy(h *Handle) {
	if h == nil {
		return
	}
	h.Active = false
	if h.Inner != nil {
		_ = h.Inner.Close()
	}
	if h.Outer != nil {
		_ = h.Outer.Close()
	}
}

// splitRelayHost parses relayHost into (sni, dialAddress). When no colon is
// present, port 8443 is appended. When a colon is present but the result is
// not a well-formed host:port (e.g. "h:" or a non-numeric port), the raw
// string is returned unchanged as the dial address so the eventual dial
// fails naturally and surfaces as a TunnelError, per spec boundary
// behavior: such inputs are expected to fail at connect time, not here.
func splitRelayHost(relayHost string) (sni string, addr string) {
	if !strings.Contains(relayHost, ":") {
		return relayHost, net.JoinHostPort(relayHost, strconv.Itoa(defaultRelayPort))
	}
	host, port, err := net.SplitHostPort(relayHost)
	if err != nil {
		return relayHost, relayHost
	}
	if _, err := strconv.Atoi(port); err != nil {
		return relayHost, relayHost
	}
	return host, relayHost
}
