package tunnel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

// genCert produces a self-signed cert/key PEM pair for host, usable as
// both a server and client certificate in these loopback tests.
func genCert(t *testing.T, host string) (certPEM, keyPEM string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}))
	return certPEM, keyPEM
}

func TestBuild_MissingRelayCerts(t *testing.T) {
	b := New(zerolog.Nop())
	_, err := b.Build(context.Background(), model.GatewayBundle{RelayHost: "relay.local:8443"})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrTunnel)
	require.Contains(t, err.Error(), "Missing relay TLS certificates or keys")
}

func TestBuild_MissingGatewayCerts(t *testing.T) {
	relayCert, relayKey := genCert(t, "127.0.0.1")

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{mustPair(t, relayCert, relayKey)},
		ClientAuth:   tls.RequireAnyClientCert,
	})
	require.NoError(t, err)
	defer ln.Close()

	go acceptAndHold(ln)

	bundle := model.GatewayBundle{
		RelayHost:                   ln.Addr().String(),
		RelayClientCertificate:      strp(relayCert),
		RelayClientPrivateKey:       strp(relayKey),
		RelayServerCertificateChain: strp(relayCert),
	}

	b := New(zerolog.Nop())
	_, err = b.Build(context.Background(), bundle)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrTunnel)
	require.Contains(t, err.Error(), "Missing gateway TLS certificates or keys")
}

func TestBuild_HappyPath(t *testing.T) {
	relayCert, relayKey := genCert(t, "127.0.0.1")
	gatewayCert, gatewayKey := genCert(t, "localhost")

	relayLn, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{mustPair(t, relayCert, relayKey)},
		ClientAuth:   tls.RequireAnyClientCert,
	})
	require.NoError(t, err)
	defer relayLn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := relayLn.Accept()
		if err != nil {
			return
		}
		gwSrv := tls.Server(conn, &tls.Config{
			Certificates: []tls.Certificate{mustPair(t, gatewayCert, gatewayKey)},
			ClientAuth:   tls.RequireAnyClientCert,
			NextProtos:   []string{GatewayALPN},
		})
		_ = gwSrv.Handshake()
	}()

	bundle := model.GatewayBundle{
		RelayHost:                     relayLn.Addr().String(),
		RelayClientCertificate:        strp(relayCert),
		RelayClientPrivateKey:         strp(relayKey),
		RelayServerCertificateChain:   strp(relayCert),
		GatewayClientCertificate:      strp(gatewayCert),
		GatewayClientPrivateKey:       strp(gatewayKey),
		GatewayServerCertificateChain: strp(gatewayCert),
		SessionID:                     "sess-1",
	}

	b := New(zerolog.Nop())
	h, err := b.Build(context.Background(), bundle)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.True(t, h.Active)
	require.Equal(t, GatewayALPN, h.Inner.ConnectionState().NegotiatedProtocol)

	Destroy(h)
	<-done
}

func TestSplitRelayHost_DefaultPort(t *testing.T) {
	sni, addr := splitRelayHost("relay.example.com")
	require.Equal(t, "relay.example.com", sni)
	require.Equal(t, "relay.example.com:8443", addr)
}

func TestSplitRelayHost_MalformedPassesThrough(t *testing.T) {
	sni, addr := splitRelayHost("h:")
	require.Equal(t, "h:", sni)
	require.Equal(t, "h:", addr)
}

func mustPair(t *testing.T, certPEM, keyPEM string) tls.Certificate {
	t.Helper()
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	require.NoError(t, err)
	return cert
}

func acceptAndHold(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)
}

func strp(s string) *string { return &s }
