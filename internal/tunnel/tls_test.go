package tunnel

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/die-net/sockstunnel/internal/dialer"
)

func newTestCert(t *testing.T, template, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) *x509.Certificate {
	t.Helper()

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signer)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func newTestChain(t *testing.T) (leaf, issuer *x509.Certificate, issuerKey crypto.Signer) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	issuer = newTestCert(t, caTemplate, caTemplate, &caKey.PublicKey, caKey)

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "example.test"},
		DNSNames:     []string{"example.test"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leaf = newTestCert(t, leafTemplate, issuer, &leafKey.PublicKey, caKey)

	return leaf, issuer, caKey
}

func TestVerifyStapledOCSP(t *testing.T) {
	leaf, issuer, issuerKey := newTestChain(t)
	now := time.Now()

	staple := func(status int) []byte {
		t.Helper()
		tmpl := ocsp.Response{
			Status:       status,
			SerialNumber: leaf.SerialNumber,
			ThisUpdate:   now.Add(-time.Minute),
			NextUpdate:   now.Add(time.Hour),
		}
		if status == ocsp.Revoked {
			tmpl.RevokedAt = now.Add(-time.Minute)
			tmpl.RevocationReason = ocsp.KeyCompromise
		}
		b, err := ocsp.CreateResponse(issuer, issuer, tmpl, issuerKey)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	chains := [][]*x509.Certificate{{leaf, issuer}}

	tests := []struct {
		name    string
		state   tls.ConnectionState
		wantErr string
	}{
		{name: "no_staple", state: tls.ConnectionState{ServerName: "example.test", VerifiedChains: chains}},
		{name: "unverified", state: tls.ConnectionState{ServerName: "example.test", OCSPResponse: staple(ocsp.Revoked)}},
		{name: "good", state: tls.ConnectionState{ServerName: "example.test", VerifiedChains: chains, OCSPResponse: staple(ocsp.Good)}},
		{name: "unknown", state: tls.ConnectionState{ServerName: "example.test", VerifiedChains: chains, OCSPResponse: staple(ocsp.Unknown)}},
		{name: "revoked", state: tls.ConnectionState{ServerName: "example.test", VerifiedChains: chains, OCSPResponse: staple(ocsp.Revoked)}, wantErr: "revoked"},
		{name: "garbage", state: tls.ConnectionState{ServerName: "example.test", VerifiedChains: chains, OCSPResponse: []byte("not ocsp")}, wantErr: "stapled ocsp response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyStapledOCSP(tt.state)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTLSConfig(t *testing.T) {
	u, err := url.Parse("https://example.test:8443/")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		cfg          Config
		ignore       bool
		wantMin      uint16
		wantInsecure bool
		wantVerify   bool
	}{
		{name: "defaults", wantMin: tls.VersionTLS12, wantVerify: true},
		{name: "min_tls13", cfg: Config{TLSMinVersion: tls.VersionTLS13}, wantMin: tls.VersionTLS13, wantVerify: true},
		{name: "no_revocation", cfg: Config{DisableRevocationCheck: true}, wantMin: tls.VersionTLS12},
		{name: "insecure", ignore: true, wantMin: tls.VersionTLS12, wantInsecure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, dialer.NewSOCKS5ProxyDialer(dialer.Config{}, "127.0.0.1:1080"), u)
			if err != nil {
				t.Fatal(err)
			}
			cfg := c.tlsConfig(tt.ignore)
			if cfg.ServerName != "example.test" {
				t.Fatalf("ServerName %q", cfg.ServerName)
			}
			if cfg.MinVersion != tt.wantMin {
				t.Fatalf("MinVersion %s want %s", tls.VersionName(cfg.MinVersion), tls.VersionName(tt.wantMin))
			}
			if cfg.InsecureSkipVerify != tt.wantInsecure {
				t.Fatalf("InsecureSkipVerify %v", cfg.InsecureSkipVerify)
			}
			if (cfg.VerifyConnection != nil) != tt.wantVerify {
				t.Fatalf("VerifyConnection set=%v want %v", cfg.VerifyConnection != nil, tt.wantVerify)
			}
		})
	}
}
