package certgen

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func parseCert(t *testing.T, certPEM []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("invalid cert PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return cert
}

func TestNewAuthority(t *testing.T) {
	ca, pair, err := NewAuthority("ejauth admin CA")
	if err != nil {
		t.Fatalf("NewAuthority error: %v", err)
	}
	cert := parseCert(t, pair.CertPEM)
	if !cert.IsCA || cert.Subject.CommonName != "ejauth admin CA" {
		t.Errorf("unexpected CA cert: IsCA=%v CN=%q", cert.IsCA, cert.Subject.CommonName)
	}
	if !ca.Cert.Equal(cert) {
		t.Error("Authority.Cert differs from the encoded certificate")
	}
	if _, err := tls.X509KeyPair(pair.CertPEM, pair.KeyPEM); err != nil {
		t.Errorf("CA pair does not match: %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	ca, _, err := NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(ca.Cert)

	server, err := ca.IssueServer("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("IssueServer error: %v", err)
	}
	serverCert := parseCert(t, server.CertPEM)
	if _, err := serverCert.Verify(x509.VerifyOptions{
		DNSName:   "localhost",
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		t.Errorf("server cert does not verify: %v", err)
	}
	if len(serverCert.IPAddresses) != 1 || serverCert.IPAddresses[0].String() != "127.0.0.1" {
		t.Errorf("unexpected IP SANs: %v", serverCert.IPAddresses)
	}

	op, err := ca.IssueOperator("ops")
	if err != nil {
		t.Fatalf("IssueOperator error: %v", err)
	}
	opCert := parseCert(t, op.CertPEM)
	if opCert.Subject.CommonName != "ops" {
		t.Errorf("CN = %q; want %q", opCert.Subject.CommonName, "ops")
	}
	if _, err := opCert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}); err != nil {
		t.Errorf("operator cert does not verify: %v", err)
	}
	if _, err := tls.X509KeyPair(op.CertPEM, op.KeyPEM); err != nil {
		t.Errorf("operator pair does not match: %v", err)
	}
}

func TestIssue_InvalidInput(t *testing.T) {
	ca, _, err := NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ca.IssueServer(); err == nil {
		t.Error("expected error for IssueServer without hosts")
	}
	if _, err := ca.IssueOperator(""); err == nil {
		t.Error("expected error for empty operator name")
	}
}

func TestWriteAndLoadAuthority(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	ca, pair, err := NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	if err := WritePair(dir, "ca", pair); err != nil {
		t.Fatalf("WritePair error: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key permissions = %o; want 600", perm)
	}

	loaded, err := LoadAuthority(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	if err != nil {
		t.Fatalf("LoadAuthority error: %v", err)
	}
	if !loaded.Cert.Equal(ca.Cert) || !loaded.Key.Equal(ca.Key) {
		t.Error("loaded authority differs from the generated one")
	}
}

func TestLoadAuthority_Errors(t *testing.T) {
	dir := t.TempDir()
	ca, caPair, err := NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := ca.IssueOperator("ops")
	if err != nil {
		t.Fatal(err)
	}
	if err := WritePair(dir, "ca", caPair); err != nil {
		t.Fatal(err)
	}
	if err := WritePair(dir, "leaf", leaf); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name      string
		cert, key string
		wantErr   string
	}{
		{"missing cert", filepath.Join(dir, "nope.crt"), filepath.Join(dir, "ca.key"), "read ca cert"},
		{"missing key", filepath.Join(dir, "ca.crt"), filepath.Join(dir, "nope.key"), "read ca key"},
		{"bad cert", garbage, filepath.Join(dir, "ca.key"), "invalid CA cert PEM"},
		{"bad key", filepath.Join(dir, "ca.crt"), garbage, "invalid CA key PEM"},
		{"not a CA", filepath.Join(dir, "leaf.crt"), filepath.Join(dir, "leaf.key"), "not a CA"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadAuthority(tc.cert, tc.key)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("LoadAuthority error = %v; want substring %q", err, tc.wantErr)
			}
		})
	}
}
