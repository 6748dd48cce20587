package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatalf("%s: invalid PEM", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return cert
}

func TestRun_GeneratesBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	var out bytes.Buffer
	if err := run([]string{"--dir", dir, "--hosts", "ejauth.internal", "--operator", "ops"}, &out); err != nil {
		t.Fatalf("run error: %v", err)
	}

	for _, name := range []string{"ca", "server", "client"} {
		for _, ext := range []string{".crt", ".key"} {
			if _, err := os.Stat(filepath.Join(dir, name+ext)); err != nil {
				t.Errorf("missing %s%s: %v", name, ext, err)
			}
		}
	}

	ca := readCert(t, filepath.Join(dir, "ca.crt"))
	server := readCert(t, filepath.Join(dir, "server.crt"))
	client := readCert(t, filepath.Join(dir, "client.crt"))

	if !reflect.DeepEqual(server.DNSNames, []string{"ejauth.internal"}) {
		t.Errorf("DNSNames = %v; want [ejauth.internal]", server.DNSNames)
	}
	if client.Subject.CommonName != "ops" {
		t.Errorf("client CN = %q; want ops", client.Subject.CommonName)
	}
	for _, c := range []*x509.Certificate{server, client} {
		if err := c.CheckSignatureFrom(ca); err != nil {
			t.Errorf("%s not signed by CA: %v", c.Subject.CommonName, err)
		}
	}
	if !bytes.Contains(out.Bytes(), []byte(dir)) {
		t.Errorf("output %q does not mention %s", out.String(), dir)
	}
}

func TestRun_ReuseCA(t *testing.T) {
	dir := t.TempDir()
	if err := run([]string{"--dir", dir}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	first := readCert(t, filepath.Join(dir, "ca.crt"))

	if err := run([]string{"--dir", dir, "--reuse-ca", "--operator", "second"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run --reuse-ca error: %v", err)
	}
	if second := readCert(t, filepath.Join(dir, "ca.crt")); !second.Equal(first) {
		t.Error("CA was regenerated despite --reuse-ca")
	}
	if err := readCert(t, filepath.Join(dir, "client.crt")).CheckSignatureFrom(first); err != nil {
		t.Errorf("client not signed by reused CA: %v", err)
	}
}

func TestRun_Errors(t *testing.T) {
	if err := run([]string{"--dir", t.TempDir(), "--reuse-ca"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error when reusing a missing CA")
	}
	if err := run([]string{"--dir", t.TempDir(), "--operator", ""}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for empty operator")
	}
	if err := run([]string{"--bogus"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown flag")
	}
}
