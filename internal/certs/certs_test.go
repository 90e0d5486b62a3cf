package certs

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24*time.Hour, []string{"media.example.com", "10.0.0.5"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !cert.SelfSigned {
		t.Error("SelfSigned = false, want true")
	}

	leaf, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if v := leaf.NotAfter.Sub(leaf.NotBefore); v != 24*time.Hour {
		t.Errorf("validity = %v, want 24h", v)
	}
	if !slices.Contains(leaf.DNSNames, "localhost") || !slices.Contains(leaf.DNSNames, "media.example.com") {
		t.Errorf("DNS names = %v", leaf.DNSNames)
	}
	found := false
	for _, ip := range leaf.IPAddresses {
		if ip.String() == "10.0.0.5" {
			found = true
		}
	}
	if !found {
		t.Errorf("IP addresses = %v, want 10.0.0.5 included", leaf.IPAddresses)
	}

	fp := cert.FingerprintHex()
	if got := len(strings.Split(fp, ":")); got != 32 {
		t.Errorf("fingerprint has %d groups, want 32", got)
	}
}

func TestResolveLoadsKeyPair(t *testing.T) {
	t.Parallel()
	generated, err := Generate(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	keyDER, err := x509.MarshalECPrivateKey(generated.TLSCert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: generated.TLSCert.Certificate[0]})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Resolve(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if loaded.SelfSigned {
		t.Error("loaded certificate reported as generated")
	}
	if loaded.Fingerprint != generated.Fingerprint {
		t.Error("fingerprint mismatch")
	}
}

func TestResolveRequiresBothFiles(t *testing.T) {
	t.Parallel()
	if _, err := Resolve("cert.pem", "", nil); err == nil {
		t.Error("expected error with only a certificate file")
	}
	cert, err := Resolve("", "", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !cert.SelfSigned {
		t.Error("expected a generated certificate")
	}
}
