// Package certs provides the TLS certificate for the HTTPS and HTTP/3
// listeners: a configured key pair or a self-signed ECDSA P-256
// certificate generated at startup.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

const DefaultValidity = 30 * 24 * time.Hour

// Cert holds a TLS certificate and the SHA-256 fingerprint of its leaf.
type Cert struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
	SelfSigned  bool
}

// FingerprintHex returns the fingerprint in the colon-separated form
// browsers display.
func (c *Cert) FingerprintHex() string {
	var b []byte
	for i, v := range c.Fingerprint {
		if i > 0 {
			b = append(b, ':')
		}
		b = hex.AppendEncode(b, []byte{v})
	}
	return string(b)
}

// TLSConfig returns a server configuration serving c.
func (c *Cert) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		MinVersion:   tls.VersionTLS12,
	}
}

// Resolve loads certFile and keyFile when both are set and generates a
// self-signed certificate for hosts otherwise.
func Resolve(certFile, keyFile string, hosts []string) (*Cert, error) {
	switch {
	case certFile != "" && keyFile != "":
		return Load(certFile, keyFile)
	case certFile != "" || keyFile != "":
		return nil, errors.New("certs: both certificate and key files are required")
	default:
		return Generate(DefaultValidity, hosts)
	}
}

// Load reads a PEM key pair.
func Load(certFile, keyFile string) (*Cert, error) {
	tlsCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("certs: load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("certs: parse certificate: %w", err)
	}
	return &Cert{
		TLSCert:     tlsCert,
		Fingerprint: sha256.Sum256(leaf.Raw),
		NotAfter:    leaf.NotAfter,
	}, nil
}

// Generate creates a self-signed certificate valid for localhost, the
// loopback addresses and hosts. Entries of hosts that parse as IP
// addresses become IP SANs.
func Generate(validity time.Duration, hosts []string) (*Cert, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certs: generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certs: generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "whipfan"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("certs: create certificate: %w", err)
	}
	return &Cert{
		TLSCert:     tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
		SelfSigned:  true,
	}, nil
}
