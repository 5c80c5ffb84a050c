// Package tls provides the certificate source for the HTTPS webhook
// listener: a key pair on disk that is reloaded when rotated, or an
// in-memory self-signed certificate.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"sync"
	"time"
)

// certValidity is how long a generated certificate stays valid.
const certValidity = 365 * 24 * time.Hour

// Mode reports where the listener certificate came from.
type Mode string

// Certificate sources.
const (
	ModeFile       Mode = "file"
	ModeSelfSigned Mode = "self-signed"
)

// LoadOrGenerateTLS returns a server config for the webhook listener. When
// both certFile and keyFile are set the pair is loaded and re-read whenever
// either file changes, so rotated certificates are picked up without a
// restart. Otherwise a self-signed certificate for hosts is generated.
func LoadOrGenerateTLS(certFile, keyFile string, hosts ...string) (*tls.Config, Mode, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}

	if certFile != "" && keyFile != "" {
		fc := &fileCert{certFile: certFile, keyFile: keyFile}
		if err := fc.reload(); err != nil {
			return nil, "", err
		}
		cfg.GetCertificate = fc.GetCertificate
		return cfg, ModeFile, nil
	}

	cert, err := GenerateSelfSignedCert(hosts...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate self-signed cert: %w", err)
	}
	slog.Warn("using self-signed certificate for webhook listener", "hosts", hosts)
	cfg.Certificates = []tls.Certificate{*cert}
	return cfg, ModeSelfSigned, nil
}

// fileCert serves a key pair from disk and reloads it when the files'
// modification time moves forward.
type fileCert struct {
	certFile string
	keyFile  string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

// GetCertificate implements tls.Config.GetCertificate. A failed reload
// keeps serving the previous certificate.
func (f *fileCert) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	modTime, err := f.latestModTime()
	if err == nil && modTime.After(f.modTime) {
		if err := f.reloadLocked(modTime); err != nil {
			slog.Warn("failed to reload TLS key pair, keeping previous", "cert_file", f.certFile, "error", err)
		} else {
			slog.Info("reloaded TLS key pair", "cert_file", f.certFile)
		}
	}
	return f.cert, nil
}

func (f *fileCert) reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	modTime, err := f.latestModTime()
	if err != nil {
		return err
	}
	return f.reloadLocked(modTime)
}

func (f *fileCert) reloadLocked(modTime time.Time) error {
	cert, err := tls.LoadX509KeyPair(f.certFile, f.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	f.cert = &cert
	f.modTime = modTime
	return nil
}

func (f *fileCert) latestModTime() (time.Time, error) {
	var latest time.Time
	for _, path := range []string{f.certFile, f.keyFile} {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, fmt.Errorf("TLS file not found: %w", err)
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}

// GenerateSelfSignedCert generates an in-memory ECDSA P-256 self-signed
// certificate. hosts become the SANs (IP literals as IP SANs); with no hosts
// it covers localhost and 127.0.0.1. The first host is the CN.
func GenerateSelfSignedCert(hosts ...string) (*tls.Certificate, error) {
	certPEM, keyPEM, err := selfSignedPEM(hosts...)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create X509 key pair: %w", err)
	}
	return &cert, nil
}

// selfSignedPEM returns a PEM encoded self-signed certificate and its key.
func selfSignedPEM(hosts ...string) (certPEM, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"inbound-parse-relay"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
