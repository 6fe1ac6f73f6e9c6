package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"
)

// ValidityPeriod is the lifetime of a freshly generated serving certificate.
const ValidityPeriod = 365 * 24 * time.Hour

// ServingCert is the TLS key/cert pair the relay binary serves with.
type ServingCert struct {
	CertPEM []byte
	KeyPEM  []byte

	// CommonName is the CN actually embedded in the certificate. On reuse it
	// may differ from the common name requested for this run.
	CommonName string
	NotAfter   time.Time

	// Reused reports whether the pair was loaded from disk without writes.
	Reused bool
}

// EnsureServingCert returns a usable serving certificate for the node,
// reusing the on-disk pair when it is still valid as of now and generating a
// new self-signed one otherwise. Both files are overwritten on generation;
// nothing is written on reuse. Generation or write failure is fatal to the
// provisioning run.
func EnsureServingCert(certPath, keyPath, cn string, now time.Time, log *slog.Logger) (*ServingCert, error) {
	if reused, err := loadServingCert(certPath, keyPath, now); err == nil {
		log.Debug("Reusing existing serving certificate",
			slog.String("cn", reused.CommonName),
			slog.Time("not_after", reused.NotAfter))
		return reused, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Info("Regenerating serving certificate", "reason", err)
	}

	cert, err := generateServingCert(cn, now)
	if err != nil {
		return nil, fmt.Errorf("certificate generation failed: %w", err)
	}

	if err := os.WriteFile(certPath, cert.CertPEM, 0644); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, cert.KeyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	log.Info("Generated serving certificate",
		slog.String("cn", cn),
		slog.Time("not_after", cert.NotAfter))
	return cert, nil
}

// loadServingCert reads and validates the on-disk pair. Any parse failure,
// key/cert mismatch, or a validity window not covering now is an error.
func loadServingCert(certPath, keyPath string, now time.Time) (*ServingCert, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("certificate expired at %s", cert.NotAfter)
	}
	if err := VerifyServingCert(certPEM, keyPEM, ""); err != nil {
		return nil, err
	}

	return &ServingCert{
		CertPEM:    certPEM,
		KeyPEM:     keyPEM,
		CommonName: cert.Subject.CommonName,
		NotAfter:   cert.NotAfter,
		Reused:     true,
	}, nil
}

func generateServingCert(cn string, now time.Time) (*ServingCert, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	notAfter := now.Add(ValidityPeriod)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: cn,
		},
		DNSNames:              []string{cn},
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template,
		privateKey.Public(), privateKey)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	return &ServingCert{
		CertPEM:    certPEM,
		KeyPEM:     keyPEM,
		CommonName: cn,
		NotAfter:   notAfter,
	}, nil
}

// VerifyServingCert validates that a certificate matches a given private key
// and, when expectedCN is non-empty, carries the expected common name.
func VerifyServingCert(certPEM, keyPEM []byte, expectedCN string) error {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return errors.New("failed to decode private key PEM block")
	}
	parsedKey, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	privateKey, ok := parsedKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("unsupported private key type %T", parsedKey)
	}

	cert, err := parseCertificate(certPEM)
	if err != nil {
		return err
	}

	if expectedCN != "" && cert.Subject.CommonName != expectedCN {
		return fmt.Errorf("CommonName is %s, expected %s", cert.Subject.CommonName, expectedCN)
	}

	certKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("unsupported certificate key type %T", cert.PublicKey)
	}
	if !certKey.Equal(&privateKey.PublicKey) {
		return errors.New("private key doesn't match certificate")
	}
	return nil
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("failed to decode certificate PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
