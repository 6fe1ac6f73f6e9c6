package cryptoutils

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEnsureServingCert_Generate(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	now := time.Now()

	cert, err := EnsureServingCert(certPath, keyPath, "www.bing.com", now, testLogger())
	require.NoError(t, err, "Generation should succeed")
	assert.False(t, cert.Reused, "First run should generate, not reuse")
	assert.Equal(t, "www.bing.com", cert.CommonName)
	assert.WithinDuration(t, now.Add(ValidityPeriod), cert.NotAfter, time.Minute,
		"NotAfter should be ~365 days out")

	keyInfo, err := os.Stat(keyPath)
	require.NoError(t, err, "Private key should be written")
	assert.Equal(t, os.FileMode(0600), keyInfo.Mode().Perm(), "Private key should be owner-only")

	require.NoError(t, VerifyServingCert(cert.CertPEM, cert.KeyPEM, "www.bing.com"),
		"Generated pair should verify")
}

func TestEnsureServingCert_ReuseValid(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	now := time.Now()

	first, err := EnsureServingCert(certPath, keyPath, "www.bing.com", now, testLogger())
	require.NoError(t, err)

	// Second run samples a different masquerade domain; the valid pair must
	// still be reused unchanged.
	second, err := EnsureServingCert(certPath, keyPath, "www.apple.com", now.Add(time.Hour), testLogger())
	require.NoError(t, err)
	assert.True(t, second.Reused, "Valid on-disk pair should be reused")
	assert.Equal(t, "www.bing.com", second.CommonName, "Reuse should keep the original CN")
	assert.Equal(t, first.CertPEM, second.CertPEM, "Certificate bytes should be unchanged")
	assert.Equal(t, first.KeyPEM, second.KeyPEM, "Key bytes should be unchanged")
	assert.Equal(t, first.NotAfter.Unix(), second.NotAfter.Unix())
}

func TestEnsureServingCert_RegenerateExpired(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	past := time.Now().Add(-400 * 24 * time.Hour)

	first, err := EnsureServingCert(certPath, keyPath, "www.bing.com", past, testLogger())
	require.NoError(t, err)

	now := time.Now()
	second, err := EnsureServingCert(certPath, keyPath, "www.bing.com", now, testLogger())
	require.NoError(t, err)
	assert.False(t, second.Reused, "Expired pair should be regenerated")
	assert.NotEqual(t, first.KeyPEM, second.KeyPEM, "Regeneration should produce a new key")
	assert.WithinDuration(t, now.Add(ValidityPeriod), second.NotAfter, time.Minute)
}

func TestEnsureServingCert_RegenerateCorrupt(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certPath, []byte("not a certificate"), 0644))
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0600))

	cert, err := EnsureServingCert(certPath, keyPath, "www.bing.com", time.Now(), testLogger())
	require.NoError(t, err, "Corrupt pair should be replaced, not fatal")
	assert.False(t, cert.Reused)
	require.NoError(t, VerifyServingCert(cert.CertPEM, cert.KeyPEM, "www.bing.com"))
}

func TestVerifyServingCert_WrongCN(t *testing.T) {
	cert, err := generateServingCert("www.bing.com", time.Now())
	require.NoError(t, err)

	err = VerifyServingCert(cert.CertPEM, cert.KeyPEM, "www.apple.com")
	assert.Error(t, err, "CN mismatch should fail verification")
}

func TestVerifyServingCert_KeyMismatch(t *testing.T) {
	a, err := generateServingCert("www.bing.com", time.Now())
	require.NoError(t, err)
	b, err := generateServingCert("www.bing.com", time.Now())
	require.NoError(t, err)

	err = VerifyServingCert(a.CertPEM, b.KeyPEM, "www.bing.com")
	assert.Error(t, err, "Unrelated key should fail verification")
}
