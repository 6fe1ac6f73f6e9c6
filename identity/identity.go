// Package identity persists the node's long-lived credential.
//
// The credential is the node id (a UUID) plus a random hex secret, stored as
// a two-line flat file. It is generated exactly once per working directory
// and reused verbatim by every later invocation; all downstream consumers
// take the value returned by LoadOrCreate rather than re-deriving it.
//
// Writes go through a temp-file-and-rename so a crash mid-write cannot leave
// a half-written credential behind. Content that fails validation (wrong
// line count, non-UUID id, non-hex secret) is treated the same as a missing
// file and regenerated.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SecretBytes is the entropy of a freshly generated secret (hex-encoded to
// twice this many characters).
const SecretBytes = 16

// Credential is the node's persistent identity.
type Credential struct {
	// ID is a UUID string identifying this node to clients.
	ID string

	// Secret is the shared authentication secret, lowercase hex.
	Secret string
}

// LoadOrCreate returns the persisted credential at path, generating and
// persisting a fresh one when the file is missing or malformed.
func LoadOrCreate(path string, log *slog.Logger) (Credential, error) {
	if data, err := os.ReadFile(path); err == nil {
		if cred, ok := parse(data); ok {
			log.Debug("Loaded existing credential", slog.String("id", cred.ID))
			return cred, nil
		}
		log.Warn("Credential file is malformed, regenerating", slog.String("path", path))
	}

	cred, err := generate()
	if err != nil {
		return Credential{}, err
	}
	if err := writeAtomic(path, cred); err != nil {
		return Credential{}, fmt.Errorf("failed to persist credential: %w", err)
	}
	log.Info("Generated node credential", slog.String("id", cred.ID))
	return cred, nil
}

// parse validates the two-line file format: line 1 is the node id, line 2
// the secret.
func parse(data []byte) (Credential, bool) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return Credential{}, false
	}
	id := strings.TrimSpace(lines[0])
	secret := strings.TrimSpace(lines[1])

	if _, err := uuid.Parse(id); err != nil {
		return Credential{}, false
	}
	if secret == "" {
		return Credential{}, false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return Credential{}, false
	}
	return Credential{ID: id, Secret: secret}, true
}

func generate() (Credential, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate node id: %w", err)
	}

	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Credential{}, fmt.Errorf("failed to generate secret: %w", err)
	}

	return Credential{
		ID:     id.String(),
		Secret: hex.EncodeToString(buf),
	}, nil
}

// writeAtomic persists the credential with owner-only permissions via a
// temporary file in the same directory followed by a rename.
func writeAtomic(path string, cred Credential) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	cleanup := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Chmod(0600); err != nil {
		return cleanup(err)
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", cred.ID, cred.Secret); err != nil {
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
