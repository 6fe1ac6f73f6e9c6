// Package relaybin ensures the relay server executable is present and
// runnable on the host.
//
// The binary is an opaque, version-pinned release artifact; this package only
// fetches and installs it. No checksum or signature verification is performed
// over the download — the release URL is trusted as-is. That is a known trust
// gap carried over from the deployment model, not an omission to fix here.
package relaybin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
)

// DefaultURL is the pinned release artifact for the supported architecture.
const DefaultURL = "https://github.com/Itsusinn/tuic/releases/download/v1.0.0/tuic-server-x86_64-linux"

// SupportedArch is the only host architecture a release artifact exists for.
const SupportedArch = "amd64"

var (
	// ErrUnsupportedArch means the host CPU architecture has no release
	// artifact. Returned before any network I/O is attempted.
	ErrUnsupportedArch = errors.New("unsupported host architecture")

	// ErrDownloadFailed means the artifact transfer did not complete.
	ErrDownloadFailed = errors.New("relay binary download failed")
)

// Provisioner fetches and installs the relay executable.
type Provisioner struct {
	// URL is the artifact location; DefaultURL when empty.
	URL string

	// Arch is the host architecture (runtime.GOARCH in production).
	Arch string

	// Client is the HTTP client for the download; http.DefaultClient when nil.
	Client *http.Client

	Log *slog.Logger
}

// Ensure makes the relay executable available at path. An existing executable
// file is left untouched. Both failure modes are fatal to provisioning:
// ErrUnsupportedArch when the host cannot run any artifact, ErrDownloadFailed
// when the transfer fails.
func (p *Provisioner) Ensure(ctx context.Context, path string) error {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0 {
		p.Log.Debug("Relay binary already present", slog.String("path", path))
		return nil
	}

	if p.Arch != SupportedArch {
		return fmt.Errorf("%w: %s", ErrUnsupportedArch, p.Arch)
	}

	url := p.URL
	if url == "" {
		url = DefaultURL
	}
	p.Log.Info("Downloading relay binary", slog.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDownloadFailed, err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: server returned %d", ErrDownloadFailed, resp.StatusCode)
	}

	if err := p.install(resp.Body, path); err != nil {
		return fmt.Errorf("%w: %s", ErrDownloadFailed, err)
	}
	p.Log.Info("Relay binary installed", slog.String("path", path))
	return nil
}

// install streams the artifact to a temporary file in the target directory
// and renames it into place, so a failed transfer never leaves a truncated
// executable at path.
func (p *Provisioner) install(body io.Reader, path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
