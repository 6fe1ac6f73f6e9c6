package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"tuic-node/cryptoutils"
	"tuic-node/identity"
	"tuic-node/netinfo"
	"tuic-node/nodeconfig"
	"tuic-node/relaybin"
	"tuic-node/sharelink"
)

// DefaultPort is used when no override is configured.
const DefaultPort = 28888

// DefaultWorkDir roots all node state on panel hosts.
const DefaultWorkDir = "/etc/tuic"

// DefaultMasquerades is the candidate set a decoy domain is sampled from on
// every run. The chosen domain becomes the certificate CN on generation and
// the advertised SNI in the share link.
var DefaultMasquerades = []string{
	"www.bing.com",
	"www.apple.com",
	"www.microsoft.com",
	"www.amd.com",
	"www.cisco.com",
}

// ErrAlreadyRunning means another invocation holds the working-directory
// lock. Concurrent provisioning against the same state would race credential
// and certificate creation, so the second invocation backs off.
var ErrAlreadyRunning = errors.New("another provisioning run holds the working directory lock")

// Config is the immutable pipeline configuration, fully resolved by the
// caller before Run. Components never read ambient process state.
type Config struct {
	WorkDir     string
	Port        int
	Masquerades []string
	BinaryURL   string
	Arch        string

	// SkipLaunch stops after the summary instead of handing control to the
	// relay binary.
	SkipLaunch bool
}

// Filenames under WorkDir.
const (
	configFile     = "config.json"
	certFile       = "cert.pem"
	keyFile        = "key.pem"
	binaryFile     = "tuic-server"
	credentialFile = "credentials.txt"
	lockFile       = ".lock"
)

func (c Config) ConfigPath() string     { return filepath.Join(c.WorkDir, configFile) }
func (c Config) CertPath() string       { return filepath.Join(c.WorkDir, certFile) }
func (c Config) KeyPath() string        { return filepath.Join(c.WorkDir, keyFile) }
func (c Config) BinaryPath() string     { return filepath.Join(c.WorkDir, binaryFile) }
func (c Config) CredentialPath() string { return filepath.Join(c.WorkDir, credentialFile) }

// Pipeline sequences the provisioning stages and finally hands control to
// the relay binary. Collaborators are exported so tests can substitute a
// deterministic rand source, a stubbed resolver, or a capture writer.
type Pipeline struct {
	Cfg Config
	Log *slog.Logger

	// Rand picks the masquerade domain; tests fix the seed for determinism.
	Rand *rand.Rand

	// Resolver discovers the node's network identity.
	Resolver *netinfo.Resolver

	// Now supplies the clock for certificate validity decisions.
	Now func() time.Time

	// Out receives the human-readable summary block.
	Out io.Writer
}

// New builds a Pipeline with production defaults for every collaborator.
func New(cfg Config, log *slog.Logger) *Pipeline {
	return &Pipeline{
		Cfg:      cfg,
		Log:      log,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		Resolver: netinfo.NewResolver(log),
		Now:      time.Now,
		Out:      os.Stdout,
	}
}

// Run executes the full pipeline: certificate, binary, credential, rendered
// configuration, network discovery, share link, summary, and finally the
// relay process itself. Every stage is idempotent; rerunning against an
// unchanged working directory converges to the same persisted identity.
//
// When the relay binary is launched and exits non-zero, the returned error
// wraps an *exec.ExitError carrying the child's exit code.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.Cfg.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	lock := flock.New(filepath.Join(p.Cfg.WorkDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire working directory lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer lock.Unlock()

	// Library callers may construct Config directly without a candidate set.
	masquerades := p.Cfg.Masquerades
	if len(masquerades) == 0 {
		masquerades = DefaultMasquerades
	}
	domain := masquerades[p.Rand.Intn(len(masquerades))]
	p.Log.Info("Provisioning relay node",
		slog.String("workdir", p.Cfg.WorkDir),
		slog.Int("port", p.Cfg.Port),
		slog.String("masquerade", domain))

	cert, err := cryptoutils.EnsureServingCert(p.Cfg.CertPath(), p.Cfg.KeyPath(), domain, p.Now(), p.Log)
	if err != nil {
		return err
	}

	binary := &relaybin.Provisioner{
		URL:  p.Cfg.BinaryURL,
		Arch: p.Cfg.Arch,
		Log:  p.Log,
	}
	if err := binary.Ensure(ctx, p.Cfg.BinaryPath()); err != nil {
		return err
	}

	cred, err := identity.LoadOrCreate(p.Cfg.CredentialPath(), p.Log)
	if err != nil {
		return err
	}

	doc, err := nodeconfig.Render(nodeconfig.RenderOpts{
		Port:       p.Cfg.Port,
		Credential: cred,
		CertPath:   p.Cfg.CertPath(),
		KeyPath:    p.Cfg.KeyPath(),
	})
	if err != nil {
		return err
	}
	if err := doc.WriteFile(p.Cfg.ConfigPath()); err != nil {
		return err
	}

	info := p.Resolver.Resolve(ctx)
	link := sharelink.Encode(cred, info, p.Cfg.Port, domain)

	p.printSummary(domain, cert, cred, info, link)

	if p.Cfg.SkipLaunch {
		p.Log.Info("Skipping relay launch")
		return nil
	}
	return p.launch(ctx)
}

// printSummary emits the fixed-order status block: masquerade domain,
// endpoint, credential, share link.
func (p *Pipeline) printSummary(domain string, cert *cryptoutils.ServingCert, cred identity.Credential, info netinfo.Info, link string) {
	fmt.Fprintf(p.Out, "TUIC node provisioned\n")
	fmt.Fprintf(p.Out, "  masquerade domain : %s (certificate CN %s, valid until %s)\n",
		domain, cert.CommonName, cert.NotAfter.Format(time.DateOnly))
	fmt.Fprintf(p.Out, "  endpoint          : %s:%d\n", info.IP, p.Cfg.Port)
	fmt.Fprintf(p.Out, "  node id           : %s\n", cred.ID)
	fmt.Fprintf(p.Out, "  secret            : %s\n", cred.Secret)
	fmt.Fprintf(p.Out, "  share link        : %s\n", link)
}

// launch starts the relay binary against the rendered configuration with
// inherited stdio and waits for it to exit. Signals are not intercepted;
// once the child runs, restart and shutdown are entirely its concern.
func (p *Pipeline) launch(ctx context.Context) error {
	p.Log.Info("Handing off to relay binary", slog.String("path", p.Cfg.BinaryPath()))

	cmd := exec.CommandContext(ctx, p.Cfg.BinaryPath(), "-c", p.Cfg.ConfigPath())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("relay binary exited: %w", err)
	}
	return nil
}
