package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"tuic-node/common"
	"tuic-node/provision"
	"tuic-node/relaybin"
)

// Exit codes for the two fatal conditions with a distinct signal. All other
// fatal errors exit 1; a launched relay binary's exit code is passed through.
const (
	exitUnsupportedArch = 2
	exitDownloadFailed  = 3
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "workdir",
		Value:   provision.DefaultWorkDir,
		Usage:   "directory holding all node state (config, certificate, credential, binary)",
		EnvVars: []string{"TUIC_WORKDIR"},
	},
	&cli.IntFlag{
		Name:    "port",
		Value:   provision.DefaultPort,
		Usage:   "UDP port the relay listens on",
		EnvVars: []string{"TUIC_PORT"},
	},
	&cli.StringFlag{
		Name:    "binary-url",
		Value:   relaybin.DefaultURL,
		Usage:   "download location of the relay binary",
		EnvVars: []string{"TUIC_BINARY_URL"},
	},
	&cli.StringFlag{
		Name:    "config",
		Usage:   "optional TOML file overriding port, workdir and masquerade domains",
		EnvVars: []string{"TUIC_CONFIG"},
	},
	&cli.BoolFlag{
		Name:    "skip-launch",
		Usage:   "provision only, do not hand off to the relay binary",
		EnvVars: []string{"TUIC_SKIP_LAUNCH"},
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
}

// fileConfig is the optional operator-provided TOML overlay.
type fileConfig struct {
	Port              int      `toml:"port"`
	WorkDir           string   `toml:"workdir"`
	BinaryURL         string   `toml:"binary_url"`
	MasqueradeDomains []string `toml:"masquerade_domains"`
}

const usage string = `Provision and launch a single TUIC relay node.
Re-running converges to the same persisted identity:
* Node credential is generated once and reused forever
* Serving certificate is regenerated only when missing or expired
* Relay binary is downloaded once per working directory
On success the process hands control to the relay binary and
propagates its exit code.`

func main() {
	// Panel hosts commonly ship overrides in a .env file next to the binary.
	godotenv.Load()

	app := &cli.App{
		Name:  "tuic-node",
		Usage: usage,
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: common.PackageName,
				Version: common.Version,
			})

			cfg := provision.Config{
				WorkDir:     cCtx.String("workdir"),
				Port:        cCtx.Int("port"),
				Masquerades: provision.DefaultMasquerades,
				BinaryURL:   cCtx.String("binary-url"),
				Arch:        runtime.GOARCH,
				SkipLaunch:  cCtx.Bool("skip-launch"),
			}

			if path := cCtx.String("config"); path != "" {
				var overlay fileConfig
				if _, err := toml.DecodeFile(path, &overlay); err != nil {
					return fmt.Errorf("failed to read config file %s: %w", path, err)
				}
				// Explicit flags win over the file.
				if overlay.Port != 0 && !cCtx.IsSet("port") {
					cfg.Port = overlay.Port
				}
				if overlay.WorkDir != "" && !cCtx.IsSet("workdir") {
					cfg.WorkDir = overlay.WorkDir
				}
				if overlay.BinaryURL != "" && !cCtx.IsSet("binary-url") {
					cfg.BinaryURL = overlay.BinaryURL
				}
				if len(overlay.MasqueradeDomains) > 0 {
					cfg.Masquerades = overlay.MasqueradeDomains
				}
			}

			err := provision.New(cfg, logger).Run(cCtx.Context)

			var exitErr *exec.ExitError
			switch {
			case err == nil:
				return nil
			case errors.As(err, &exitErr):
				// The relay ran and exited; pass its code through silently.
				return cli.Exit("", exitErr.ExitCode())
			case errors.Is(err, relaybin.ErrUnsupportedArch):
				return cli.Exit(err.Error(), exitUnsupportedArch)
			case errors.Is(err, relaybin.ErrDownloadFailed):
				return cli.Exit(err.Error(), exitDownloadFailed)
			default:
				return err
			}
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
