package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"docchat/internal/config"
	"docchat/internal/identity"
	"docchat/internal/memory"
	"docchat/internal/provider"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your docchat installation",
		Long: `Verifies that the configuration, database, object storage, AI backend
and identity provider are reachable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("docchat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var d doctor
			if _, err := os.Stat(cfgPath); err != nil {
				d.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'docchat init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			d.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				d.fail("Config validation", err.Error())
				return d.summary()
			}
			d.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			d.check("Database", cfg.Database.Driver, checkDatabase(ctx, cfg.Database))
			d.check("Object storage", cfg.Storage.Backend, checkStorage(ctx, cfg.Storage))

			client := provider.NewClient(provider.ClientConfig{
				APIKey:  cfg.AI.APIKey,
				APIBase: cfg.AI.APIBase,
				Model:   cfg.AI.Model,
				Timeout: 5 * time.Second,
				Logger:  logger,
			})
			d.check("AI backend", cfg.AI.APIBase, client.Healthy(ctx))

			if cfg.Identity.KratosPublicURL == "" {
				d.warn("Identity", "not configured, every user is a guest")
			} else {
				d.check("Identity", cfg.Identity.KratosPublicURL, checkKratos(ctx, cfg.Identity))
			}

			if font := firstExisting(cfg.Render.FontPaths); font != "" {
				d.pass("PDF font", font)
			} else {
				d.warn("PDF font", "no Unicode font found, PDFs fall back to Latin-1")
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				d.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				d.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					d.pass("Log file", cfg.General.LogFile)
				}
			}

			return d.summary()
		},
	}
}

type doctor struct {
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (d *doctor) check(name, detail string, err error) {
	if err != nil {
		d.fail(name, err.Error())
		return
	}
	d.pass(name, detail)
}

func (d *doctor) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running docchat.\n")
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned > 0 {
		fmt.Printf("\ndocchat should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! docchat is ready to serve.\n")
	}
	return nil
}

func checkDatabase(ctx context.Context, dc config.DatabaseConfig) error {
	store, err := memory.Open(ctx, memory.Config{Driver: dc.Driver, DSN: dc.DSN, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.SchemaVersion(ctx)
	return err
}

// checkStorage opens the backend and, for the local one, proves the
// directory is writable.
func checkStorage(ctx context.Context, sc config.StorageConfig) error {
	if _, _, err := openStorage(ctx, sc); err != nil {
		return err
	}
	if sc.Backend == "minio" {
		return nil
	}
	f, err := os.CreateTemp(sc.LocalDir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkKratos(ctx context.Context, ic config.IdentityConfig) error {
	k := identity.NewKratos(identity.KratosConfig{
		PublicURL: ic.KratosPublicURL,
		Timeout:   time.Duration(ic.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})
	return k.Ping(ctx)
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
