package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/4dn-dcic/foursight-sub000/internal/config"
)

const containerStartTimeout = 60 * time.Second

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var (
		backend    string
		skipDocker bool
	)
	cmd := &cobra.Command{
		Use:   "init [project-dir]",
		Short: "Initialize a new Foursight project",
		Long:  "Writes foursight.yaml for a local backend and optionally starts a Redis-compatible Valkey container.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0], backend, skipDocker)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "sqlite", "store backend: sqlite or redis")
	cmd.Flags().BoolVar(&skipDocker, "skip-docker", false, "do not start a Valkey container for the redis backend")
	return cmd
}

func scaffoldConfig(backend string) (string, error) {
	var store string
	switch backend {
	case "sqlite":
		store = `store:
  backend: sqlite
  sqlite:
    path: ./foursight.db
`
	case "redis":
		store = `store:
  backend: redis
  redis:
    addr: localhost:6379
    keyPrefix: "foursight:"
`
	default:
		return "", fmt.Errorf("init supports the sqlite and redis backends, got %q", backend)
	}
	return `environment: dev
` + store + `server:
  addr: ":8080"
checks:
  - name: system_checks/results_store_status
  - name: system_checks/stale_results
    defaults:
      days: 30
  - name: system_checks/purge_stale_results
  - name: test_checks/always_pass
  - name: test_checks/always_warn
  - name: test_checks/noop_action
`, nil
}

func runInit(dir, backend string, skipDocker bool) error {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Initializing Foursight project: %s\n", dir)

	content, err := scaffoldConfig(backend)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	color.Green("  ✓ Wrote %s", path)

	if backend == "redis" {
		switch {
		case skipDocker:
			color.Yellow("  → Valkey setup skipped (--skip-docker)")
		default:
			if err := startValkey(); err != nil {
				color.Yellow("  ⚠ Valkey setup skipped: %v", err)
				color.Yellow("    Run manually: docker run -d --name foursight-valkey -p 6379:6379 valkey/valkey:8")
			} else {
				color.Green("  ✓ Valkey container started")
			}
		}
	}

	fmt.Println()
	_, _ = bold.Println("Next steps:")
	fmt.Printf("  cd %s\n", dir)
	fmt.Println("  foursight run test_checks/always_pass --primary")
	fmt.Println("  foursight serve")
	return nil
}

func startValkey() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not found in PATH")
	}

	// Reuse an existing container.
	if exec.Command("docker", "inspect", "foursight-valkey").Run() == nil {
		if err := exec.Command("docker", "start", "foursight-valkey").Run(); err != nil {
			return fmt.Errorf("starting existing container: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), containerStartTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", "foursight-valkey",
		"-p", "6379:6379",
		"valkey/valkey:8",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
