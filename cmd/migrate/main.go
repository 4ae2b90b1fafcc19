package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envDSN         = "MARKETPLACE_POSTGRES_DSN"
)

var errDSNRequired = errors.New(envDSN + " (or -dsn, or postgres.dsn in -config) is required")

type options struct {
	direction  string
	steps      int
	dsn        string
	configPath string
}

func main() {
	var opts options
	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envDSN+")")
	flag.StringVar(&opts.configPath, "config", "", "marketplace YAML config to read postgres.dsn from")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	out, err := run(ctx, opts)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(out)
}

// resolveDSN выбирает DSN: флаг, затем переменная окружения, затем конфиг.
func resolveDSN(opts options) (string, error) {
	if dsn := strings.TrimSpace(opts.dsn); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(os.Getenv(envDSN)); dsn != "" {
		return dsn, nil
	}
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return "", err
		}
		if dsn := strings.TrimSpace(cfg.Postgres.DSN); dsn != "" {
			return dsn, nil
		}
	}
	return "", errDSNRequired
}

func run(ctx context.Context, opts options) (string, error) {
	direction := strings.ToLower(strings.TrimSpace(opts.direction))
	switch direction {
	case "up", "down", "status":
	default:
		return "", fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	dsn, err := resolveDSN(opts)
	if err != nil {
		return "", err
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return "", fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	prefix := "migration status"
	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return "", fmt.Errorf("migrate up failed: %w", err)
		}
		prefix = "migrate up ok"
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return "", fmt.Errorf("migrate down failed: %w", err)
		}
		prefix = "migrate down ok"
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("migration status failed: %w", err)
	}
	return fmt.Sprintf("%s: version=%d applied=%d", prefix, state.Version, state.Applied), nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
