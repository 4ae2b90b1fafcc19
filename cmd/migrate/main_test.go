package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

func testPostgresDSN(t *testing.T) string {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("MARKETPLACE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	_ = store.Close()
	return dsn
}

func TestRunStatusAndMigratePaths(t *testing.T) {
	dsn := testPostgresDSN(t)
	ctx := context.Background()

	for _, opts := range []options{
		{direction: "status", dsn: dsn},
		{direction: "up", steps: 1, dsn: dsn},
		{direction: "down", steps: 1, dsn: dsn},
		{direction: "up", dsn: dsn},
	} {
		out, err := run(ctx, opts)
		if err != nil {
			t.Fatalf("run(%s) failed: %v", opts.direction, err)
		}
		if !strings.Contains(out, "version=") {
			t.Fatalf("unexpected output: %q", out)
		}
	}
}

func TestRunUnsupportedDirection(t *testing.T) {
	_, err := run(context.Background(), options{direction: "sideways", dsn: "postgres://unused"})
	if err == nil || !strings.Contains(err.Error(), "unsupported direction") {
		t.Fatalf("expected unsupported direction error, got %v", err)
	}
}

func TestResolveDSN(t *testing.T) {
	t.Setenv(envDSN, "")

	if _, err := resolveDSN(options{}); !errors.Is(err, errDSNRequired) {
		t.Fatalf("expected errDSNRequired, got %v", err)
	}

	dsn, err := resolveDSN(options{dsn: " postgres://flag "})
	if err != nil || dsn != "postgres://flag" {
		t.Fatalf("expected flag dsn, got %q (%v)", dsn, err)
	}

	t.Setenv(envDSN, "postgres://env")
	dsn, err = resolveDSN(options{})
	if err != nil || dsn != "postgres://env" {
		t.Fatalf("expected env dsn, got %q (%v)", dsn, err)
	}
}

func TestResolveDSNFromConfig(t *testing.T) {
	t.Setenv(envDSN, "")

	path := filepath.Join(t.TempDir(), "marketplace.yaml")
	content := "storage:\n  driver: postgres\npostgres:\n  dsn: postgres://config\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	dsn, err := resolveDSN(options{configPath: path})
	if err != nil || dsn != "postgres://config" {
		t.Fatalf("expected config dsn, got %q (%v)", dsn, err)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
