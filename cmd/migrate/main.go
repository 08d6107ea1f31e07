package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "SHOP_POSTGRES_DSN"
)

func main() {
	var (
		direction string
		steps     int
		dsn       string
	)

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnEnv+")")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv(dsnEnv))
	}
	if dsn == "" {
		fail("%s (or -dsn) is required", dsnEnv)
	}
	direction = strings.ToLower(strings.TrimSpace(direction))
	if !validDirection(direction) {
		fail("unsupported direction: %s (use up|down|status)", direction)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn, postgres.WithMaxConns(2), postgres.WithPingTimeout(defaultTimeout))
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	state, err := migrate(ctx, store, direction, steps)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(formatState(direction, state))
}

type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func validDirection(direction string) bool {
	switch direction {
	case "up", "down", "status":
		return true
	}
	return false
}

func migrate(ctx context.Context, m migrator, direction string, steps int) (postgres.MigrationState, error) {
	switch direction {
	case "up":
		if err := m.MigrateUp(ctx, steps); err != nil {
			return postgres.MigrationState{}, fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := m.MigrateDown(ctx, steps); err != nil {
			return postgres.MigrationState{}, fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return postgres.MigrationState{}, fmt.Errorf("unsupported direction: %s", direction)
	}

	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return postgres.MigrationState{}, fmt.Errorf("migration status failed: %w", err)
	}
	return state, nil
}

func formatState(direction string, state postgres.MigrationState) string {
	prefix := "migrate " + direction + " ok"
	if direction == "status" {
		prefix = "migration status"
	}
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", prefix, state.Version, state.Applied, state.Pending())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
