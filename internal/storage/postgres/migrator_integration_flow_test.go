package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := connectStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	expect := func(stage string, version int64, applied, pending int) {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("migration status after %s: %v", stage, err)
		}
		if state.Version != version || state.Applied != applied || state.Pending != pending {
			t.Fatalf("unexpected status after %s: %+v", stage, state)
		}
	}

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	expect("reset", 0, 0, 5)

	if err := store.MigrateUp(ctx, 2); err != nil {
		t.Fatalf("migrate up 2: %v", err)
	}
	expect("up 2", 2, 2, 3)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	expect("up all", 5, 5, 0)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("repeated migrate up: %v", err)
	}
	expect("repeated up", 5, 5, 0)

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	expect("down default", 4, 4, 1)

	if err := store.MigrateDown(ctx, 10); err != nil {
		t.Fatalf("migrate down rest: %v", err)
	}
	expect("full down", 0, 0, 5)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty schema: %v", err)
	}
}

func TestMigrator_DetectsEditedMigration(t *testing.T) {
	store := migratedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx, `UPDATE market_schema_migrations SET checksum = 'edited' WHERE version = 1`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}
	t.Cleanup(func() {
		all, _ := loadMigrationsFromFS(migrationsFS)
		_, _ = store.DB().ExecContext(context.Background(),
			`UPDATE market_schema_migrations SET checksum = $1 WHERE version = 1`, all[0].checksum())
	})

	if err := store.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected drift error")
	}
}

func TestMigrator_NilStore(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}
}
