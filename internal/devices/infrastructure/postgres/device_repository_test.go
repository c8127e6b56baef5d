package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	devices "fleetpulse-cloud/internal/devices/domain"
	devicerepo "fleetpulse-cloud/internal/devices/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestGet_UnknownDeviceReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	repo := devicerepo.NewDeviceRepository(db)
	device, err := repo.Get(context.Background(), "no-such-device")
	if !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected devices.ErrNotFound, got %v", err)
	}
	if device != nil {
		t.Fatalf("expected nil device, got %+v", device)
	}
}

func TestGet_RoundTripsCreatedDevice(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM control_commands")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices")

	now := time.Now().UTC().Truncate(time.Microsecond)
	repo := devicerepo.NewDeviceRepository(db)
	if err := repo.Create(ctx, &devices.Device{
		DeviceID:           "pump-roundtrip",
		Name:               "roundtrip pump",
		Enabled:            true,
		OperationMode:      devices.ModeActive,
		OfflineAfterS:      900,
		HeartbeatIntervalS: 300,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	device, err := repo.Get(ctx, "pump-roundtrip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if device.Name != "roundtrip pump" || device.OperationMode != devices.ModeActive {
		t.Fatalf("unexpected device: %+v", device)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if !tableExists(db, "devices") {
		db.Close()
		t.Skip("missing tables; run migrations")
	}
	return db
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
