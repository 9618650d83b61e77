package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jeffstoner/ganymede/internal/db"
)

// NewTestDB creates an in-memory SQLite store with the embedded migrations applied
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Every pooled connection to :memory: is a separate database
	database.SetMaxOpenConns(1)

	if _, err := database.Migrate(""); err != nil {
		database.Close()
		t.Fatalf("failed to initialize test schema: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// SeedAgent creates an agent assigned to the named geo and release "r1",
// creating the geo and release when missing
func SeedAgent(t *testing.T, database *db.DB, uid, geoName string, enabled, active bool) (*db.Agent, *db.GeoConfig) {
	t.Helper()
	ctx := context.Background()

	geo, err := database.GetGeoConfigByShortName(ctx, geoName)
	if db.IsNotFound(err) {
		geo = &db.GeoConfig{
			ShortName: geoName,
			DBHost:    "db." + geoName + ".internal",
			DBSchema:  "cc_" + geoName,
			DBUser:    "loader",
			DBPass:    "secret",
		}
		if err := database.CreateGeoConfig(ctx, geo); err != nil {
			t.Fatalf("failed to create geo config: %v", err)
		}
	} else if err != nil {
		t.Fatalf("failed to look up geo config: %v", err)
	}

	release, err := database.GetGeoReleaseByName(ctx, "r1")
	if db.IsNotFound(err) {
		release = &db.GeoRelease{Release: "r1", DBTables: "accounts orders"}
		if err := database.CreateGeoRelease(ctx, release); err != nil {
			t.Fatalf("failed to create geo release: %v", err)
		}
	} else if err != nil {
		t.Fatalf("failed to look up geo release: %v", err)
	}

	agent := &db.Agent{UID: uid, Name: "agent " + uid, Enabled: enabled, Active: active}
	if err := database.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}

	if err := database.UpsertAssignment(ctx, agent.ID, geo.ID, release.ID); err != nil {
		t.Fatalf("failed to assign agent: %v", err)
	}

	return agent, geo
}

// LogEvent appends one event to a real store
func LogEvent(t *testing.T, database *db.DB, transactionID string, geo int64, ts time.Time, stage, status string) *db.LogEvent {
	t.Helper()

	e := &db.LogEvent{
		TransactionID: transactionID,
		GeoID:         geo,
		Timestamp:     ts,
		Stage:         stage,
		Status:        status,
		Message:       stage + " " + status,
	}
	if err := database.AppendEvent(context.Background(), e); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	return e
}
