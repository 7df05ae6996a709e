//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_Migrated(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx := context.Background()

	var exists bool
	err := engineDB.DB.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'edp_jobs')").
		Scan(&exists)
	if err != nil {
		t.Fatalf("failed to query information_schema: %v", err)
	}
	if !exists {
		t.Error("expected edp_jobs table after migrations")
	}
}

func TestRedis_Ping(t *testing.T) {
	r := GetTestRedis(t)

	if err := r.Client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}
