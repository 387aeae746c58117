package telemetry

import (
	"testing"

	_ "github.com/lib/pq"
)

func TestOpenDB(t *testing.T) {
	// Opening is lazy: no connection is made until first use, so an
	// unreachable DSN still yields a usable handle with pool metrics
	// registered.
	db, err := OpenDB("postgres", "postgres://localhost:1/none?sslmode=disable")
	if err != nil {
		t.Fatalf("expected handle, got error: %v", err)
	}
	defer func() { _ = db.Close() }()

	if db.Stats().OpenConnections != 0 {
		t.Fatalf("expected no open connections, got %d", db.Stats().OpenConnections)
	}
}
