package store

import (
	"context"
	"os"
	"testing"
)

// newTestMySQLStore connects to the MySQL instance named by
// TEST_MYSQL_DSN, e.g.:
//
//	TEST_MYSQL_DSN="root:secret@tcp(localhost:3306)/stepflow_test" go test ./...
//
// The suite is skipped when the variable is unset so the default test
// run needs no external services.
func newTestMySQLStore(t *testing.T) *MySQLStore[testDoc] {
	t.Helper()

	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set; skipping MySQL store tests")
	}

	st, err := NewMySQLStore[testDoc](dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMySQLStoreContract(t *testing.T) {
	runStoreContract(t, newTestMySQLStore(t))
}

func TestMySQLStorePing(t *testing.T) {
	st := newTestMySQLStore(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMySQLStoreClosed(t *testing.T) {
	st := newTestMySQLStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := st.SaveRun(context.Background(), sampleRun("x")); err == nil {
		t.Error("SaveRun on closed store should fail")
	}
}
