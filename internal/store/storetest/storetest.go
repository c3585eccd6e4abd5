// Package storetest opens every repository backend for table-driven tests.
package storetest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
)

// Backends returns a fresh repository per backend, keyed by driver name:
// memory, sqlite (pure Go) and sqlite3 (cgo). sqlite3 is left out when the
// binary was built without cgo. Repositories are closed on cleanup.
func Backends(t testing.TB) map[string]store.Repository {
	t.Helper()
	ctx := context.Background()
	out := map[string]store.Repository{"memory": store.NewMemory()}

	for _, driver := range []string{"sqlite", "sqlite3"} {
		repo, err := store.OpenSQLite(ctx, driver, filepath.Join(t.TempDir(), driver+".db"))
		if err != nil {
			if driver == "sqlite3" && strings.Contains(err.Error(), "cgo") {
				t.Logf("skipping sqlite3 backend: %v", err)
				continue
			}
			t.Fatalf("open %s backend: %v", driver, err)
		}
		out[driver] = repo
	}

	t.Cleanup(func() {
		for _, repo := range out {
			_ = repo.Close()
		}
	})
	return out
}
