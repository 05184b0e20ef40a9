package db

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a migrated, private in-memory SQLite database that is
// closed when the test ends.
func NewTestDB(t testing.TB) *DB {
	t.Helper()
	d, err := NewDB(Options{
		Driver:      DriverSQLite,
		DSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		AutoMigrate: true,
		LogLevel:    logger.Silent,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
