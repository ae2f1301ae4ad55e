// Package testdb prepares a live MySQL database for integration tests.
// Tests using it are skipped unless MYSQL_TEST_DSN is set, e.g.
//
//	MYSQL_TEST_DSN='root:secret@tcp(127.0.0.1:3306)/mcp_test' go test ./...
package testdb

import (
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const EnvDSN = "MYSQL_TEST_DSN"

const TableName = "test_table"

// DB is a seeded database: TableName exists with columns id, name, created_at
// and two rows.
type DB struct {
	*sqlx.DB
	DSN    string
	Config *mysql.Config
}

func Open(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set; skipping live MySQL test", EnvDSN)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDSN, err)
	}
	cfg.ParseTime = true
	dsn = cfg.FormatDSN()

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		"DROP TABLE IF EXISTS " + TableName,
		"CREATE TABLE " + TableName + ` (
			id INT PRIMARY KEY AUTO_INCREMENT,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		"INSERT INTO " + TableName + " (name) VALUES ('test1'), ('test2')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed test database: %v", err)
		}
	}

	return &DB{DB: db, DSN: dsn, Config: cfg}
}

// TableExists reports whether name is still present in the test database.
func (d *DB) TableExists(t *testing.T, name string) bool {
	t.Helper()
	var n int
	err := d.Get(&n, `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		d.Config.DBName, name)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return n > 0
}
