// Package sqlstore implements the repositories on top of sqlx for SQLite,
// MySQL and PostgreSQL.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DB wraps the connection pool. Writes are serialized through mu so SQLite
// never sees concurrent writers.
type DB struct {
	conn   *sqlx.DB
	driver string
	mu     sync.RWMutex
}

// NormalizeDriver maps accepted driver aliases to a registered driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// New opens the database. The schema is not touched; call Migrate.
func New(driver, dsn string) (*DB, error) {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// NewWithConn wraps an existing connection, e.g. one backed by sqlmock.
func NewWithConn(conn *sqlx.DB, driver string) *DB {
	if d, err := NormalizeDriver(driver); err == nil {
		driver = d
	}
	return &DB{conn: conn, driver: driver}
}

// ensureDir creates the directory holding a sqlite database file.
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// Migrate creates the tables if they don't exist.
func (db *DB) Migrate(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, stmt := range schema(db.driver) {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// rebind converts ? placeholders to the driver's bindvar style.
func (db *DB) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(db.driver), query)
}

func schema(driver string) []string {
	switch driver {
	case DriverMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				enrollment_number VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE KEY uq_users_enrollment (enrollment_number)
			)`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				identity VARCHAR(64) NOT NULL,
				attendance_date VARCHAR(10) NOT NULL,
				attendance_time VARCHAR(8) NOT NULL,
				category VARCHAR(64) NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'Present',
				UNIQUE KEY uq_attendance (identity, attendance_date, category),
				KEY idx_attendance_date (attendance_date)
			)`,
		}
	case DriverPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				enrollment_number TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id BIGSERIAL PRIMARY KEY,
				identity TEXT NOT NULL,
				attendance_date VARCHAR(10) NOT NULL,
				attendance_time VARCHAR(8) NOT NULL,
				category TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'Present',
				UNIQUE (identity, attendance_date, category)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(attendance_date)`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				enrollment_number TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				identity TEXT NOT NULL,
				attendance_date TEXT NOT NULL,
				attendance_time TEXT NOT NULL,
				category TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'Present',
				UNIQUE (identity, attendance_date, category)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(attendance_date)`,
		}
	}
}

// isUniqueViolation reports whether err is a unique constraint failure from
// any supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
