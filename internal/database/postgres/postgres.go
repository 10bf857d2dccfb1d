package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"oracle-service/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var DBStatus bool

func dsn(cfg config.PostgresConfig, dbname string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, dbname)
}

// ensureDatabase creates cfg.DBname through the maintenance database when it
// does not exist yet. The returned flag reports whether it was created.
func ensureDatabase(cfg config.PostgresConfig) (bool, error) {
	maintenance, err := sql.Open("postgres", dsn(cfg, "postgres"))
	if err != nil {
		return false, fmt.Errorf("failed to connect to default postgres db: %w", err)
	}
	defer maintenance.Close()

	var exists bool
	err = maintenance.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.DBname).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if database exists: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err = maintenance.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, cfg.DBname)); err != nil {
		return false, fmt.Errorf("failed to create database %s: %w", cfg.DBname, err)
	}
	log.Printf("Database '%s' created", cfg.DBname)
	return true, nil
}

func ConnectAndCreateDB(cfg config.PostgresConfig) (*sqlx.DB, error) {
	log.Printf("Connecting to PostgreSQL with: host=%s, port=%s, user=%s, dbname=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.DBname)

	created, err := ensureDatabase(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", dsn(cfg, cfg.DBname))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to oracle database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if created {
		if err := applySchema(db); err != nil {
			// schema can still be applied by hand
			log.Printf("Warning: failed to apply schema.sql: %v", err)
		}
	}

	DBStatus = true
	return db, nil
}

func findSchema() (string, error) {
	candidates := []string{
		"schema.sql",
		"/app/schema.sql",
		filepath.Join(os.Getenv("PWD"), "schema.sql"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("schema.sql not found in any of %v", candidates)
}

// applySchema runs schema.sql statement by statement. A failing statement is
// logged and skipped so one bad index does not block the rest of the tables.
func applySchema(db *sqlx.DB) error {
	path, err := findSchema()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	log.Printf("Applying schema from: %s", path)
	applied, skipped := 0, 0
	for i, statement := range strings.Split(string(content), ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if _, err := db.Exec(statement); err != nil {
			log.Printf("Warning: schema statement %d failed: %v (%s)", i+1, err, statement[:min(100, len(statement))])
			skipped++
			continue
		}
		applied++
	}

	log.Printf("Schema applied: %d statements ok, %d skipped", applied, skipped)
	return nil
}

// RetryConnectOnFailed blocks until the database answers a ping.
func RetryConnectOnFailed(wait time.Duration, db **sqlx.DB, cfg config.PostgresConfig) {
	for {
		if *db != nil {
			err := (*db).Ping()
			if err == nil {
				return
			}
			log.Printf("oracle database ping failed: %s, reconnecting", err)
		}

		newDB, err := ConnectAndCreateDB(cfg)
		if err == nil {
			*db = newDB
			log.Printf("oracle database reconnected")
			return
		}
		log.Printf("oracle database reconnect failed: %s, next attempt in %v", err, wait)
		time.Sleep(wait)
	}
}
