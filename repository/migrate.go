package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/amirphl/plotshare/models"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"gorm.io/gorm"
)

// Models lists every persisted entity in dependency order
func Models() []any {
	return []any{
		&models.Wallet{},
		&models.Transaction{},
		&models.PropertyProject{},
		&models.Plot{},
		&models.TeamStats{},
		&models.Investment{},
		&models.PlotHolding{},
		&models.Sale{},
		&models.Profit{},
		&models.AuditLog{},
	}
}

// AutoMigrate creates or updates the schema from the gorm models.
// PostgreSQL deployments use the SQL files under migrations/ instead.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// RunMigrations executes every up migration in dir, in file name order, through lib/pq.
// It returns the number of files applied.
func RunMigrations(databaseURL, dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, fmt.Errorf("migrations directory not found at %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return 0, fmt.Errorf("failed to ping database: %w", err)
	}

	applied := 0
	for _, path := range files {
		if strings.HasSuffix(path, ".down.sql") {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration file %s: %w", path, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return applied, fmt.Errorf("failed to execute migration %s: %w", filepath.Base(path), err)
		}
		applied++
	}
	return applied, nil
}
