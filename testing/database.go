// Package testing provides test database setup and fixtures for the ledger and allocation flows
package testing

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/amirphl/plotshare/repository"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDBConfig holds configuration for test database connections
type TestDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// GetTestDBConfig loads test database configuration from environment variables.
// It returns nil when TEST_DB_HOST is unset, selecting the embedded SQLite database.
func GetTestDBConfig() *TestDBConfig {
	if os.Getenv("TEST_DB_HOST") == "" {
		return nil
	}
	return &TestDBConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvAsInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("TEST_DB_SSL_MODE", "disable"),
	}
}

func (c *TestDBConfig) dsn(dbName string) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
	if dbName != "" {
		dsn += " dbname=" + dbName
	}
	return dsn
}

// TestDB represents a test database instance
type TestDB struct {
	DB     *gorm.DB
	Name   string
	config *TestDBConfig
	dir    string
}

// SetupTestDB creates a fresh database with the full schema
func SetupTestDB() (*TestDB, error) {
	config := GetTestDBConfig()
	if config == nil {
		return setupSQLite()
	}
	return setupPostgres(config)
}

// setupSQLite opens a file backed database in a temp dir. A single connection serializes
// writers the same way row locks do on PostgreSQL.
func setupSQLite() (*TestDB, error) {
	dir, err := os.MkdirTemp("", "plotshare_test_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(dir, "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to open sqlite test database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := repository.AutoMigrate(db); err != nil {
		sqlDB.Close()
		os.RemoveAll(dir)
		return nil, err
	}

	return &TestDB{DB: db, Name: path, dir: dir}, nil
}

func setupPostgres(config *TestDBConfig) (*TestDB, error) {
	// Generate unique database name using timestamp and random number
	dbName := fmt.Sprintf("plotshare_test_%d_%d", time.Now().Unix(), rand.Intn(10000))

	adminDB, err := gorm.Open(postgres.Open(config.dsn("")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)).Error
	sqlDB, _ := adminDB.DB()
	sqlDB.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create test database %s: %w", dbName, err)
	}

	tdb := &TestDB{Name: dbName, config: config}

	if _, err := repository.RunMigrations(config.dsn(dbName), findMigrationsDir()); err != nil {
		tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to run migrations on test database %s: %w", dbName, err)
	}

	testDB, err := gorm.Open(postgres.Open(config.dsn(dbName)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		tdb.TeardownTestDB()
		return nil, fmt.Errorf("failed to connect to test database %s: %w", dbName, err)
	}
	tdb.DB = testDB

	return tdb, nil
}

// TeardownTestDB closes connections and removes the database
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB != nil {
		if sqlDB, err := tdb.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	if tdb.config == nil {
		if tdb.dir != "" {
			return os.RemoveAll(tdb.dir)
		}
		return nil
	}

	adminDB, err := gorm.Open(postgres.Open(tdb.config.dsn("")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Printf("Warning: failed to connect to PostgreSQL for cleanup: %v", err)
		return err
	}
	defer func() {
		sqlDB, _ := adminDB.DB()
		sqlDB.Close()
	}()

	// Force disconnect all connections to the test database
	err = adminDB.Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = ? AND pid <> pg_backend_pid()",
		tdb.Name).Error
	if err != nil {
		log.Printf("Warning: failed to terminate connections to test database %s: %v", tdb.Name, err)
	}

	err = adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", tdb.Name)).Error
	if err != nil {
		log.Printf("Warning: failed to drop test database %s: %v", tdb.Name, err)
		return err
	}

	return nil
}

// findMigrationsDir walks up from the working directory to the module root
func findMigrationsDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		if filepath.Dir(dir) == dir {
			return filepath.Join(wd, "migrations")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// TestWithDB sets up a test database, runs the test function, and cleans up
func TestWithDB(testFunc func(*TestDB) error) error {
	testDB, err := SetupTestDB()
	if err != nil {
		return fmt.Errorf("failed to setup test database: %w", err)
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(); cleanupErr != nil {
			log.Printf("Warning: failed to cleanup test database: %v", cleanupErr)
		}
	}()

	return testFunc(testDB)
}

// CreateTestContext creates a context for testing
func CreateTestContext() context.Context {
	return context.Background()
}
