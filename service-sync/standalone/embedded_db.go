package main

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/redinc23/hathor-red-sub003/pkg/config"
	"github.com/redinc23/hathor-red-sub003/pkg/database"
	"github.com/redinc23/hathor-red-sub003/pkg/logger"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	embeddedDB   *embeddedpostgres.EmbeddedPostgres
	dbConnection *sql.DB
	dbPort       uint32
)

// findAvailablePort finds an available port starting from the given port.
func findAvailablePort(startPort uint32) uint32 {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	log.Fatalf("could not find an available port starting from %d", startPort)
	return 0
}

func startEmbeddedDB(ctx context.Context) {
	logger.Info("starting embedded PostgreSQL...")

	dbPort = findAvailablePort(15432)
	logger.Infof("using port %d for PostgreSQL", dbPort)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to get user home directory: %v", err)
	}

	dataDir := filepath.Join(homeDir, ".hathor-sync", "data")
	runtimeDir := filepath.Join(homeDir, ".hathor-sync", "runtime")
	binariesDir := filepath.Join(homeDir, ".hathor-sync", "binaries")

	for _, dir := range []string{dataDir, runtimeDir, binariesDir} {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	// start from an empty data directory to avoid version conflicts
	err = os.RemoveAll(dataDir)
	if err != nil {
		logger.Warnf("failed to clean up existing data directory: %v", err)
	}
	err = os.MkdirAll(dataDir, 0755)
	if err != nil {
		log.Fatalf("failed to recreate data directory: %v", err)
	}

	embeddedDB = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username("postgres").
		Password("postgres").
		Database("hathor").
		Port(dbPort).
		RuntimePath(runtimeDir).
		DataPath(dataDir).
		BinariesPath(binariesDir))

	err = embeddedDB.Start()
	if err != nil {
		log.Fatalf("failed to start embedded PostgreSQL: %v", err)
	}

	logger.Info("waiting for embedded PostgreSQL to be ready...")

	for i := 0; i < 30; i++ {
		time.Sleep(1 * time.Second)

		connectionString := fmt.Sprintf("host=localhost port=%d user=postgres password=postgres dbname=hathor sslmode=disable", dbPort)
		testDB, err := sql.Open("postgres", connectionString)
		if err == nil {
			err := testDB.Ping()
			if err == nil {
				testDB.Close()
				break
			}
			testDB.Close()
		}

		if i == 29 {
			log.Fatalf("embedded PostgreSQL failed to start after 30 seconds")
		}
	}

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            fmt.Sprintf("%d", dbPort),
			Username:        "postgres",
			Password:        "postgres",
			Name:            "hathor",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
	}

	dbConnection, err = database.NewPgDB(cfg)
	if err != nil {
		log.Fatalf("failed to connect to embedded PostgreSQL: %v", err)
	}

	err = initializeSchema()
	if err != nil {
		log.Fatalf("failed to initialize database schema: %v", err)
	}

	logger.Infof("embedded PostgreSQL started on port %d", dbPort)

	<-ctx.Done()

	logger.Info("shutting down embedded PostgreSQL...")
	if dbConnection != nil {
		dbConnection.Close()
	}
	if embeddedDB != nil {
		embeddedDB.Stop()
	}
}

func initializeSchema() error {
	if len(schemaSQL) == 0 {
		return fmt.Errorf("schema.sql is empty or not embedded properly")
	}

	_, err := dbConnection.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// GetDBConnection returns the database connection for readiness checks.
func GetDBConnection() *sql.DB {
	return dbConnection
}

// GetDBPort returns the port of the embedded PostgreSQL instance.
func GetDBPort() uint32 {
	return dbPort
}
