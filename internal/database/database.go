package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

const (
	// DriverSQLite opens an embedded SQLite file through the pure-Go driver.
	DriverSQLite = "sqlite"
	// DriverPostgres opens a PostgreSQL connection from a DSN.
	DriverPostgres = "postgres"
)

// Options selects and configures the backing store.
type Options struct {
	Driver  string
	Path    string
	DSN     string
	Tracing bool
}

// Open establishes a connection, migrates the provided models, and applies data migrations.
func Open(options Options, logger *zap.Logger, models ...interface{}) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		db, err = OpenSQLite(options.Path, gormConfig)
	case DriverPostgres:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(postgres.Open(options.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if options.Tracing {
		if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("database tracing plugin: %w", err)
		}
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(append(models, &migrationRecord{})...); err != nil {
			return nil, err
		}
		if err := applyMigrations(db, logger); err != nil {
			return nil, err
		}
	}

	logger.Info("database initialized",
		zap.String("driver", db.Dialector.Name()),
		zap.String("path", options.Path))

	return db, nil
}

// OpenSQLite establishes a SQLite connection limited to a single writer connection.
// Every transaction is serialized through that connection, so callers must never
// issue queries on the root handle while holding a transaction.
func OpenSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if gormConfig == nil {
		gormConfig = &gorm.Config{TranslateError: true}
	}

	db, err := gorm.Open(sqlite.Open(path+sqlitePragmas(path)), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func sqlitePragmas(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return separator + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
