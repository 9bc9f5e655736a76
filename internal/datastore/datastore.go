// Package datastore opens the SQL database that backs persistent cache
// partitions.
package datastore

import (
	"fmt"
	"net/url"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"github.com/tphakala/offlinecache/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// Config selects the SQL driver and connection.
type Config struct {
	// Driver is "sqlite" or "mysql".
	Driver string
	// DSN is a sqlite file path (or ":memory:") or a MySQL DSN.
	DSN string
	// Debug enables gorm SQL logging.
	Debug bool
}

// Open connects to the database and migrates the cache schema.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
	case "mysql":
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, errors.New(fmt.Errorf("invalid mysql dsn: %w", err)).
				Component("datastore").
				Category(errors.CategoryConfiguration).
				Build()
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported datastore driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	logMode := gorm_logger.Silent
	if cfg.Debug {
		logMode = gorm_logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gorm_logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the cache tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.Partition{}, &entities.CacheEntry{}); err != nil {
		return errors.New(fmt.Errorf("failed to migrate cache tables: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(dsn string) string {
	switch dsn {
	case "", ":memory:":
		return "file::memory:?cache=shared&_foreign_keys=ON"
	default:
		return "file:" + dsn + "?_foreign_keys=ON&_busy_timeout=5000"
	}
}

// mysqlDSN forces parsed timestamps and defaults the charset to utf8mb4 for
// arbitrary URLs. An explicit charset in the DSN is kept.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	// The driver moves charset out of Params into an unexported field, so
	// look at the raw query. Like the driver, split on the last slash so a
	// password may contain '?'.
	_, rawQuery, _ := strings.Cut(dsn[strings.LastIndex(dsn, "/")+1:], "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}
	if !query.Has("charset") {
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}
