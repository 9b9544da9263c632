package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"sparkify/pkg/errors"
)

// ConnConfig holds what is needed to reach a warehouse
type ConnConfig struct {
	Dialect  string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// DSN is the database file for sqlite, ":memory:" for a private
	// in-memory database.
	DSN string

	// Snowflake
	Account   string
	Warehouse string
	Role      string
	Schema    string

	// PingRetries bounds connection attempts after the first
	PingRetries uint64
}

// DataSourceName builds the driver DSN for the configured dialect
func (c ConnConfig) DataSourceName() (string, error) {
	switch strings.ToLower(c.Dialect) {
	case "redshift":
		port := c.Port
		if port == 0 {
			port = 5439
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Host + ":" + strconv.Itoa(port),
			Path:     "/" + c.Database,
			RawQuery: "sslmode=require",
		}
		return u.String(), nil
	case "snowflake":
		return gosnowflake.DSN(&gosnowflake.Config{
			Account:   c.Account,
			User:      c.User,
			Password:  c.Password,
			Database:  c.Database,
			Schema:    c.Schema,
			Warehouse: c.Warehouse,
			Role:      c.Role,
		})
	case "sqlite":
		if c.DSN == "" {
			return "", errors.ConfigError("sqlite requires a database path", "WAREHOUSE.DSN")
		}
		return c.DSN, nil
	}
	_, err := DialectFor(c.Dialect)
	return "", err
}

// Open connects to the configured warehouse and pings it, retrying with
// exponential backoff. Statements themselves are never retried.
func Open(ctx context.Context, cfg ConnConfig, log *slog.Logger) (*sql.DB, Dialect, error) {
	if log == nil {
		log = slog.Default()
	}
	d, err := DialectFor(cfg.Dialect)
	if err != nil {
		return nil, nil, err
	}
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to build connection string").
			WithContext("dialect", d.Name())
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, nil, errors.ConnectionError("Failed to open warehouse connection", err).
			WithContext("dialect", d.Name())
	}
	if d.Name() == "sqlite" {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	retries := cfg.PingRetries
	if retries == 0 {
		retries = 3
	}
	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		err := db.PingContext(pingCtx)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "authentication") {
				return backoff.Permanent(err)
			}
			log.Warn("warehouse ping failed", "dialect", d.Name(), "attempt", attempt, "error", err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		db.Close()
		if strings.Contains(strings.ToLower(err.Error()), "authentication") {
			return nil, nil, errors.New(errors.ErrCodeAuthenticationFailed, "Authentication failed").
				WithContext("user", cfg.User).
				WithSuggestions("Verify DB_USER and DB_PASSWORD, or the password stored in the keyring")
		}
		return nil, nil, errors.ConnectionError(fmt.Sprintf("Failed to connect to %s", d.Name()), err).
			WithContext("host", cfg.Host).
			WithContext("attempts", attempt)
	}

	log.Info("connected to warehouse", "dialect", d.Name(), "attempts", attempt)
	return db, d, nil
}
