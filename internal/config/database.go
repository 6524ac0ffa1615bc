package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// DSN returns a connection string for the pgx driver.
// If ConnectionString is set it is used as given; otherwise a postgres:// URL is
// built from the discrete fields.
func (d *DatabaseConfig) DSN() string {
	if dsn := strings.TrimSpace(d.ConnectionString); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.SSLRootCert != "" {
		q.Set("sslrootcert", d.SSLRootCert)
	}
	if d.ApplicationName != "" {
		q.Set("application_name", d.ApplicationName)
	}
	if d.StatementTimeout > 0 {
		q.Set("statement_timeout", strconv.FormatInt(d.StatementTimeout.Milliseconds(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedactedDSN returns the target of DSN without credentials, for logs.
func (d *DatabaseConfig) RedactedDSN() string {
	cfg, err := pgconn.ParseConfig(d.DSN())
	if err != nil {
		return "<invalid dsn>"
	}
	return fmt.Sprintf("%s@%s/%s", cfg.User, net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))), cfg.Database)
}

// parseDSN checks that pgx accepts the effective connection string.
func (d *DatabaseConfig) parseDSN() (*pgconn.Config, error) {
	return pgconn.ParseConfig(d.DSN())
}
