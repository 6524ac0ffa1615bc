package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadArgs loads configuration from a private flag set so tests do not
// touch pflag.CommandLine.
func loadArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return loadWith(viper.New(), fs)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postgres-graphql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadArgs(t)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, []string{"public"}, cfg.Database.Schemas)
	assert.Equal(t, SchemaSourceCatalog, cfg.Schema.Source)
	assert.Equal(t, 25, cfg.Compiler.DefaultPageSize)
	assert.Equal(t, 100, cfg.Compiler.MaxPageSize)
	assert.Equal(t, "X-Database-Role", cfg.Server.Roles.Header)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "postgres-graphql", cfg.Observability.ServiceName)
	assert.True(t, cfg.Schema.Filter.ScanViewsEnabled)
	assert.Empty(t, cfg.Schema.Filter.AllowTables)
	assert.Zero(t, cfg.Schema.RefreshMinInterval)
	assert.Equal(t, 5*time.Minute, cfg.Schema.RefreshMaxInterval)
	assert.False(t, cfg.Validate().HasErrors(), cfg.Validate().Error())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
database:
  host: filehost
  port: 6000
  schemas: [public, billing]
compiler:
  max_page_size: 50
schema:
  filter:
    deny_tables: ["*_intern"]
    deny_columns:
      users: [password_hash]
server:
  port: 7000
  request_timeout: 5s
`)
	t.Setenv("PGGQL_DATABASE_HOST", "envhost")
	t.Setenv("PGGQL_SERVER_PORT", "9000")
	t.Setenv("PGGQL_SERVER_ROLES_ALLOWED_ROLES", "reader, writer")

	cfg, err := loadArgs(t, "--config", path, "--server.port", "9999")
	require.NoError(t, err)

	assert.Equal(t, "envhost", cfg.Database.Host, "env beats file")
	assert.Equal(t, 6000, cfg.Database.Port, "file beats default")
	assert.Equal(t, 9999, cfg.Server.Port, "flag beats env")
	assert.Equal(t, []string{"public", "billing"}, cfg.Database.Schemas)
	assert.Equal(t, 50, cfg.Compiler.MaxPageSize)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"reader", "writer"}, cfg.Server.Roles.AllowedRoles)
	assert.Equal(t, []string{"*_intern"}, cfg.Schema.Filter.DenyTables)
	assert.Equal(t, map[string][]string{"users": {"password_hash"}}, cfg.Schema.Filter.DenyColumns)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
server:
  graphiql_enabled: true
`)
	_, err := loadArgs(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graphiql_enabled")
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := loadArgs(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_SecretsFromFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	pwd := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(pwd, []byte("  s3cret\n"), 0o600))

	cfg, err := loadArgs(t, "--database.password_file", pwd)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)

	stdin = strings.NewReader("postgres://app@db/app\n")
	t.Cleanup(func() { stdin = os.Stdin })
	cfg, err = loadArgs(t, "--database.dsn_file", "@-")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db/app", cfg.Database.ConnectionString)
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", "/tmp/password")
	assert.NoError(t, validateSingleStdinFileSource(v))

	v.Set("database.password_file", " @- ")
	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}
