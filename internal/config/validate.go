package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/naming"
	"postgres-graphql/internal/schemafilter"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Schema.validate(result)
	c.Compiler.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)
	validateNamingConfig(result, c.Naming)
	return result
}

var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.ConnectionString) == "" {
		if d.Host == "" {
			result.addError("database.host", "host is required when dsn is not set", "set database.host or database.dsn")
		}
		if d.Port < 1 || d.Port > 65535 {
			result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if d.User == "" {
			result.addError("database.user", "user is required when dsn is not set", "")
		}
		if d.Database == "" {
			result.addError("database.database", "database is required when dsn is not set", "")
		}
		if !validSSLModes[d.SSLMode] && d.SSLMode != "" {
			result.addError("database.sslmode", fmt.Sprintf("invalid sslmode %q", d.SSLMode),
				"valid values are: disable, allow, prefer, require, verify-ca, verify-full")
		}
		if (d.SSLMode == "verify-ca" || d.SSLMode == "verify-full") && d.SSLRootCert == "" {
			result.addWarning("database.sslrootcert", "no CA certificate configured for "+d.SSLMode,
				"the system certificate pool will be used")
		}
		if d.SSLMode == "disable" {
			result.addWarning("database.sslmode", "TLS is disabled for database connections", "use require or verify-full outside development")
		}
	}
	if _, err := d.parseDSN(); err != nil {
		result.addError("database.dsn", fmt.Sprintf("connection string is not valid: %v", err), "use a postgres:// URL or libpq keyword/value string")
	}

	if len(d.Schemas) == 0 {
		result.addError("database.schemas", "at least one schema is required", "the default is public")
	}
	for _, s := range d.Schemas {
		if strings.TrimSpace(s) == "" {
			result.addError("database.schemas", "schema names cannot be empty", "")
			break
		}
	}

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.addWarning("database.pool.max_idle", "max_idle exceeds max_open", "database/sql caps idle connections at max_open")
	}
	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval <= 0 {
		result.addError("database.connection_retry_interval", "retry interval must be positive when connection_timeout is set", "")
	}
	if d.StatementTimeout < 0 {
		result.addError("database.statement_timeout", "statement_timeout cannot be negative", "")
	}
}

func (s *SchemaConfig) validate(result *ValidationResult) {
	switch s.Source {
	case SchemaSourceCatalog:
		if s.SDLFile != "" {
			result.addWarning("schema.sdl_file", "sdl_file is ignored for the catalog source", "set schema.source to sdl")
		}
	case SchemaSourceSDL:
		if strings.TrimSpace(s.SDLFile) == "" {
			result.addError("schema.sdl_file", "sdl_file is required for the sdl source", "")
		}
	default:
		result.addError("schema.source", fmt.Sprintf("invalid schema source %q", s.Source), "valid values are: catalog, sdl")
	}

	patterns := schemafilter.Patterns(s.Filter)
	fields := make([]string, 0, len(patterns))
	for field := range patterns {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, pattern := range patterns[field] {
			if !schemafilter.ValidPattern(pattern) {
				result.addError("schema.filter."+field, fmt.Sprintf("invalid glob pattern %q", pattern), "patterns use path.Match syntax")
			}
		}
	}
	if s.Source == SchemaSourceSDL && hasFilterRules(s.Filter) {
		result.addWarning("schema.filter", "filters apply to the catalog source only", "edit the schema file instead")
	}

	if s.RefreshMinInterval < 0 {
		result.addError("schema.refresh_min_interval", "refresh_min_interval cannot be negative", "use 0 to disable refresh")
	}
	if s.RefreshMinInterval > 0 {
		if s.RefreshMaxInterval < s.RefreshMinInterval {
			result.addError("schema.refresh_max_interval", "refresh_max_interval must be at least refresh_min_interval", "")
		}
		if s.Source == SchemaSourceSDL {
			result.addWarning("schema.refresh_min_interval", "refresh applies to the catalog source only", "")
		}
	}
}

func hasFilterRules(f schemafilter.Config) bool {
	return len(f.AllowTables)+len(f.DenyTables)+len(f.DenyMutationTables)+
		len(f.AllowColumns)+len(f.DenyColumns)+len(f.DenyMutationColumns) > 0
}

func (c *CompilerConfig) validate(result *ValidationResult) {
	if c.MaxPageSize < 1 {
		result.addError("compiler.max_page_size", "max_page_size must be at least 1", "")
	}
	if c.DefaultPageSize < 1 {
		result.addError("compiler.default_page_size", "default_page_size must be at least 1", "")
	} else if c.MaxPageSize >= 1 && c.DefaultPageSize > c.MaxPageSize {
		result.addError("compiler.default_page_size",
			fmt.Sprintf("default_page_size %d exceeds max_page_size %d", c.DefaultPageSize, c.MaxPageSize), "")
	}
	for field, v := range map[string]int{
		"compiler.max_depth":      c.MaxDepth,
		"compiler.max_complexity": c.MaxComplexity,
		"compiler.max_rows":       c.MaxRows,
	} {
		if v < 0 {
			result.addError(field, "limit cannot be negative", "use 0 to disable the limit")
		}
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}
	if s.MaxRequestBytes <= 0 {
		result.addError("server.max_request_bytes", "max_request_bytes must be positive", "")
	}
	if s.RequestTimeout < 0 {
		result.addError("server.request_timeout", "request_timeout cannot be negative", "")
	}
	if s.CompileEndpointEnabled && strings.TrimSpace(s.CompileAuthToken) == "" {
		result.addWarning("server.compile_auth_token", "compile endpoint is enabled without a token",
			"anyone who can reach the server can read generated SQL; set server.compile_auth_token")
	}
	if s.WriteTimeout > 0 && s.RequestTimeout > s.WriteTimeout {
		result.addWarning("server.request_timeout", "request_timeout exceeds write_timeout",
			"responses of long requests will be cut off by the HTTP server")
	}

	if s.Roles.Enabled {
		if strings.TrimSpace(s.Roles.Header) == "" {
			result.addError("server.roles.header", "role header is required when roles are enabled", "")
		}
		if len(s.Roles.AllowedRoles) == 0 {
			result.addError("server.roles.allowed_roles", "allowed_roles is required when roles are enabled",
				"list the database roles clients may assume")
		}
	} else if s.Roles.Required {
		result.addError("server.roles.required", "roles.required has no effect unless roles.enabled is true", "")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "rate_limit_rps must be positive when rate limiting is enabled", "")
		}
		if s.RateLimitBurst < 1 {
			result.addError("server.rate_limit_burst", "rate_limit_burst must be at least 1 when rate limiting is enabled", "")
		}
		if s.RateLimitPerRole && (!s.Roles.Enabled || len(s.Roles.AllowedRoles) == 0) {
			result.addWarning("server.rate_limit_per_role", "per-role limits need roles.enabled and roles.allowed_roles", "all requests share one bucket")
		}
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.addError("server.cors_allowed_origins", "at least one origin is required when CORS is enabled", `use "*" to allow any origin`)
		}
		for _, origin := range s.CORSAllowedOrigins {
			if origin == "*" && s.CORSAllowCredentials {
				result.addError("server.cors_allow_credentials", "credentials cannot be allowed with a wildcard origin", "list explicit origins")
			}
		}
		if s.CORSMaxAge < 0 {
			result.addError("server.cors_max_age", "cors_max_age cannot be negative", "")
		}
	}

	for field, v := range map[string]int64{
		"server.read_timeout":         int64(s.ReadTimeout),
		"server.write_timeout":        int64(s.WriteTimeout),
		"server.idle_timeout":         int64(s.IdleTimeout),
		"server.shutdown_timeout":     int64(s.ShutdownTimeout),
		"server.health_check_timeout": int64(s.HealthCheckTimeout),
	} {
		if v < 0 {
			result.addError(field, "timeout cannot be negative", "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if _, err := logging.ParseLevel(o.Logging.Level); err != nil {
		result.addError("observability.logging.level", err.Error(), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.addWarning("observability.sqlcommenter_enabled", "sqlcommenter requires tracing", "enable observability.tracing_enabled")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.addError("naming.plural_overrides", "override keys and values cannot be empty", "")
			break
		}
	}
	for plural, singular := range cfg.SingularOverrides {
		if strings.TrimSpace(plural) == "" || strings.TrimSpace(singular) == "" {
			result.addError("naming.singular_overrides", "override keys and values cannot be empty", "")
			break
		}
	}
}
