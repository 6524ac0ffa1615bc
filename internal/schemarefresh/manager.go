// Package schemarefresh keeps the active schema snapshot in step with the
// database catalog. Snapshots are immutable; a refresh builds a new one and
// swaps it in atomically, so in-flight requests keep the schema they started
// with.
package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/logging"
	"postgres-graphql/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Snapshot is one immutable build of the schema model.
type Snapshot struct {
	Schema      *introspection.Schema
	BuiltAt     time.Time
	Fingerprint string
}

// Loader builds a finalized schema from the catalog.
type Loader func(ctx context.Context) (*introspection.Schema, error)

// Config controls schema refresh behavior.
type Config struct {
	// Queryer runs the fingerprint queries.
	Queryer introspection.Queryer
	// Schemas are the catalog schemas covered by the fingerprint.
	Schemas []string
	Load    Loader
	Logger  *logging.Logger
	Metrics *observability.SchemaRefreshMetrics
	// The poll interval starts at MinInterval, grows while nothing changes
	// and is capped at MaxInterval.
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Manager maintains and refreshes schema snapshots.
type Manager struct {
	queryer     introspection.Queryer
	schemas     []string
	load        Loader
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration

	active     atomic.Pointer[Snapshot]
	components atomic.Pointer[map[string]string]
	refreshMu  sync.Mutex
	wg         sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Queryer == nil {
		return nil, fmt.Errorf("schema refresh manager requires a queryer")
	}
	if cfg.Load == nil {
		return nil, fmt.Errorf("schema refresh manager requires a loader")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	schemas := cfg.Schemas
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	m := &Manager{
		queryer:     cfg.Queryer,
		schemas:     append([]string(nil), schemas...),
		load:        cfg.Load,
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}

	if err := m.refresh(ctx, observability.RefreshStartup, false); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the active snapshot.
func (m *Manager) Current() *Snapshot {
	return m.active.Load()
}

// Schema returns the schema of the active snapshot.
func (m *Manager) Schema() *introspection.Schema {
	if snap := m.active.Load(); snap != nil {
		return snap.Schema
	}
	return nil
}

// Start begins the background refresh loop. It stops when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Wait blocks until the refresh loop exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshNow rebuilds the schema even when the fingerprint is unchanged.
func (m *Manager) RefreshNow(ctx context.Context) error {
	return m.refresh(ctx, observability.RefreshManual, false)
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			interval = m.refreshOnce(ctx, interval)
			timer.Reset(interval)
		}
	}
}

// refreshOnce polls the fingerprint and rebuilds on change. It returns the
// next poll interval.
func (m *Manager) refreshOnce(ctx context.Context, interval time.Duration) time.Duration {
	err := m.refresh(ctx, observability.RefreshPoll, true)
	switch {
	case errors.Is(err, errUnchanged):
		return nextInterval(interval, m.minInterval, m.maxInterval)
	case err != nil:
		m.logger.Error("schema refresh failed", slog.String("error", err.Error()))
	}
	return m.minInterval
}

// refresh runs rebuild and records its outcome under trigger.
func (m *Manager) refresh(ctx context.Context, trigger string, onlyOnChange bool) error {
	start := time.Now()
	err := m.rebuild(ctx, onlyOnChange)
	outcome := observability.RefreshRebuilt
	switch {
	case errors.Is(err, errUnchanged):
		outcome = observability.RefreshUnchanged
	case err != nil:
		outcome = observability.RefreshFailed
	}
	m.metrics.RecordRefresh(ctx, trigger, outcome, time.Since(start))
	return err
}

var errUnchanged = errors.New("schema unchanged")

// rebuild computes the fingerprint and, unless onlyOnChange is set and it
// matches the active snapshot, loads and swaps in a new schema.
func (m *Manager) rebuild(ctx context.Context, onlyOnChange bool) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	fingerprint, components, err := m.computeFingerprint(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute schema fingerprint: %w", err)
	}

	current := m.active.Load()
	if onlyOnChange && current != nil && current.Fingerprint == fingerprint {
		return errUnchanged
	}
	if current != nil {
		var previous map[string]string
		if p := m.components.Load(); p != nil {
			previous = *p
		}
		m.logger.Info("schema change detected, rebuilding",
			slog.String("fingerprint", fingerprint),
			slog.Any("changed_components", changedComponents(previous, components)),
		)
	}

	schema, err := m.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild schema: %w", err)
	}
	snap := &Snapshot{Schema: schema, BuiltAt: time.Now(), Fingerprint: fingerprint}
	m.active.Store(snap)
	m.components.Store(&components)
	m.metrics.SetActiveSnapshot(len(schema.Tables), len(schema.RootFieldNames()), snap.BuiltAt)
	m.logger.Info("schema snapshot active",
		slog.String("fingerprint", fingerprint),
		slog.Int("root_fields", len(schema.RootFieldNames())),
	)
	return nil
}

// fingerprintComponents hash the catalog metadata that changes the schema
// model. Comments are left out.
var fingerprintComponents = []struct {
	name  string
	query string
}{
	{
		name: "tables",
		query: `
			SELECT c.relname, c.relkind::text
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm')
			ORDER BY c.relname
		`,
	},
	{
		name: "columns",
		query: `
			SELECT c.relname, a.attname, format_type(a.atttypid, a.atttypmod),
				a.attnotnull::text, a.atthasdef::text, a.attidentity::text, a.attgenerated::text
			FROM pg_catalog.pg_attribute a
			JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1
				AND c.relkind IN ('r', 'p', 'v', 'm')
				AND a.attnum > 0
				AND NOT a.attisdropped
			ORDER BY c.relname, a.attnum
		`,
	},
	{
		name: "constraints",
		query: `
			SELECT c.relname, con.conname, con.contype::text, pg_catalog.pg_get_constraintdef(con.oid)
			FROM pg_catalog.pg_constraint con
			JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND con.contype IN ('p', 'u', 'f')
			ORDER BY c.relname, con.conname
		`,
	},
	{
		name: "enums",
		query: `
			SELECT t.typname, e.enumlabel
			FROM pg_catalog.pg_type t
			JOIN pg_catalog.pg_enum e ON e.enumtypid = t.oid
			JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
			WHERE n.nspname = $1
			ORDER BY t.typname, e.enumsortorder
		`,
	},
}

func (m *Manager) computeFingerprint(ctx context.Context) (string, map[string]string, error) {
	ctx, span := otel.Tracer(observability.InstrumentationName+"/introspection").
		Start(ctx, "introspection.compute_fingerprint")
	defer span.End()

	components := make(map[string]string, len(fingerprintComponents))
	for _, component := range fingerprintComponents {
		hash := sha256.New()
		for _, nsp := range m.schemas {
			_, _ = fmt.Fprintf(hash, "schema:%s\n", nsp)
			if err := hashQuery(ctx, m.queryer, hash, component.query, nsp); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", nil, fmt.Errorf("%s: %w", component.name, err)
			}
		}
		components[component.name] = hex.EncodeToString(hash.Sum(nil))
	}

	fingerprint := combineComponentHashes(components)
	span.SetAttributes(
		attribute.StringSlice("db.schemas", m.schemas),
		attribute.String("schema.fingerprint", fingerprint),
	)
	return fingerprint, components, nil
}

type hashWriter interface {
	Write(p []byte) (int, error)
}

func hashQuery(ctx context.Context, queryer introspection.Queryer, hash hashWriter, query string, args ...any) error {
	rows, err := queryer.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]*string, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return err
		}
		// Length-prefixed cells avoid ambiguity from delimiter collisions.
		for _, value := range values {
			cell := ""
			if value != nil {
				cell = *value
			}
			_, _ = fmt.Fprintf(hash, "%d:%s|", len(cell), cell)
		}
		_, _ = hash.Write([]byte{'\n'})
	}
	return rows.Err()
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func combineComponentHashes(components map[string]string) string {
	if len(components) == 0 {
		return ""
	}
	keys := make([]string, 0, len(components))
	for key := range components {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hash := sha256.New()
	for _, key := range keys {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", key, components[key])
	}
	return hex.EncodeToString(hash.Sum(nil))
}

func changedComponents(previous, current map[string]string) []string {
	var changed []string
	for key, value := range current {
		if previous[key] != value {
			changed = append(changed, key)
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
