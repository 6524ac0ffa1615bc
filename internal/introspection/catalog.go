package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"postgres-graphql/internal/naming"
)

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Filter selects the catalog objects that become part of the schema.
// Read-only tables get no mutation root fields; read-only columns cannot be
// assigned in mutation inputs.
type Filter interface {
	AllowTable(schema, table string, isView bool) bool
	AllowColumn(schema, table, column string) bool
	ReadOnlyTable(schema, table string) bool
	ReadOnlyColumn(schema, table, column string) bool
}

type allowAll struct{}

func (allowAll) AllowTable(string, string, bool) bool       { return true }
func (allowAll) AllowColumn(string, string, string) bool    { return true }
func (allowAll) ReadOnlyTable(string, string) bool          { return false }
func (allowAll) ReadOnlyColumn(string, string, string) bool { return false }

// CatalogOption configures IntrospectDatabase.
type CatalogOption func(*catalogLoader)

// WithFilter restricts introspection to the objects f allows.
func WithFilter(f Filter) CatalogOption {
	return func(l *catalogLoader) {
		if f != nil {
			l.filter = f
		}
	}
}

type catalogLoader struct {
	db     Queryer
	schema *Schema
	filter Filter
}

// IntrospectDatabase reads the PostgreSQL catalog for the given schemas and
// returns a finalized Schema.
func IntrospectDatabase(ctx context.Context, db Queryer, schemas []string, namer *naming.Namer, opts ...CatalogOption) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.StringSlice("db.schemas", schemas),
	)
	defer span.End()

	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	schema := NewSchema()
	l := &catalogLoader{db: db, schema: schema, filter: allowAll{}}
	for _, opt := range opts {
		opt(l)
	}
	for _, nsp := range schemas {
		if err := l.loadEnums(ctx, nsp); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get enums for schema %s: %w", nsp, err)
		}
	}
	for _, nsp := range schemas {
		if err := l.loadTables(ctx, nsp); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get tables for schema %s: %w", nsp, err)
		}
		if err := l.loadColumns(ctx, nsp); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for schema %s: %w", nsp, err)
		}
		if err := l.loadKeys(ctx, nsp); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get keys for schema %s: %w", nsp, err)
		}
	}
	// Foreign keys last: they may point across introspected schemas.
	for _, nsp := range schemas {
		if err := l.loadForeignKeys(ctx, nsp); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get foreign keys for schema %s: %w", nsp, err)
		}
	}

	if err := schema.Finalize(namer); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to finalize schema: %w", err)
	}
	span.SetAttributes(
		attribute.Int("schema.tables", len(schema.Tables)),
		attribute.Int("schema.usable_tables", len(schema.UsableTables())),
	)
	return schema, nil
}

func (l *catalogLoader) loadEnums(ctx context.Context, nsp string) error {
	db, schema := l.db, l.schema
	ctx, span := startSpan(ctx, "introspection.get_enums", attribute.String("db.schema", nsp))
	defer span.End()

	query := `
		SELECT t.typname, e.enumlabel
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_enum e ON e.enumtypid = t.oid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		ORDER BY t.typname, e.enumsortorder
	`

	rows, err := db.QueryContext(ctx, query, nsp)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	var order []string
	labels := make(map[string][]string)
	for rows.Next() {
		var typeName, label string
		if err := rows.Scan(&typeName, &label); err != nil {
			recordSpanError(span, err)
			return err
		}
		if _, seen := labels[typeName]; !seen {
			order = append(order, typeName)
		}
		labels[typeName] = append(labels[typeName], label)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}

	for _, name := range order {
		schema.AddEnum(nsp, name, labels[name])
	}
	return nil
}

func (l *catalogLoader) loadTables(ctx context.Context, nsp string) error {
	db, schema := l.db, l.schema
	ctx, span := startSpan(ctx, "introspection.get_tables", attribute.String("db.schema", nsp))
	defer span.End()

	query := `
		SELECT c.relname, c.relkind IN ('v', 'm'), coalesce(obj_description(c.oid, 'pg_class'), '')
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm')
		ORDER BY c.relname
	`

	rows, err := db.QueryContext(ctx, query, nsp)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var name, comment string
		var isView bool
		if err := rows.Scan(&name, &isView, &comment); err != nil {
			recordSpanError(span, err)
			return err
		}
		if !l.filter.AllowTable(nsp, name, isView) {
			continue
		}
		id := schema.AddTable(nsp, name)
		schema.Tables[id].IsView = isView
		schema.Tables[id].ReadOnly = l.filter.ReadOnlyTable(nsp, name)
		schema.Tables[id].Comment = comment
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (l *catalogLoader) loadColumns(ctx context.Context, nsp string) error {
	db, schema := l.db, l.schema
	ctx, span := startSpan(ctx, "introspection.get_columns", attribute.String("db.schema", nsp))
	defer span.End()

	// Arrays report their element type; domains report their base type.
	query := `
		SELECT
			c.relname,
			a.attname,
			coalesce(en.nspname, tn.nspname),
			coalesce(et.typname, t.typname),
			et.oid IS NOT NULL,
			NOT a.attnotnull,
			a.atthasdef,
			a.attidentity::text,
			a.attgenerated::text,
			coalesce(col_description(c.oid, a.attnum), '')
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_type dt ON dt.oid = a.atttypid
		JOIN pg_catalog.pg_type t ON t.oid = CASE WHEN dt.typtype = 'd' THEN dt.typbasetype ELSE dt.oid END
		JOIN pg_catalog.pg_namespace tn ON tn.oid = t.typnamespace
		LEFT JOIN pg_catalog.pg_type et ON et.oid = t.typelem AND t.typcategory = 'A'
		LEFT JOIN pg_catalog.pg_namespace en ON en.oid = et.typnamespace
		WHERE n.nspname = $1
			AND c.relkind IN ('r', 'p', 'v', 'm')
			AND a.attnum > 0
			AND NOT a.attisdropped
		ORDER BY c.relname, a.attnum
	`

	rows, err := db.QueryContext(ctx, query, nsp)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var tableName, identity, generated string
		var col Column
		if err := rows.Scan(&tableName, &col.DatabaseName, &col.TypeSchema, &col.TypeName, &col.Array,
			&col.Nullable, &col.HasDefault, &identity, &generated, &col.Comment); err != nil {
			recordSpanError(span, err)
			return err
		}
		switch identity {
		case "a":
			col.Identity = IdentityAlways
		case "d":
			col.Identity = IdentityByDefault
		}
		col.Generated = generated == "s"
		if col.Identity != IdentityNone || col.Generated {
			col.HasDefault = true
		}

		tid, ok := schema.FindTable(nsp, tableName)
		if !ok {
			slog.Default().Debug("skipping column of unknown table",
				slog.String("schema", nsp),
				slog.String("table", tableName),
				slog.String("column", col.DatabaseName),
			)
			continue
		}
		if !l.filter.AllowColumn(nsp, tableName, col.DatabaseName) {
			continue
		}
		col.ReadOnly = l.filter.ReadOnlyColumn(nsp, tableName, col.DatabaseName)
		schema.AddColumn(tid, col)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (l *catalogLoader) loadKeys(ctx context.Context, nsp string) error {
	db, schema := l.db, l.schema
	ctx, span := startSpan(ctx, "introspection.get_keys", attribute.String("db.schema", nsp))
	defer span.End()

	query := `
		SELECT c.relname, con.conname, con.contype = 'p', a.attname
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND con.contype IN ('p', 'u')
		ORDER BY c.relname, con.contype, con.conname, k.ord
	`

	rows, err := db.QueryContext(ctx, query, nsp)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	type keyInfo struct {
		table   string
		name    string
		primary bool
		columns []string
	}
	var keys []*keyInfo
	for rows.Next() {
		var table, name, column string
		var primary bool
		if err := rows.Scan(&table, &name, &primary, &column); err != nil {
			recordSpanError(span, err)
			return err
		}
		if n := len(keys); n > 0 && keys[n-1].table == table && keys[n-1].name == name {
			keys[n-1].columns = append(keys[n-1].columns, column)
			continue
		}
		keys = append(keys, &keyInfo{table: table, name: name, primary: primary, columns: []string{column}})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}

	for _, k := range keys {
		tid, ok := schema.FindTable(nsp, k.table)
		if !ok || !hasColumns(schema, tid, k.columns) {
			continue
		}
		if _, err := schema.AddKey(tid, k.name, k.columns, k.primary); err != nil {
			recordSpanError(span, err)
			return err
		}
	}
	return nil
}

func (l *catalogLoader) loadForeignKeys(ctx context.Context, nsp string) error {
	db, schema := l.db, l.schema
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys", attribute.String("db.schema", nsp))
	defer span.End()

	query := `
		SELECT con.conname, c.relname, a.attname, rn.nspname, rc.relname, ra.attname
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_class rc ON rc.oid = con.confrelid
		JOIN pg_catalog.pg_namespace rn ON rn.oid = rc.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refattnum, ord)
		JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		JOIN pg_catalog.pg_attribute ra ON ra.attrelid = rc.oid AND ra.attnum = k.refattnum
		WHERE n.nspname = $1 AND con.contype = 'f'
		ORDER BY c.relname, con.conname, k.ord
	`

	rows, err := db.QueryContext(ctx, query, nsp)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	type fkInfo struct {
		name, table, refSchema, refTable string
		columns, refColumns              []string
	}
	var fks []*fkInfo
	for rows.Next() {
		var name, table, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&name, &table, &column, &refSchema, &refTable, &refColumn); err != nil {
			recordSpanError(span, err)
			return err
		}
		if n := len(fks); n > 0 && fks[n-1].table == table && fks[n-1].name == name {
			fks[n-1].columns = append(fks[n-1].columns, column)
			fks[n-1].refColumns = append(fks[n-1].refColumns, refColumn)
			continue
		}
		fks = append(fks, &fkInfo{
			name: name, table: table, refSchema: refSchema, refTable: refTable,
			columns: []string{column}, refColumns: []string{refColumn},
		})
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}

	for _, fk := range fks {
		tid, ok := schema.FindTable(nsp, fk.table)
		if !ok {
			continue
		}
		rid, ok := schema.FindTable(fk.refSchema, fk.refTable)
		if !ok {
			slog.Default().Debug("skipping foreign key to table outside introspected schemas",
				slog.String("constraint", fk.name),
				slog.String("referenced", fk.refSchema+"."+fk.refTable),
			)
			continue
		}
		if !hasColumns(schema, tid, fk.columns) || !hasColumns(schema, rid, fk.refColumns) {
			slog.Default().Debug("skipping foreign key over filtered columns", slog.String("constraint", fk.name))
			continue
		}
		if err := schema.AddForeignKey(fk.name, tid, fk.columns, rid, fk.refColumns); err != nil {
			recordSpanError(span, err)
			return err
		}
	}
	return nil
}

// hasColumns reports whether every named column survived filtering.
func hasColumns(schema *Schema, table TableID, names []string) bool {
	_, err := schema.columnIDs(table, names)
	return err == nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("postgres-graphql/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
