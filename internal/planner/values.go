package planner

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/sqlir"
	"postgres-graphql/internal/sqltype"
	"postgres-graphql/internal/uuidutil"
)

// valueMode selects the representation a value arrives in.
type valueMode int

const (
	// clientMode values come from GraphQL arguments: enum variant names,
	// base64 bytes and Go duration intervals.
	clientMode valueMode = iota
	// cursorMode values come from cursors, which carry the database's own
	// JSON rendering of the ordering columns.
	cursorMode
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.999999"
)

var naiveTimestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

var timeLayouts = []string{
	"15:04:05",
	"15:04:05Z07:00",
	"15:04:05Z07",
	"15:04:05.999999Z07",
	"15:04",
}

// columnType returns the cast target of a column's element type. Built-in
// types are left unqualified.
func columnType(col *introspection.Column, array bool) sqlir.TypeName {
	schema := col.TypeSchema
	if schema == "pg_catalog" {
		schema = ""
	}
	return sqlir.TypeName{Schema: schema, Name: col.TypeName, Array: array}
}

// columnValue converts v for comparison with, or assignment to, col. Array
// columns expect a list. JSON null becomes SQL NULL.
func (c *compiler) columnValue(col *introspection.Column, v any, mode valueMode, path []string) (sqlir.Expression, error) {
	if v == nil {
		return sqlir.Null, nil
	}
	if col.IsArray() {
		items, ok := v.([]any)
		if !ok {
			return nil, conversionErrorf(path, col.TypeName, "expected a list for array column %s", col.ClientName)
		}
		return c.elementArray(col, items, mode, path)
	}
	return c.scalarExpr(col, v, mode, path)
}

// typedColumnValue is columnValue with an explicit cast, for positions where
// PostgreSQL cannot infer the parameter type.
func (c *compiler) typedColumnValue(col *introspection.Column, v any, mode valueMode, path []string) (sqlir.Expression, error) {
	expr, err := c.columnValue(col, v, mode, path)
	if err != nil {
		return nil, err
	}
	switch expr.(type) {
	case sqlir.Cast, sqlir.EnumValue:
		return expr, nil
	}
	return sqlir.CastAs(expr, columnType(col, col.IsArray())), nil
}

func (c *compiler) scalarExpr(col *introspection.Column, v any, mode valueMode, path []string) (sqlir.Expression, error) {
	value, err := c.scalarValue(col, v, mode, path)
	if err != nil {
		return nil, err
	}
	switch col.Category {
	case sqltype.Enum:
		return sqlir.EnumValue{Value: value, Type: columnType(col, false)}, nil
	case sqltype.JSON, sqltype.JSONB:
		return sqlir.CastAs(sqlir.Value(value), columnType(col, false)), nil
	}
	return sqlir.Value(value), nil
}

// elementArray binds a list of element values as one array parameter cast to
// the column's array type. Elements may be null.
func (c *compiler) elementArray(col *introspection.Column, items []any, mode valueMode, path []string) (sqlir.Expression, error) {
	var bound any
	switch col.Category {
	case sqltype.Int, sqltype.BigInt:
		vals := make([]*int64, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			v, err := c.scalarValue(col, item, mode, appendPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			n := v.(int64)
			vals[i] = &n
		}
		bound = vals
	case sqltype.Float:
		vals := make([]*float64, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			v, err := c.scalarValue(col, item, mode, appendPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			f := v.(float64)
			vals[i] = &f
		}
		bound = vals
	case sqltype.Boolean:
		vals := make([]*bool, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			v, err := c.scalarValue(col, item, mode, appendPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			b := v.(bool)
			vals[i] = &b
		}
		bound = vals
	default:
		vals := make([]*string, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			v, err := c.scalarValue(col, item, mode, appendPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			s := textForm(col.Category, v)
			vals[i] = &s
		}
		bound = vals
	}
	return sqlir.CastAs(sqlir.Value(bound), columnType(col, true)), nil
}

// scalarValue converts one element value into the Go value bound as a
// parameter.
func (c *compiler) scalarValue(col *introspection.Column, v any, mode valueMode, path []string) (any, error) {
	fail := func(format string, args ...any) error {
		return conversionErrorf(path, col.Category.String(), format, args...)
	}

	switch col.Category {
	case sqltype.Int:
		n, ok := toInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fail("expected a 32-bit integer for %s, got %v", col.ClientName, v)
		}
		return n, nil

	case sqltype.BigInt:
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fail("invalid BigInt value %q for %s", s, col.ClientName)
			}
			return n, nil
		}
		n, ok := toInt64(v)
		if !ok {
			return nil, fail("expected an integer for %s, got %v", col.ClientName, v)
		}
		return n, nil

	case sqltype.Float:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fail("expected a number for %s, got %v", col.ClientName, v)
		}
		return f, nil

	case sqltype.Numeric:
		var text string
		switch val := v.(type) {
		case string:
			text = strings.TrimSpace(val)
		case json.Number:
			text = val.String()
		default:
			if f, ok := toFloat64(v); ok {
				text = strconv.FormatFloat(f, 'f', -1, 64)
			} else {
				return nil, fail("expected a decimal string for %s, got %v", col.ClientName, v)
			}
		}
		var num pgtype.Numeric
		if err := num.Scan(text); err != nil || !num.Valid {
			return nil, fail("invalid Decimal value %q for %s", text, col.ClientName)
		}
		return text, nil

	case sqltype.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fail("expected a boolean for %s, got %v", col.ClientName, v)
		}
		return b, nil

	case sqltype.Text:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a string for %s, got %v", col.ClientName, v)
		}
		return s, nil

	case sqltype.UUID:
		canonical, err := uuidutil.Canonical(v)
		if err != nil {
			return nil, fail("invalid UUID value for %s", col.ClientName)
		}
		return canonical, nil

	case sqltype.Bytes:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a base64 string for %s", col.ClientName)
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(s)
		}
		if err != nil {
			return nil, fail("invalid base64 value for %s", col.ClientName)
		}
		return decoded, nil

	case sqltype.Date:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a date string for %s", col.ClientName)
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fail("invalid Date value %q for %s", s, col.ClientName)
		}
		return t, nil

	case sqltype.Timestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a timestamp string for %s", col.ClientName)
		}
		for _, layout := range naiveTimestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fail("invalid NaiveDateTime value %q for %s", s, col.ClientName)

	case sqltype.Timestamptz:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected an RFC 3339 timestamp for %s", col.ClientName)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fail("invalid DateTime value %q for %s", s, col.ClientName)
		}
		return t, nil

	case sqltype.Time:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a time string for %s", col.ClientName)
		}
		for _, layout := range timeLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return s, nil
			}
		}
		return nil, fail("invalid Time value %q for %s", s, col.ClientName)

	case sqltype.Interval:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected a duration string for %s", col.ClientName)
		}
		if mode == cursorMode {
			return s, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fail("invalid Interval value %q for %s", s, col.ClientName)
		}
		return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}, nil

	case sqltype.JSON, sqltype.JSONB:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fail("invalid JSON value for %s", col.ClientName)
		}
		return string(data), nil

	case sqltype.Enum:
		s, ok := v.(string)
		if !ok {
			return nil, fail("expected an enum value for %s", col.ClientName)
		}
		enum, ok := c.schema.EnumOf(col)
		if !ok {
			return nil, schemaErrorf(path, "enum type of column %s not found", col.DatabaseName)
		}
		if mode == cursorMode {
			for _, variant := range enum.Variants {
				if variant.DatabaseName == s {
					return s, nil
				}
			}
			return nil, fail("unknown %s label %q", enum.DatabaseName, s)
		}
		variant, ok := enum.VariantByClientName(s)
		if !ok {
			return nil, fail("unknown %s value %q", enum.ClientName, s)
		}
		return variant.DatabaseName, nil
	}
	return nil, schemaErrorf(path, "column %s has an unsupported type", col.DatabaseName)
}

// textForm renders a converted value in PostgreSQL text input syntax, for
// elements bound inside a text array.
func textForm(category sqltype.Category, v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		switch category {
		case sqltype.Date:
			return val.Format(dateLayout)
		case sqltype.Timestamp:
			return val.Format(timestampLayout)
		}
		return val.Format(time.RFC3339Nano)
	case []byte:
		return `\x` + hex.EncodeToString(val)
	case pgtype.Interval:
		return strconv.FormatInt(val.Microseconds, 10) + " microseconds"
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, true
		}
		return 0, false
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// toUint64 reads a non-negative integer argument such as first or last.
func toUint64(v any) (uint64, bool) {
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}
