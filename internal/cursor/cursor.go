// Package cursor encodes and decodes Relay-style connection cursors.
// Cursors are opaque base64-encoded JSON objects carrying the ordering
// context and the ordering column values of one row. Values keep their JSON
// form; numbers decode as json.Number so int8 keys survive the round trip.
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const version = 3

type payload struct {
	Version    int      `json:"v"`
	TypeName   string   `json:"t"`
	OrderByKey string   `json:"k"`
	Directions []string `json:"d"`
	Values     []any    `json:"vals"`
}

// Cursor is the decoded form of an opaque cursor.
type Cursor struct {
	TypeName   string
	OrderByKey string
	Directions []string
	Values     []any
}

// OrderByKey derives the ordering key stored in cursors from the client names
// of the ordering columns.
func OrderByKey(columns []string) string {
	return strings.Join(columns, "_")
}

// EncodeCursor builds an opaque cursor from type name, orderBy key, directions, and column values.
func EncodeCursor(typeName, orderByKey string, directions []string, values ...any) (string, error) {
	normalized := make([]string, len(directions))
	for i, direction := range directions {
		normalized[i] = strings.ToUpper(direction)
	}
	if len(values) != len(normalized) {
		return "", fmt.Errorf("cursor value count mismatch: %d values for %d directions", len(values), len(normalized))
	}
	data, err := json.Marshal(payload{
		Version:    version,
		TypeName:   typeName,
		OrderByKey: orderByKey,
		Directions: normalized,
		Values:     values,
	})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a base64-encoded JSON cursor.
func DecodeCursor(raw string) (Cursor, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p payload
	if err := dec.Decode(&p); err != nil || p.Version != version {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}
	if p.TypeName == "" || p.OrderByKey == "" {
		return Cursor{}, fmt.Errorf("invalid cursor: missing type or orderBy key")
	}
	if len(p.Directions) == 0 {
		return Cursor{}, fmt.Errorf("invalid cursor: missing directions")
	}
	for i, direction := range p.Directions {
		direction = strings.ToUpper(direction)
		if direction != "ASC" && direction != "DESC" {
			return Cursor{}, fmt.Errorf("invalid cursor: direction %d must be ASC or DESC", i)
		}
		p.Directions[i] = direction
	}
	if len(p.Values) != len(p.Directions) {
		return Cursor{}, fmt.Errorf("invalid cursor: value count mismatch for orderBy columns")
	}
	return Cursor{
		TypeName:   p.TypeName,
		OrderByKey: p.OrderByKey,
		Directions: p.Directions,
		Values:     p.Values,
	}, nil
}

// Validate confirms the cursor was issued for the same query context.
func (c Cursor) Validate(expectedType, expectedOrderByKey string, expectedDirections []string) error {
	if c.TypeName != expectedType {
		return fmt.Errorf("cursor type mismatch: expected %s, got %s", expectedType, c.TypeName)
	}
	if c.OrderByKey != expectedOrderByKey {
		return fmt.Errorf("cursor orderBy mismatch: expected %s, got %s", expectedOrderByKey, c.OrderByKey)
	}
	if len(c.Directions) != len(expectedDirections) {
		return fmt.Errorf("cursor direction count mismatch: expected %d, got %d", len(expectedDirections), len(c.Directions))
	}
	for i := range expectedDirections {
		expected := strings.ToUpper(expectedDirections[i])
		if c.Directions[i] != expected {
			return fmt.Errorf("cursor direction mismatch at position %d: expected %s, got %s", i, expected, c.Directions[i])
		}
	}
	return nil
}
