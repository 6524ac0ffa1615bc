// Package uuidutil normalizes the UUID forms accepted in GraphQL input.
package uuidutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Canonical returns the lower-case hyphenated text of v, which is bound as a
// uuid parameter. v may be a string in any form uuid.Parse accepts (braced,
// URN, unhyphenated), 16 raw bytes, a uuid.UUID or a pgtype.UUID.
func Canonical(v any) (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	switch val := v.(type) {
	case string:
		id, err = uuid.Parse(strings.TrimSpace(val))
	case []byte:
		id, err = uuid.FromBytes(val)
	case uuid.UUID:
		id = val
	case pgtype.UUID:
		if !val.Valid {
			return "", errors.New("UUID is null")
		}
		id = val.Bytes
	default:
		return "", fmt.Errorf("invalid UUID value of type %T", v)
	}
	if err != nil {
		return "", fmt.Errorf("invalid UUID value: %w", err)
	}
	return id.String(), nil
}
