package planner

import (
	"fmt"
	"strings"
)

// Error codes reported in GraphQL error extensions.
const (
	CodeSchemaMismatch  = "SCHEMA_MISMATCH"
	CodeValueConversion = "VALUE_CONVERSION"
	CodeInvalidArgument = "INVALID_ARGUMENT"
)

// SchemaError reports a field, relation, column or key that does not resolve
// against the schema model.
type SchemaError struct {
	Message string
	Path    []string
}

func (e *SchemaError) Error() string {
	return withPath(e.Message, e.Path)
}

// Extensions returns GraphQL error extensions.
func (e *SchemaError) Extensions() map[string]interface{} {
	return extensions(CodeSchemaMismatch, e.Path)
}

// ConversionError reports an argument value that cannot be converted to the
// declared database type of its column.
type ConversionError struct {
	Message string
	Path    []string
	Type    string
}

func (e *ConversionError) Error() string {
	return withPath(e.Message, e.Path)
}

// Extensions returns GraphQL error extensions.
func (e *ConversionError) Extensions() map[string]interface{} {
	ext := extensions(CodeValueConversion, e.Path)
	if e.Type != "" {
		ext["type"] = e.Type
	}
	return ext
}

// ArgumentError reports a violated argument contract, such as first and last
// supplied together.
type ArgumentError struct {
	Message string
	Path    []string
}

func (e *ArgumentError) Error() string {
	return withPath(e.Message, e.Path)
}

// Extensions returns GraphQL error extensions.
func (e *ArgumentError) Extensions() map[string]interface{} {
	return extensions(CodeInvalidArgument, e.Path)
}

func schemaErrorf(path []string, format string, args ...any) error {
	return &SchemaError{Message: fmt.Sprintf(format, args...), Path: copyPath(path)}
}

func argumentErrorf(path []string, format string, args ...any) error {
	return &ArgumentError{Message: fmt.Sprintf(format, args...), Path: copyPath(path)}
}

func conversionErrorf(path []string, typ string, format string, args ...any) error {
	return &ConversionError{Message: fmt.Sprintf(format, args...), Path: copyPath(path), Type: typ}
}

func extensions(code string, path []string) map[string]interface{} {
	ext := map[string]interface{}{
		"code": code,
	}
	if len(path) > 0 {
		ext["argumentPath"] = strings.Join(path, ".")
	}
	return ext
}

func withPath(message string, path []string) string {
	if len(path) == 0 {
		return message
	}
	return strings.Join(path, ".") + ": " + message
}

func copyPath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return append([]string(nil), path...)
}

// appendPath returns path extended by elem without aliasing the caller's slice.
func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}
