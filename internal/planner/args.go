package planner

import (
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
)

// ArgumentValues resolves a field's arguments against the request variables.
// Numbers become json.Number so 64-bit integers and decimals keep their exact
// text; enum literals become strings. Variables are expected to be decoded
// with json.Decoder.UseNumber.
func ArgumentValues(args []*ast.Argument, variables map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		if arg == nil || arg.Name == nil {
			continue
		}
		v, present, err := valueFromAST(arg.Value, variables)
		if err != nil {
			return nil, argumentErrorf([]string{arg.Name.Value}, "%v", err)
		}
		if present {
			out[arg.Name.Value] = v
		}
	}
	return out, nil
}

// valueFromAST converts a literal. present is false for a variable that was
// not provided, which leaves the argument unset rather than null.
func valueFromAST(value ast.Value, variables map[string]any) (v any, present bool, err error) {
	switch val := value.(type) {
	case nil:
		return nil, true, nil
	case *ast.Variable:
		if val.Name == nil {
			return nil, false, fmt.Errorf("variable without a name")
		}
		v, ok := variables[val.Name.Value]
		return v, ok, nil
	case *ast.IntValue:
		return json.Number(val.Value), true, nil
	case *ast.FloatValue:
		return json.Number(val.Value), true, nil
	case *ast.StringValue:
		return val.Value, true, nil
	case *ast.BooleanValue:
		return val.Value, true, nil
	case *ast.EnumValue:
		if val.Value == "null" {
			return nil, true, nil
		}
		return val.Value, true, nil
	case *ast.ListValue:
		items := make([]any, 0, len(val.Values))
		for _, item := range val.Values {
			v, present, err := valueFromAST(item, variables)
			if err != nil {
				return nil, false, err
			}
			if !present {
				v = nil
			}
			items = append(items, v)
		}
		return items, true, nil
	case *ast.ObjectValue:
		obj := make(map[string]any, len(val.Fields))
		for _, field := range val.Fields {
			if field == nil || field.Name == nil {
				continue
			}
			v, present, err := valueFromAST(field.Value, variables)
			if err != nil {
				return nil, false, err
			}
			if present {
				obj[field.Name.Value] = v
			}
		}
		return obj, true, nil
	}
	return nil, false, fmt.Errorf("unsupported argument value %T", value)
}

// objectArg reads an optional input-object argument.
func objectArg(args map[string]any, name string, path []string) (map[string]any, bool, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, false, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false, argumentErrorf(appendPath(path, name), "%s must be an input object", name)
	}
	return obj, true, nil
}

// listArg reads an optional list argument. A single value is coerced to a
// one-element list, as GraphQL input coercion does.
func listArg(args map[string]any, name string) ([]any, bool) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, false
	}
	if items, ok := raw.([]any); ok {
		return items, true
	}
	return []any{raw}, true
}

// singleEntry returns the only key and value of an input object.
func singleEntry(obj map[string]any, path []string, what string) (string, any, error) {
	if len(obj) != 1 {
		return "", nil, argumentErrorf(path, "%s must contain exactly one field, got %d", what, len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}
