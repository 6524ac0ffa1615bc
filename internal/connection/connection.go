// Package connection finishes the JSON computed by compiled statements.
//
// Collection statements return a canonical connection object with one
// sentinel edge too many and raw ordering values in place of cursors. Finalize
// trims the sentinel, encodes cursors, fills in pageInfo and renames the
// canonical keys to the client's response keys, recursing into nested objects,
// lists and connections as described by the plan's shape.
package connection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"postgres-graphql/internal/cursor"
	"postgres-graphql/internal/planner"
)

// Decode parses a statement's JSON result. Numbers stay json.Number so
// ordering values round-trip into cursors unchanged.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return value, nil
}

// Finalize rewrites value, the decoded result of one root field, into the
// client's response shape.
func Finalize(value any, shape *planner.FieldShape) (any, error) {
	if value == nil || shape == nil {
		return value, nil
	}
	switch {
	case shape.Connection != nil:
		return finalizeConnection(value, shape.Connection)
	case shape.List != nil:
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a list, got %T", value)
		}
		for i, item := range items {
			out, err := finalizeObject(item, shape.List)
			if err != nil {
				return nil, fmt.Errorf("%d: %w", i, err)
			}
			items[i] = out
		}
		return items, nil
	case shape.Object != nil:
		return finalizeObject(value, shape.Object)
	}
	return value, nil
}

func finalizeObject(value any, shape *planner.ObjectShape) (any, error) {
	if value == nil || shape.Empty() {
		return value, nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", value)
	}
	for key, field := range shape.Fields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		out, err := Finalize(v, field)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		obj[key] = out
	}
	return obj, nil
}

type edge struct {
	node   any
	cursor string
}

func finalizeConnection(value any, shape *planner.ConnectionShape) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a connection object, got %T", value)
	}
	rawEdges, _ := obj[planner.KeyEdges].([]any)
	info, _ := obj[planner.KeyPageInfo].(map[string]any)

	// The statement fetches one row beyond the page to detect more rows.
	// In backward pages that row sorts first.
	if limit := int(shape.Limit); len(rawEdges) > limit {
		if shape.Backward {
			rawEdges = rawEdges[len(rawEdges)-limit:]
		} else {
			rawEdges = rawEdges[:limit]
		}
	}

	edges := make([]edge, len(rawEdges))
	for i, raw := range rawEdges {
		e, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("edge %d: expected an object, got %T", i, raw)
		}
		values, ok := e[planner.KeyCursor].([]any)
		if !ok {
			return nil, fmt.Errorf("edge %d: missing cursor values", i)
		}
		encoded, err := cursor.EncodeCursor(shape.TypeName, shape.OrderByKey, shape.Directions, values...)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		node, err := finalizeObject(e[planner.KeyNode], shape.Node)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		edges[i] = edge{node: node, cursor: encoded}
	}

	out := make(map[string]any, len(shape.Selection.Fields))
	for _, f := range shape.Selection.Fields {
		switch f.Name {
		case planner.KeyTypename:
			out[f.Key] = planner.ConnectionTypeName(shape.TypeName)
		case planner.KeyEdges:
			out[f.Key] = edgeObjects(edges, shape)
		case planner.KeyPageInfo:
			out[f.Key] = pageInfo(edges, info, shape)
		}
	}
	return out, nil
}

func edgeObjects(edges []edge, shape *planner.ConnectionShape) []any {
	list := make([]any, len(edges))
	for i, e := range edges {
		obj := make(map[string]any, len(shape.Selection.Edge))
		for _, f := range shape.Selection.Edge {
			switch f.Name {
			case planner.KeyNode:
				obj[f.Key] = e.node
			case planner.KeyCursor:
				obj[f.Key] = e.cursor
			case planner.KeyTypename:
				obj[f.Key] = planner.EdgeTypeName(shape.TypeName)
			}
		}
		list[i] = obj
	}
	return list
}

func pageInfo(edges []edge, info map[string]any, shape *planner.ConnectionShape) map[string]any {
	var start, end any
	if len(edges) > 0 {
		start = edges[0].cursor
		end = edges[len(edges)-1].cursor
	}
	obj := make(map[string]any, len(shape.Selection.PageInfo))
	for _, f := range shape.Selection.PageInfo {
		switch f.Name {
		case planner.KeyHasNextPage:
			obj[f.Key] = info[planner.KeyHasNextPage] == true
		case planner.KeyHasPreviousPage:
			obj[f.Key] = info[planner.KeyHasPreviousPage] == true
		case planner.KeyStartCursor:
			obj[f.Key] = start
		case planner.KeyEndCursor:
			obj[f.Key] = end
		case planner.KeyTypename:
			obj[f.Key] = planner.PageInfoTypeName
		}
	}
	return obj
}
