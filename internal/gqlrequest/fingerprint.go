package gqlrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

// fingerprint identifies an operation independently of formatting, comments,
// unrelated definitions in the same document and the order fragments were
// declared in. It is the printed operation followed by the printed fragments
// it reaches, sorted by name, each terminated by a NUL byte.
func fingerprint(op *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition) string {
	h := sha256.New()
	write := func(node ast.Node) {
		if printed, ok := printer.Print(node).(string); ok {
			h.Write([]byte(printed))
		}
		h.Write([]byte{0})
	}

	write(op)
	for _, name := range reachableFragments(op.SelectionSet, fragments) {
		write(fragments[name])
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// reachableFragments returns the sorted names of the defined fragments that
// set spreads, directly or through other fragments.
func reachableFragments(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition) []string {
	seen := map[string]bool{}
	pending := []*ast.SelectionSet{set}
	for len(pending) > 0 {
		next := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if next == nil {
			continue
		}
		for _, selection := range next.Selections {
			switch sel := selection.(type) {
			case *ast.Field:
				pending = append(pending, sel.SelectionSet)
			case *ast.InlineFragment:
				pending = append(pending, sel.SelectionSet)
			case *ast.FragmentSpread:
				name := spreadName(sel)
				if def, ok := fragments[name]; ok && !seen[name] {
					seen[name] = true
					pending = append(pending, def.SelectionSet)
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func spreadName(spread *ast.FragmentSpread) string {
	if spread.Name == nil {
		return ""
	}
	return spread.Name.Value
}
