package naming

import (
	"log/slog"
	"strconv"
)

// scope is a set of GraphQL names that must be unique together: all type
// names, all root fields, or the fields of one type.
type scope struct {
	kind  string
	owner string
}

var (
	typeScope = scope{kind: "type"}
	rootScope = scope{kind: "root"}
)

func fieldScope(typeName string) scope { return scope{kind: "field", owner: typeName} }

// registry records which catalog object claimed each name. A later claim on
// a taken name gets the first free numeric suffix, starting at 2.
type registry struct {
	claims map[scope]map[string]string
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{claims: map[scope]map[string]string{}, logger: logger}
}

func (r *registry) taken(s scope, name string) bool {
	_, ok := r.claims[s][name]
	return ok
}

func (r *registry) claim(s scope, name, claimant string) string {
	names := r.claims[s]
	if names == nil {
		names = map[string]string{}
		r.claims[s] = names
	}

	resolved := name
	for i := 2; ; i++ {
		if _, ok := names[resolved]; !ok {
			break
		}
		resolved = name + strconv.Itoa(i)
	}
	if resolved != name {
		r.logger.Warn("name collision, suffix applied",
			slog.String("scope", s.kind),
			slog.String("owner", s.owner),
			slog.String("name", name),
			slog.String("resolved", resolved),
			slog.String("holder", names[name]),
			slog.String("claimant", claimant),
		)
	}
	names[resolved] = claimant
	return resolved
}
