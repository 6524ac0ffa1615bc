package middleware

import (
	"context"
	"net/http"
	"strings"
)

// DefaultRoleHeader names the header a client uses to request a database role.
const DefaultRoleHeader = "X-Database-Role"

type roleContextKey struct{}

// WithRole returns ctx carrying the database role statements should run as.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleContextKey{}, role)
}

// RoleName returns the role stored in ctx. It matches the signature expected
// by dbexec.RoleExecutorConfig.RoleFromCtx.
func RoleName(ctx context.Context) (string, bool) {
	role, _ := ctx.Value(roleContextKey{}).(string)
	return role, role != ""
}

// DBRoleConfig controls how the request's database role is chosen.
type DBRoleConfig struct {
	Header       string
	Required     bool
	AllowedRoles []string
}

type roleSelector struct {
	header   string
	required bool
	// allowed is nil when any role may be requested.
	allowed map[string]struct{}
}

func newRoleSelector(cfg DBRoleConfig) roleSelector {
	s := roleSelector{header: strings.TrimSpace(cfg.Header), required: cfg.Required}
	if s.header == "" {
		s.header = DefaultRoleHeader
	}
	for _, role := range cfg.AllowedRoles {
		if role = strings.TrimSpace(role); role == "" {
			continue
		}
		if s.allowed == nil {
			s.allowed = make(map[string]struct{}, len(cfg.AllowedRoles))
		}
		s.allowed[role] = struct{}{}
	}
	return s
}

// selectRole returns the requested role, or a rejection message. An empty
// role with no rejection means the login user.
func (s roleSelector) selectRole(r *http.Request) (role, rejection string) {
	role = strings.TrimSpace(r.Header.Get(s.header))
	switch {
	case role == "" && s.required:
		return "", "missing " + s.header + " header"
	case role == "":
		return "", ""
	case s.allowed != nil:
		if _, ok := s.allowed[role]; !ok {
			return "", "invalid database role: " + role
		}
	}
	return role, ""
}

// DBRoleMiddleware picks the request's database role from a header. With an
// allowlist configured, any other role is rejected with 403.
func DBRoleMiddleware(cfg DBRoleConfig) func(http.Handler) http.Handler {
	selector := newRoleSelector(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, rejection := selector.selectRole(r)
			if rejection != "" {
				writeGraphQLError(w, r, http.StatusForbidden, rejection, "FORBIDDEN")
				return
			}
			if role != "" {
				r = r.WithContext(WithRole(r.Context(), role))
			}
			next.ServeHTTP(w, r)
		})
	}
}
