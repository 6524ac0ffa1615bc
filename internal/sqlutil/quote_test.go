package sqlutil

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoting(t *testing.T) {
	tests := []struct {
		name  string
		quote func(string) string
		in    string
		want  string
	}{
		{"plain identifier", QuoteIdentifier, "users", `"users"`},
		{"reserved word", QuoteIdentifier, "select", `"select"`},
		{"space", QuoteIdentifier, "first name", `"first name"`},
		{"embedded quote", QuoteIdentifier, `user"data`, `"user""data"`},
		{"question mark kept for direct use", QuoteIdentifier, "why?", `"why?"`},
		{"empty identifier", QuoteIdentifier, "", `""`},
		{"builder identifier", BuilderIdent, `wh"y?`, `"wh""y??"`},
		{"string", QuoteString, "it's", `'it''s'`},
		{"string with backslash", QuoteString, `a\b`, `'a\b'`},
		{"empty string", QuoteString, "", "''"},
		{"builder literal", BuilderLiteral, "a'?b", `'a''??b'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.quote(tt.in))
		})
	}
}

func TestQualified(t *testing.T) {
	assert.Equal(t, `"public"."users"`, QuoteQualified("public", "users"))
	assert.Equal(t, `"users"`, QuoteQualified("", "users"))
	assert.Equal(t, `"app?"."t"`, QuoteQualified("app?", "t"))
	assert.Equal(t, `"app??"."t"`, BuilderQualified("app?", "t"))
}

// Builder output must survive squirrel's placeholder rewriting unchanged.
func TestBuilderTextSurvivesPlaceholderRewrite(t *testing.T) {
	query := "SELECT " + BuilderIdent("is it?") + " FROM " + BuilderQualified("s", "t") +
		" WHERE " + BuilderIdent("note") + " = " + BuilderLiteral("what?") + " AND id = ?"
	got, err := sq.Dollar.ReplacePlaceholders(query)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "is it?" FROM "s"."t" WHERE "note" = 'what?' AND id = $1`, got)
}
