package naming

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToGraphQLTypeName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"users", "User"},
		{"user_profiles", "UserProfile"},
		{"order_items", "OrderItem"},
		{"api_v2_endpoints", "ApiV2Endpoint"},
		{"people", "Person"},
		{"a", "A"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.ToGraphQLTypeName(tt.input))
		})
	}
}

func TestToGraphQLFieldName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"user_name", "userName"},
		{"created_at", "createdAt"},
		{"id", "id"},
		{"user_profile_id", "userProfileId"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.ToGraphQLFieldName(tt.input))
		})
	}
}

func TestPluralizeWithOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PluralOverrides["status"] = "statusList"
	cfg.SingularOverrides["data"] = "datum"
	namer := New(cfg, nil)

	assert.Equal(t, "statusList", namer.Pluralize("status"))
	assert.Equal(t, "users", namer.Pluralize("user"))
	assert.Equal(t, "datum", namer.Singularize("data"))
	assert.Equal(t, "Datum", namer.ToGraphQLTypeName("data"))
}

func TestForwardRelationFieldName(t *testing.T) {
	namer := Default()

	tests := []struct {
		name       string
		columns    []string
		referenced string
		expected   string
	}{
		{"id suffix", []string{"author_id"}, "users", "author"},
		{"fk suffix", []string{"owner_fk"}, "users", "owner"},
		{"multi word", []string{"created_by_user_id"}, "users", "createdByUser"},
		{"no suffix", []string{"parent"}, "nodes", "parent"},
		{"bare id", []string{"id"}, "users", "id"},
		{"composite", []string{"org_id", "team_id"}, "teams", "team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.ForwardRelationFieldName(tt.columns, tt.referenced))
		})
	}
}

func TestBackRelationFieldName(t *testing.T) {
	namer := Default()

	assert.Equal(t, "posts", namer.BackRelationFieldName("posts", []string{"author_id"}, true, false))
	assert.Equal(t, "authorPosts", namer.BackRelationFieldName("posts", []string{"author_id"}, false, false))
	assert.Equal(t, "profile", namer.BackRelationFieldName("profiles", []string{"user_id"}, true, true))
	assert.Equal(t, "userProfileItems", namer.BackRelationFieldName("profile_items", []string{"user_id"}, false, false))
}

func TestKeyClientName(t *testing.T) {
	namer := Default()
	assert.Equal(t, "nameEmail", namer.KeyClientName([]string{"name", "email"}))
	assert.Equal(t, "id", namer.KeyClientName([]string{"id"}))
}

func TestEnumVariantName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"active", "ACTIVE"},
		{"in progress", "IN_PROGRESS"},
		{"in-progress", "IN_PROGRESS"},
		{"2fa", "_2FA"},
		{"--", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.EnumVariantName(tt.input))
		})
	}
}

func TestRootFields(t *testing.T) {
	namer := Default()

	names := namer.RootFields("User")
	assert.Equal(t, RootFieldNames{
		Single:     "user",
		Collection: "users",
		Lookup:     "userLookup",
		Create:     "userCreate",
		CreateMany: "userCreateMany",
		Update:     "userUpdate",
		UpdateMany: "userUpdateMany",
		Delete:     "userDelete",
		DeleteMany: "userDeleteMany",
	}, names)

	// Uncountable words would otherwise collide with the single field.
	assert.Equal(t, "sheepCollection", namer.RootFields("Sheep").Collection)
}

func TestReservedWordSuffixing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	tests := []struct {
		input    string
		expected string
	}{
		{"query", "Query_"},
		{"mutation", "Mutation_"},
		{"users", "User"},
		{"user_filter", "UserFilter_"},
		{"page_info", "PageInfo_"},
		{"naive_date_times", "NaiveDateTime_"},
		{"order_batch_mutation_results", "OrderBatchMutationResult_"},
		{"user_filters", "UserFilter_"},
		{"order_batch_mutation_result", "OrderBatchMutationResult_"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			namer.Reset()
			assert.Equal(t, tt.expected, namer.ToGraphQLTypeName(tt.input))
		})
	}
	assert.Contains(t, buf.String(), "auto-suffixed")
}

func TestCollision_TableToTable(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	assert.Equal(t, "User", namer.RegisterType("users"))
	assert.Equal(t, "User2", namer.RegisterType("user"))
	assert.Contains(t, buf.String(), "name collision, suffix applied")
}

func TestCollision_RelationToColumn(t *testing.T) {
	namer := Default()

	namer.RegisterColumnField("Post", "author")
	assert.Equal(t, "authorRef", namer.RegisterRelationField("Post", "author", "posts_author_id_fkey", true))
	assert.Equal(t, "comments", namer.RegisterRelationField("Post", "comments", "comments_post_id_fkey", false))
	assert.Equal(t, "commentsRel", namer.RegisterRelationField("Post", "comments", "other_fkey", false))
}

func TestCollision_RootFields(t *testing.T) {
	namer := Default()

	first := namer.RegisterRootFields("User", "users")
	assert.Equal(t, "user", first.Single)

	second := namer.RegisterRootFields("User", "user")
	assert.Equal(t, "user2", second.Single)
	assert.Equal(t, "userLookup2", second.Lookup)
}

func TestReset(t *testing.T) {
	namer := Default()
	namer.RegisterType("users")
	namer.Reset()
	assert.Equal(t, "User", namer.RegisterType("users"))
}
