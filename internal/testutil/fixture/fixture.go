// Package fixture provides a small annotated schema shared by unit tests.
package fixture

import (
	"testing"

	"postgres-graphql/internal/introspection"
	"postgres-graphql/internal/naming"
)

// SDL describes users, their posts, an optional one-to-one profile and a
// table without any key.
const SDL = `
enum UserStatus @pgEnum(name: "user_status") {
  ACTIVE @pgEnumVariant(name: "active")
  IN_REVIEW @pgEnumVariant(name: "in review")
}

type User @pgTable(name: "users")
  @pgKey(name: "users_pkey", fields: ["id"], primary: true)
  @pgKey(name: "users_name_email_key", fields: ["name", "email"]) {
  id: BigInt! @pgColumn(name: "id", type: "int8", identity: "always")
  name: String! @pgColumn(name: "name")
  email: String @pgColumn(name: "email")
  status: UserStatus @pgColumn(name: "status")
  tags: [String!] @pgColumn(name: "tags")
  metadata: JSON @pgColumn(name: "metadata")
  avatar: Bytes @pgColumn(name: "avatar")
  externalId: UUID @pgColumn(name: "external_id")
  createdAt: DateTime! @pgColumn(name: "created_at", default: true)
}

type Post @pgTable(name: "posts")
  @pgKey(name: "posts_pkey", fields: ["id"], primary: true) {
  id: Int! @pgColumn(name: "id", identity: "by_default")
  title: String! @pgColumn(name: "title")
  score: Float @pgColumn(name: "score")
  price: Decimal @pgColumn(name: "price")
  publishedAt: NaiveDateTime @pgColumn(name: "published_at")
  authorId: BigInt! @pgColumn(name: "author_id", type: "int8")
  author: User! @pgRelation(name: "posts_author_id_fkey", fields: ["author_id"], references: ["id"])
}

type Profile @pgTable(name: "profiles")
  @pgKey(name: "profiles_pkey", fields: ["user_id"], primary: true) {
  userId: BigInt! @pgColumn(name: "user_id", type: "int8")
  bio: String @pgColumn(name: "bio")
  user: User! @pgRelation(name: "profiles_user_id_fkey", fields: ["user_id"], references: ["id"])
}

type AuditLog @pgTable(name: "audit_logs") {
  message: String @pgColumn(name: "message")
}
`

// Schema loads SDL into a finalized schema.
func Schema(t testing.TB) *introspection.Schema {
	t.Helper()
	schema, err := introspection.LoadSDL(SDL, "public", naming.Default())
	if err != nil {
		t.Fatalf("load fixture schema: %v", err)
	}
	return schema
}

// Table resolves a table by its GraphQL type name.
func Table(t testing.TB, schema *introspection.Schema, clientName string) introspection.TableID {
	t.Helper()
	id, ok := schema.FindTableByClientName(clientName)
	if !ok {
		t.Fatalf("fixture table %s not found", clientName)
	}
	return id
}
