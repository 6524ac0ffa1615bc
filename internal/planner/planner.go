// Package planner compiles GraphQL root fields into PostgreSQL statements.
// Selections, filters, ordering, pagination and mutation inputs are
// translated into a single correlated statement per root field whose one
// JSON column is already shaped like the GraphQL response. The planner is
// pure: it reads the schema model and the request, and never touches the
// database.
package planner
