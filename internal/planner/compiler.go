package planner

import (
	"strconv"

	"github.com/graphql-go/graphql/language/ast"

	"postgres-graphql/internal/introspection"
)

// Page size defaults applied when no option overrides them.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// jsonColumn is the name of the single column every compiled statement and
// nested lateral subquery produces.
const jsonColumn = "json"

// compiler carries the per-request state of one root field compilation.
// It is not safe for concurrent use; every root field gets its own.
type compiler struct {
	schema    *introspection.Schema
	variables map[string]any
	fragments map[string]*ast.FragmentDefinition

	defaultPageSize uint64
	maxPageSize     uint64

	aliasCount int
}

func newCompiler(schema *introspection.Schema, options *planOptions) *compiler {
	c := &compiler{
		schema:          schema,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	if options != nil {
		c.variables = options.variables
		c.fragments = options.fragments
		if options.defaultPageSize > 0 {
			c.defaultPageSize = options.defaultPageSize
		}
		if options.maxPageSize > 0 {
			c.maxPageSize = options.maxPageSize
		}
	}
	if c.defaultPageSize > c.maxPageSize {
		c.defaultPageSize = c.maxPageSize
	}
	return c
}

// nextAlias returns a table alias unique within this compilation.
func (c *compiler) nextAlias(table introspection.TableID) string {
	alias := c.schema.Table(table).DatabaseName + "_" + strconv.Itoa(c.aliasCount)
	c.aliasCount++
	return alias
}
