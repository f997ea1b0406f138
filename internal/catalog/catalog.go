// Package catalog builds the table of authorizable operations and their default policies.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/authserver/internal/model"
)

// ErrEmptyCatalog means no operations were registered. Callers must treat it as fatal.
var ErrEmptyCatalog = errors.New("catalog: no operations registered")

// Definition declares one operation. Alias defaults to Method; a nil Default means
// the operation is denied to everyone until a role is updated.
type Definition struct {
	Component string
	Method    string
	Alias     string
	Default   *model.AccessPolicy
}

// Catalog is an immutable alias -> operation table.
type Catalog struct {
	ops     map[string]model.Operation
	aliases []string
}

// Build validates defs and returns the catalog. It is idempotent for the same input.
func Build(log *zap.Logger, defs []Definition) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(defs) == 0 {
		return nil, ErrEmptyCatalog
	}
	ops := make(map[string]model.Operation, len(defs))
	for i, d := range defs {
		method := strings.TrimSpace(d.Method)
		if method == "" {
			return nil, fmt.Errorf("catalog: definition %d has no method", i)
		}
		alias := strings.TrimSpace(d.Alias)
		if alias == "" {
			alias = method
		}
		if _, dup := ops[alias]; dup {
			return nil, fmt.Errorf("catalog: duplicate alias %q", alias)
		}
		op := model.Operation{Alias: alias, Component: d.Component, Method: method}
		if d.Default == nil {
			log.Warn("no default permissions for operation",
				zap.String("alias", alias),
				zap.String("component", d.Component),
			)
		} else {
			op.Default = *d.Default
		}
		ops[alias] = op
	}

	aliases := make([]string, 0, len(ops))
	for a := range ops {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	log.Debug("catalog built", zap.Int("operations", len(ops)))
	return &Catalog{ops: ops, aliases: aliases}, nil
}

// MustBuild is Build that panics on error; meant for tests and package-level tables.
func MustBuild(log *zap.Logger, defs []Definition) *Catalog {
	c, err := Build(log, defs)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the operation registered under alias.
func (c *Catalog) Lookup(alias string) (model.Operation, bool) {
	op, ok := c.ops[alias]
	return op, ok
}

// Aliases returns all aliases in sorted order.
func (c *Catalog) Aliases() []string {
	out := make([]string, len(c.aliases))
	copy(out, c.aliases)
	return out
}

// Operations returns all operations ordered by alias.
func (c *Catalog) Operations() []model.Operation {
	out := make([]model.Operation, 0, len(c.aliases))
	for _, a := range c.aliases {
		out = append(out, c.ops[a])
	}
	return out
}

// Defaults returns a fresh alias -> default policy map, suitable for seeding a role.
func (c *Catalog) Defaults() map[string]model.AccessPolicy {
	out := make(map[string]model.AccessPolicy, len(c.ops))
	for a, op := range c.ops {
		out[a] = op.Default
	}
	return out
}

// Len returns the number of operations.
func (c *Catalog) Len() int { return len(c.ops) }
