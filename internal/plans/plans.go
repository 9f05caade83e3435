// Package plans maps subscription plan IDs to send limits.
//
// This is the billing-side collaborator boundary: the engine only ever
// sees the resulting quota.Limits pair.
package plans

import (
	"fmt"
	"sort"
	"strings"

	"sendgate/internal/quota"
)

// Built-in tiers. Config can override or extend them, but every entry is
// validated up front so the admission controller never sees a zero limit.
var builtin = map[string]quota.Limits{
	"starter": {Hourly: 5, Daily: 40},
	"growth":  {Hourly: 10, Daily: 100},
	"scale":   {Hourly: 20, Daily: 250},
}

type Catalog struct {
	limits map[string]quota.Limits
}

func NewCatalog(overrides map[string]quota.Limits) (*Catalog, error) {
	m := make(map[string]quota.Limits, len(builtin)+len(overrides))
	for id, l := range builtin {
		m[id] = l
	}
	for id, l := range overrides {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return nil, fmt.Errorf("plans: empty plan id")
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("plans: %s: %w", id, err)
		}
		m[id] = l
	}
	return &Catalog{limits: m}, nil
}

// LimitsFor resolves a plan ID to its cap pair.
func (c *Catalog) LimitsFor(planID string) (quota.Limits, error) {
	id := strings.ToLower(strings.TrimSpace(planID))
	l, ok := c.limits[id]
	if !ok {
		return quota.Limits{}, fmt.Errorf("plans: unknown plan %q", planID)
	}
	return l, nil
}

// IDs lists known plans, sorted, for config validation messages.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.limits))
	for id := range c.limits {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
