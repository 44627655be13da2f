package fetchconfig

import (
	"context"
	"fmt"
)

// Lookup finds the row stored under exactly k (NULL sides matched as NULL).
type Lookup interface {
	Lookup(ctx context.Context, k Key) (Row, bool, error)
}

// Resolver applies the tiered lookup: role+branch, role-global,
// branch-global, then the built-in default. The first row found supplies
// every field; tiers are never merged.
type Resolver struct {
	repo     Lookup
	defaults QuotaConfig
}

func NewResolver(repo Lookup, defaults QuotaConfig) *Resolver {
	return &Resolver{repo: repo, defaults: defaults}
}

// Defaults returns the terminal tier.
func (r *Resolver) Defaults() QuotaConfig { return r.defaults }

// Resolve returns the config for an agent with roleID and optional branchID.
// Missing rows are not an error; only storage failures are.
func (r *Resolver) Resolve(ctx context.Context, roleID string, branchID *int64) (Resolved, error) {
	type tier struct {
		key    Key
		source Source
	}
	var tiers []tier
	if roleID != "" && branchID != nil {
		tiers = append(tiers, tier{Key{RoleID: roleID, BranchID: branchID}, SourceRoleBranch})
	}
	if roleID != "" {
		tiers = append(tiers, tier{Key{RoleID: roleID}, SourceRoleGlobal})
	}
	if branchID != nil {
		tiers = append(tiers, tier{Key{BranchID: branchID}, SourceBranchGlobal})
	}

	for _, t := range tiers {
		row, ok, err := r.repo.Lookup(ctx, t.key)
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve fetch config %s: %w", t.key.CacheKey(), err)
		}
		if ok {
			return Resolved{QuotaConfig: row.QuotaConfig, Source: t.source}, nil
		}
	}
	return Resolved{QuotaConfig: r.defaults, Source: SourceDefault}, nil
}
