package promo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// HierarchyStore returns the ancestor chain for a customer group, self first.
// An unknown group is a data-not-found condition, reported as the degenerate
// chain [group] with no error; transport failures are returned as errors.
type HierarchyStore interface {
	AncestorsInclusive(ctx context.Context, group string) ([]string, error)
}

// RuleSource lists enabled rule headers declared against any of the candidate
// groups and hydrates the winning rule's child rows.
type RuleSource interface {
	ActiveRulesFor(ctx context.Context, groups []string) ([]RuleHeader, error)
	EligibleItemsOf(ctx context.Context, ruleID uuid.UUID) ([]string, error)
	SlabsOf(ctx context.Context, ruleID uuid.UUID) ([]Slab, error)
}

// Resolver picks the single best matching promotion rule for a customer group.
type Resolver struct {
	Hierarchy HierarchyStore
	Rules     RuleSource
}

// Resolve returns the winning rule for the group and company, fully hydrated,
// or nil when no enabled rule applies. Candidates declared for the document's
// company are preferred as a whole over company-wildcard candidates; within a
// partition, higher priority wins and equal priorities are broken by
// specificity, i.e. the candidate group's position in the ancestor chain.
func (r *Resolver) Resolve(ctx context.Context, customerGroup, company string) (*Rule, error) {
	group := strings.TrimSpace(customerGroup)
	if group == "" {
		return nil, nil
	}
	comp := strings.TrimSpace(company)

	chain, err := r.Hierarchy.AncestorsInclusive(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("ancestor chain for %q: %w", group, err)
	}
	if len(chain) == 0 {
		chain = []string{group}
	}

	headers, err := r.Rules.ActiveRulesFor(ctx, chain)
	if err != nil {
		return nil, fmt.Errorf("active rules for %q: %w", group, err)
	}

	var matched, wildcard []RuleHeader
	for _, h := range headers {
		switch {
		case h.Company != "" && comp != "" && h.Company == comp:
			matched = append(matched, h)
		case h.Company == "":
			wildcard = append(wildcard, h)
		}
	}
	candidates := matched
	if len(candidates) == 0 {
		candidates = wildcard
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	position := make(map[string]int, len(chain))
	for i, g := range chain {
		if _, ok := position[g]; !ok {
			position[g] = i
		}
	}
	specificity := func(h RuleHeader) int {
		if i, ok := position[h.CustomerGroup]; ok {
			return i
		}
		// A candidate outside the chain should not normally occur; sort it last.
		return len(chain)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return specificity(candidates[i]) < specificity(candidates[j])
	})

	winner := candidates[0]
	if winner.Policy == "" {
		winner.Policy = PolicyHighestQty
	}

	items, err := r.Rules.EligibleItemsOf(ctx, winner.ID)
	if err != nil {
		return nil, fmt.Errorf("eligible items of rule %s: %w", winner.ID, err)
	}
	slabs, err := r.Rules.SlabsOf(ctx, winner.ID)
	if err != nil {
		return nil, fmt.Errorf("slabs of rule %s: %w", winner.ID, err)
	}
	sort.SliceStable(slabs, func(i, j int) bool { return slabs[i].MinQty < slabs[j].MinQty })

	eligible := make(map[string]struct{}, len(items))
	for _, code := range items {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			eligible[trimmed] = struct{}{}
		}
	}
	return &Rule{RuleHeader: winner, EligibleItems: eligible, Slabs: slabs}, nil
}
