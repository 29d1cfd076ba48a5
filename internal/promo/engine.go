package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ItemCatalog resolves display names for item codes. An unknown item returns
// an empty name with no error; the engine falls back to the item code.
type ItemCatalog interface {
	DisplayNameOf(ctx context.Context, code string) (string, error)
}

// CompanyDefaults carries company-level accounting fallbacks for free lines.
type CompanyDefaults struct {
	CostCenter    string
	IncomeAccount string
}

// AccountingDefaults looks up company-level accounting fallbacks. The lookup
// is only performed during materialization, after a free item has been selected
// and only when the template line and document both lack the attribute.
type AccountingDefaults interface {
	ForCompany(ctx context.Context, company string) (CompanyDefaults, error)
}

// Result is the outcome of one evaluation pass. Lines is the document's new
// line set; the caller owns persisting it. Changed signals that the
// promotional state differs from the input and downstream totals need
// recomputation.
type Result struct {
	Lines    []Line `json:"lines"`
	FreeLine *Line  `json:"free_line,omitempty"`
	Changed  bool   `json:"changed"`
}

// Engine evaluates "buy N get M free" basket promotions for a draft document.
// Evaluation is synchronous and a pure function of the document snapshot and
// collaborator responses; repeated evaluation of an unchanged basket converges
// to the same line set.
type Engine struct {
	Resolver *Resolver
	Items    ItemCatalog
	Defaults AccountingDefaults
}

// Evaluate resolves the applicable rule, aggregates the basket, and rewrites
// the promotional line. Configuration gaps (no rule, no slab, no selectable
// item, no template line) collapse to "no promotion": stale promotional lines
// are stripped and no error is returned. Only collaborator failures surface.
func (e *Engine) Evaluate(ctx context.Context, doc Document) (Result, error) {
	if e == nil || e.Resolver == nil {
		return Result{}, errors.New("promo: engine not configured")
	}
	if res, done := gate(doc); done {
		return res, nil
	}

	rule, err := e.Resolver.Resolve(ctx, doc.CustomerGroup, doc.Company)
	if err != nil {
		return Result{}, err
	}
	return e.apply(ctx, rule, doc)
}

// Preview evaluates one explicit rule against a document, bypassing rule
// resolution. The same gating and materialization paths run, so a previewed
// rule behaves exactly as it would once persisted and resolved.
func (e *Engine) Preview(ctx context.Context, rule *Rule, doc Document) (Result, error) {
	if e == nil {
		return Result{}, errors.New("promo: engine not configured")
	}
	if res, done := gate(doc); done {
		return res, nil
	}
	return e.apply(ctx, rule, doc)
}

// gate applies the pre-evaluation checks shared by Evaluate and Preview.
func gate(doc Document) (Result, bool) {
	if doc.DocStatus != 0 {
		return Result{Lines: doc.Lines}, true
	}
	if doc.IsReturn {
		return stripOnly(doc.Lines), true
	}
	if len(doc.Lines) == 0 {
		return Result{Lines: doc.Lines}, true
	}
	return Result{}, false
}

func (e *Engine) apply(ctx context.Context, rule *Rule, doc Document) (Result, error) {
	if rule == nil {
		return stripOnly(doc.Lines), nil
	}

	basket := Aggregate(doc.Lines, rule.EligibleItems)
	freeQty := FreeQty(basket.TotalQty, rule.Slabs)
	if freeQty <= 0 {
		return stripOnly(doc.Lines), nil
	}

	code := selectFreeItem(rule, basket)
	if code == "" {
		return stripOnly(doc.Lines), nil
	}

	previous, kept := splitPromotional(doc.Lines)
	template, ok := templateLine(basket, kept, rule, code)
	if !ok {
		// Nothing to copy shared attributes from; the promotion cannot be
		// materialized. Stale promotional lines stay stripped.
		return Result{Lines: kept, Changed: len(previous) > 0}, nil
	}

	free, err := e.buildFreeLine(ctx, doc, template, code, freeQty)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Lines:    append(kept, free),
		FreeLine: &free,
		Changed:  freeLineChanged(previous, free),
	}, nil
}

func stripOnly(lines []Line) Result {
	previous, kept := splitPromotional(lines)
	return Result{Lines: kept, Changed: len(previous) > 0}
}

func splitPromotional(lines []Line) (promo, rest []Line) {
	rest = make([]Line, 0, len(lines))
	for _, ln := range lines {
		if ln.IsPromotional() {
			promo = append(promo, ln)
		} else {
			rest = append(rest, ln)
		}
	}
	return promo, rest
}

// selectFreeItem applies the rule's policy. Under PolicyHighestQty ties keep
// the item whose first line appears earliest in the document.
func selectFreeItem(rule *Rule, b Basket) string {
	if rule.Policy == PolicyFixedItem {
		return strings.TrimSpace(rule.FixedFreeItemCode)
	}
	var best string
	var bestQty float64
	for _, code := range b.Order {
		if qty := b.PerItemQty[code]; qty > bestQty {
			best, bestQty = code, qty
		}
	}
	return best
}

// templateLine prefers the basket's best line for the selected item and falls
// back to the first non-promotional line carrying any eligible item.
func templateLine(b Basket, kept []Line, rule *Rule, code string) (Line, bool) {
	if ln, ok := b.BestLine[code]; ok {
		return ln, true
	}
	for _, ln := range kept {
		if rule.Eligible(strings.TrimSpace(ln.ItemCode)) {
			return ln, true
		}
	}
	return Line{}, false
}

func (e *Engine) buildFreeLine(ctx context.Context, doc Document, template Line, code string, qty float64) (Line, error) {
	name := code
	if e.Items != nil {
		display, err := e.Items.DisplayNameOf(ctx, code)
		if err != nil {
			return Line{}, fmt.Errorf("display name of %q: %w", code, err)
		}
		if display != "" {
			name = display
		}
	}
	free := Line{
		ItemCode:         code,
		ItemName:         name,
		Description:      FreeItemDescription,
		Qty:              qty,
		Warehouse:        template.Warehouse,
		UOM:              template.UOM,
		ConversionFactor: template.ConversionFactor,
		DeliveryDate:     template.DeliveryDate,
		CostCenter:       template.CostCenter,
		IncomeAccount:    template.IncomeAccount,
		IsFreeItem:       true,
	}
	if free.DeliveryDate == nil {
		free.DeliveryDate = doc.DeliveryDate
	}
	if free.CostCenter == "" {
		free.CostCenter = doc.CostCenter
	}
	if free.IncomeAccount == "" {
		free.IncomeAccount = doc.IncomeAccount
	}
	if (free.CostCenter == "" || free.IncomeAccount == "") && e.Defaults != nil && strings.TrimSpace(doc.Company) != "" {
		defaults, err := e.Defaults.ForCompany(ctx, doc.Company)
		if err != nil {
			return Line{}, fmt.Errorf("accounting defaults for %q: %w", doc.Company, err)
		}
		if free.CostCenter == "" {
			free.CostCenter = defaults.CostCenter
		}
		if free.IncomeAccount == "" {
			free.IncomeAccount = defaults.IncomeAccount
		}
	}
	return free, nil
}

// freeLineChanged reports whether the synthesized line differs from the
// promotional state the document arrived with, so that an unchanged basket
// re-evaluated on every save does not trigger a totals recomputation.
func freeLineChanged(previous []Line, free Line) bool {
	if len(previous) != 1 {
		return true
	}
	prev := previous[0]
	return prev.ItemCode != free.ItemCode ||
		prev.Qty != free.Qty ||
		prev.Warehouse != free.Warehouse ||
		prev.UOM != free.UOM
}
