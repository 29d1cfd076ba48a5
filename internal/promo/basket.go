package promo

import "strings"

// Basket aggregates the eligible, non-promotional quantities of one document.
// It is recomputed from scratch on every evaluation and never persisted.
type Basket struct {
	// TotalQty is the summed quantity across all eligible lines.
	TotalQty float64
	// PerItemQty maps item code to summed quantity.
	PerItemQty map[string]float64
	// BestLine maps item code to the line contributing the largest single
	// quantity for that item. Ties keep the earlier line in document order.
	BestLine map[string]Line
	// Order records item codes in order of first appearance, giving callers a
	// deterministic iteration order over PerItemQty.
	Order []string
}

// IsPromotional reports whether the line was synthesized by the engine.
// The explicit flag is authoritative; the description marker is still honoured
// for lines written before the flag existed.
func (l Line) IsPromotional() bool {
	if l.IsFreeItem {
		return true
	}
	return strings.HasPrefix(l.Description, "FREE ITEM") && strings.Contains(l.Description, FreeItemTag)
}

// BasketQty returns the stock-equivalent quantity, falling back to the entered
// quantity when the stock quantity is absent or zero.
func (l Line) BasketQty() float64 {
	if l.StockQty != 0 {
		return l.StockQty
	}
	return l.Qty
}

// Aggregate scans lines and sums quantities of eligible items. Promotional
// lines never count toward the basket, and lines whose resolved quantity is
// zero or negative are skipped entirely.
func Aggregate(lines []Line, eligible map[string]struct{}) Basket {
	b := Basket{
		PerItemQty: make(map[string]float64),
		BestLine:   make(map[string]Line),
	}
	for _, ln := range lines {
		if ln.IsPromotional() {
			continue
		}
		code := strings.TrimSpace(ln.ItemCode)
		if _, ok := eligible[code]; !ok {
			continue
		}
		qty := ln.BasketQty()
		if qty <= 0 {
			continue
		}
		if _, seen := b.PerItemQty[code]; !seen {
			b.Order = append(b.Order, code)
		}
		b.TotalQty += qty
		b.PerItemQty[code] += qty
		if best, ok := b.BestLine[code]; !ok || qty > best.BasketQty() {
			b.BestLine[code] = ln
		}
	}
	return b
}
