package promo

// FreeQty resolves the basket quantity against slabs ordered ascending by
// MinQty and returns the free quantity of the first matching slab, or zero
// when none match. Intervals are half-open: a total exactly equal to a slab's
// MaxQty falls into the next slab, not the current one.
func FreeQty(totalQty float64, slabs []Slab) float64 {
	for _, s := range slabs {
		if totalQty < s.MinQty {
			continue
		}
		if s.MaxQty == 0 || totalQty < s.MaxQty {
			return s.FreeQty
		}
	}
	return 0
}
