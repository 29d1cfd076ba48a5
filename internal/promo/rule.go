package promo

import (
	"time"

	"github.com/google/uuid"
)

// FreeItemPolicy selects which SKU becomes the free item once a slab matches.
type FreeItemPolicy string

const (
	// PolicyHighestQty awards the eligible item with the largest aggregated basket quantity.
	PolicyHighestQty FreeItemPolicy = "highest_qty"
	// PolicyFixedItem always awards the item configured on the rule.
	PolicyFixedItem FreeItemPolicy = "fixed_item"
)

// Money is a monetary value stored in minor units.
type Money = int64

// FreeItemTag is the reserved marker embedded in the description of synthesized lines.
const FreeItemTag = "BASKET_PROMO"

// FreeItemDescription is the description written on every synthesized promotional line.
const FreeItemDescription = "FREE ITEM (" + FreeItemTag + ")"

// Slab maps a half-open basket quantity interval [MinQty, MaxQty) to a free quantity.
// A MaxQty of zero means the interval is unbounded above.
type Slab struct {
	MinQty  float64 `json:"min_qty"`
	MaxQty  float64 `json:"max_qty"`
	FreeQty float64 `json:"free_qty"`
}

// RuleHeader is a rule row as returned by a RuleSource before hydration.
type RuleHeader struct {
	ID                uuid.UUID
	CustomerGroup     string
	Company           string
	Priority          int
	Policy            FreeItemPolicy
	FixedFreeItemCode string
}

// Rule is an immutable snapshot of a basket promotion rule used for one evaluation.
// Slabs are sorted ascending by MinQty; evaluation uses first match, so overlapping
// slabs are a configuration hazard, not an engine error.
type Rule struct {
	RuleHeader
	EligibleItems map[string]struct{}
	Slabs         []Slab
}

// Eligible reports whether the item code counts toward the rule's basket.
func (r *Rule) Eligible(code string) bool {
	_, ok := r.EligibleItems[code]
	return ok
}

// Line is one basket line of a draft sales document. Accounting attributes are
// copied onto synthesized free lines with a template -> document -> company
// fallback order.
type Line struct {
	ItemCode         string     `json:"item_code"`
	ItemName         string     `json:"item_name,omitempty"`
	Description      string     `json:"description,omitempty"`
	Qty              float64    `json:"qty"`
	StockQty         float64    `json:"stock_qty,omitempty"`
	Rate             Money      `json:"rate"`
	PriceListRate    Money      `json:"price_list_rate"`
	Amount           Money      `json:"amount"`
	Warehouse        string     `json:"warehouse,omitempty"`
	UOM              string     `json:"uom,omitempty"`
	ConversionFactor float64    `json:"conversion_factor,omitempty"`
	DeliveryDate     *time.Time `json:"delivery_date,omitempty"`
	CostCenter       string     `json:"cost_center,omitempty"`
	IncomeAccount    string     `json:"income_account,omitempty"`
	IsFreeItem       bool       `json:"is_free_item,omitempty"`
}

// Document is an immutable snapshot of a draft sales document under evaluation.
type Document struct {
	Company       string     `json:"company,omitempty"`
	CustomerGroup string     `json:"customer_group"`
	DocStatus     int        `json:"docstatus"`
	IsReturn      bool       `json:"is_return,omitempty"`
	DeliveryDate  *time.Time `json:"delivery_date,omitempty"`
	CostCenter    string     `json:"cost_center,omitempty"`
	IncomeAccount string     `json:"income_account,omitempty"`
	Lines         []Line     `json:"lines"`
}
