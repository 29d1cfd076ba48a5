package items

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-promo/internal/promo"
)

// Defaults looks up company-level accounting fallbacks. A company without a
// row yields zero-value defaults with no error; materialization then leaves
// the accounting fields empty.
type Defaults struct {
	DB DB
}

func (d *Defaults) ForCompany(ctx context.Context, company string) (promo.CompanyDefaults, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return promo.CompanyDefaults{}, nil
	}

	var out promo.CompanyDefaults
	err := d.DB.QueryRow(ctx,
		`SELECT default_cost_center, default_income_account FROM companies WHERE name = $1`, company,
	).Scan(&out.CostCenter, &out.IncomeAccount)
	if errors.Is(err, pgx.ErrNoRows) {
		return promo.CompanyDefaults{}, nil
	}
	if err != nil {
		return promo.CompanyDefaults{}, fmt.Errorf("items: company defaults %q: %w", company, err)
	}
	return out, nil
}
