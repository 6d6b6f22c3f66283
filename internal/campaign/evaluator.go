package campaign

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"possales/internal/domain"
)

var (
	ErrUnsupportedCategory = errors.New("unsupported campaign category")
	ErrBadKey              = errors.New("incorrect campaign key")
)

// Apply prices one line: quantity units at unitPriceCents with at most one
// campaign. A nil campaign is the identity (quantity x unit price). The
// result never goes below zero: a money discount larger than the line
// subtotal clamps instead of producing a negative total.
func Apply(quantity int, unitPriceCents int64, c *domain.Campaign) (int64, error) {
	if quantity < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", ErrBadKey)
	}
	if unitPriceCents < 0 {
		return 0, fmt.Errorf("%w: negative unit price", ErrBadKey)
	}

	subtotal := int64(quantity) * unitPriceCents
	if c == nil {
		return subtotal, nil
	}

	switch c.Category {
	case domain.CampaignBuyXPayY:
		buy, pay := c.BuyQuantity, c.PayQuantity
		if buy <= pay || pay < 1 {
			return 0, fmt.Errorf("%w: buy=%d pay=%d", ErrBadKey, buy, pay)
		}
		paidUnits := (quantity/buy)*pay + quantity%buy
		return int64(paidUnits) * unitPriceCents, nil
	case domain.CampaignPercent:
		if c.Percent <= 0 || c.Percent > 100 {
			return 0, fmt.Errorf("%w: percent=%v", ErrBadKey, c.Percent)
		}
		return int64(math.Round(float64(subtotal) * (1 - c.Percent/100))), nil
	case domain.CampaignMoneyDiscount:
		if c.AmountCents < 1 {
			return 0, fmt.Errorf("%w: amount=%d", ErrBadKey, c.AmountCents)
		}
		total := subtotal - c.AmountCents
		if total < 0 {
			total = 0
		}
		return total, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCategory, c.Category)
	}
}

// ValidateKey enforces the one-shape-per-category invariant at campaign
// create/update time. Fields belonging to other categories must be zero.
func ValidateKey(c domain.Campaign) error {
	switch c.Category {
	case domain.CampaignBuyXPayY:
		if c.BuyQuantity < 1 || c.PayQuantity < 1 || c.BuyQuantity <= c.PayQuantity {
			return fmt.Errorf("%w: buy quantity must exceed pay quantity and both must be positive", ErrBadKey)
		}
		if c.Percent != 0 || c.AmountCents != 0 {
			return fmt.Errorf("%w: buy_x_pay_y campaign must not set percent or amount", ErrBadKey)
		}
	case domain.CampaignPercent:
		if c.Percent <= 0 || c.Percent > 100 {
			return fmt.Errorf("%w: percent must be in (0,100]", ErrBadKey)
		}
		if c.BuyQuantity != 0 || c.PayQuantity != 0 || c.AmountCents != 0 {
			return fmt.Errorf("%w: percent campaign must not set quantities or amount", ErrBadKey)
		}
	case domain.CampaignMoneyDiscount:
		if c.AmountCents < 1 {
			return fmt.Errorf("%w: amount must be positive", ErrBadKey)
		}
		if c.BuyQuantity != 0 || c.PayQuantity != 0 || c.Percent != 0 {
			return fmt.Errorf("%w: money_discount campaign must not set quantities or percent", ErrBadKey)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCategory, c.Category)
	}
	return nil
}

// NormalizeCategory maps user input to the canonical category constants.
func NormalizeCategory(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy_x_pay_y", "buyxpayy", "buy-x-pay-y":
		return domain.CampaignBuyXPayY
	case "percent", "percentage":
		return domain.CampaignPercent
	case "money_discount", "money", "flat":
		return domain.CampaignMoneyDiscount
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}
