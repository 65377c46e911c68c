// Package pricing computes order totals from trusted cart lines. It has no
// side effects so the same code answers browser quotes and gates server
// state changes.
package pricing

import (
	"time"

	"checkout-svc/models"

	"github.com/shopspring/decimal"
)

// Coupon rejection reasons.
const (
	CouponNotFound    = "coupon_not_found"
	CouponInactive    = "coupon_inactive"
	CouponExpired     = "coupon_expired"
	CouponMinNotMet   = "coupon_min_order_not_met"
	CouponInvalidRule = "coupon_invalid"
)

// COD ineligibility reasons.
const (
	CODDisabled          = "cod_disabled"
	CODAmountExceeded    = "cod_amount_exceeded"
	CODNotAllowedForItem = "cod_not_allowed_for_item"
)

var hundred = decimal.NewFromInt(100)

type Input struct {
	Lines []models.CartLine
	// CouponCode is what the buyer typed; Coupon is its resolved record or
	// nil when no such code exists.
	CouponCode string
	Coupon     *models.Coupon
	Delivery   *models.DeliveryPolicy
	Payment    *models.PaymentPolicy
	Now        time.Time
}

type Result struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	FinalPayable    decimal.Decimal `json:"final_payable"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	CouponApplied   bool            `json:"coupon_applied"`
	CouponRejection string          `json:"coupon_rejection,omitempty"`

	CODEligible          bool     `json:"cod_eligible"`
	CODIneligibleReasons []string `json:"cod_ineligible_reasons,omitempty"`
	CODDisabledMessage   string   `json:"cod_disabled_message,omitempty"`
}

// Calculate prices a cart.
func Calculate(in Input) Result {
	subtotal := Subtotal(in.Lines)

	res := Result{
		Subtotal: subtotal,
		Discount: decimal.Zero,
	}

	if code := models.NormalizeCouponCode(in.CouponCode); code != "" {
		res.CouponCode = code
		discount, rejection := CouponDiscount(in.Coupon, subtotal, in.Now)
		if rejection != "" {
			res.CouponRejection = rejection
		} else {
			res.Discount = discount
			res.CouponApplied = true
		}
	}

	res.DeliveryFee = DeliveryFee(in.Delivery, subtotal, len(in.Lines) == 0)
	res.FinalPayable = subtotal.Sub(res.Discount).Add(res.DeliveryFee)

	res.CODIneligibleReasons = CODIneligibility(in.Payment, in.Lines, res.FinalPayable)
	res.CODEligible = len(res.CODIneligibleReasons) == 0
	if !res.CODEligible && in.Payment != nil && !in.Payment.IsCODEnabled {
		res.CODDisabledMessage = in.Payment.DisabledMessage
	}

	return res
}

func Subtotal(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// CouponDiscount returns the realized discount, or a rejection reason. The
// discount never exceeds the subtotal.
func CouponDiscount(c *models.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, string) {
	if c == nil {
		return decimal.Zero, CouponNotFound
	}
	if !c.IsActive {
		return decimal.Zero, CouponInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return decimal.Zero, CouponExpired
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return decimal.Zero, CouponMinNotMet
	}
	if !c.DiscountValue.IsPositive() {
		return decimal.Zero, CouponInvalidRule
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercent:
		discount = subtotal.Mul(c.DiscountValue).Div(hundred).Round(2)
		if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
			discount = *c.MaxDiscount
		}
	case models.DiscountFlat:
		discount = c.DiscountValue
	default:
		return decimal.Zero, CouponInvalidRule
	}

	return decimal.Min(discount, subtotal), ""
}

func DeliveryFee(p *models.DeliveryPolicy, subtotal decimal.Decimal, emptyCart bool) decimal.Decimal {
	if p == nil || !p.IsActive || emptyCart {
		return decimal.Zero
	}
	if subtotal.GreaterThanOrEqual(p.FreeDeliveryMinAmount) {
		return decimal.Zero
	}
	return p.DefaultFee
}

// CODIneligibility lists every reason cash on delivery is refused.
func CODIneligibility(p *models.PaymentPolicy, lines []models.CartLine, finalPayable decimal.Decimal) []string {
	var reasons []string
	if p == nil || !p.IsCODEnabled {
		reasons = append(reasons, CODDisabled)
	}
	if p != nil && finalPayable.GreaterThan(p.CODMaxAmount) {
		reasons = append(reasons, CODAmountExceeded)
	}
	for _, l := range lines {
		if !l.CODAllowed {
			reasons = append(reasons, CODNotAllowedForItem)
			break
		}
	}
	return reasons
}

// ToMinorUnits converts a major-unit amount to the gateway's integer unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}
