package pricing

import (
	"testing"
	"time"

	"checkout-svc/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func line(price string, qty int, cod bool) models.CartLine {
	return models.CartLine{ProductID: 1, ProductName: "Tea", UnitPrice: d(price), Quantity: qty, CODAllowed: cod}
}

func delivery() *models.DeliveryPolicy {
	return &models.DeliveryPolicy{FreeDeliveryMinAmount: d("500"), DefaultFee: d("40"), IsActive: true}
}

func payment() *models.PaymentPolicy {
	return &models.PaymentPolicy{CODMaxAmount: d("5000"), IsCODEnabled: true, DisabledMessage: "COD unavailable"}
}

func TestCalculate_PercentCouponCappedByMaxDiscount(t *testing.T) {
	coupon := &models.Coupon{
		Code: "SAVE20", DiscountType: models.DiscountPercent, DiscountValue: d("20"),
		MaxDiscount: dp("150"), IsActive: true,
	}

	res := Calculate(Input{
		Lines:      []models.CartLine{line("1000", 1, true)},
		CouponCode: "save20",
		Coupon:     coupon,
		Delivery:   delivery(),
		Payment:    payment(),
		Now:        now,
	})

	assert.True(t, res.CouponApplied)
	assert.True(t, res.Discount.Equal(d("150")), "discount=%s", res.Discount)
	assert.True(t, res.FinalPayable.Equal(d("850")), "final=%s", res.FinalPayable)
	assert.Equal(t, "SAVE20", res.CouponCode)
}

func TestCalculate_PercentCouponUnderCap(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: d("10"), MaxDiscount: dp("500"), IsActive: true}

	discount, reason := CouponDiscount(coupon, d("999.99"), now)

	assert.Empty(t, reason)
	assert.True(t, discount.Equal(d("100")), "discount=%s", discount)
}

func TestCalculate_FlatCouponNeverExceedsSubtotal(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountFlat, DiscountValue: d("100"), IsActive: true}

	res := Calculate(Input{
		Lines:      []models.CartLine{line("50", 1, true)},
		CouponCode: "FLAT100",
		Coupon:     coupon,
		Delivery:   delivery(),
		Payment:    payment(),
		Now:        now,
	})

	assert.True(t, res.Discount.Equal(d("50")))
	assert.True(t, res.Subtotal.Sub(res.Discount).IsZero())
	// Only the delivery fee remains payable.
	assert.True(t, res.FinalPayable.Equal(d("40")), "final=%s", res.FinalPayable)
	assert.False(t, res.FinalPayable.IsNegative())
}

func TestCalculate_CouponRejections(t *testing.T) {
	expired := now.Add(-time.Minute)
	tests := []struct {
		name   string
		coupon *models.Coupon
		want   string
	}{
		{"missing", nil, CouponNotFound},
		{"inactive", &models.Coupon{DiscountType: models.DiscountFlat, DiscountValue: d("10"), IsActive: false}, CouponInactive},
		{"expired", &models.Coupon{DiscountType: models.DiscountFlat, DiscountValue: d("10"), IsActive: true, ExpiresAt: &expired}, CouponExpired},
		{"below minimum", &models.Coupon{DiscountType: models.DiscountFlat, DiscountValue: d("10"), IsActive: true, MinOrderValue: d("1000")}, CouponMinNotMet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(Input{
				Lines:      []models.CartLine{line("300", 1, true)},
				CouponCode: "CODE",
				Coupon:     tt.coupon,
				Delivery:   delivery(),
				Payment:    payment(),
				Now:        now,
			})
			assert.False(t, res.CouponApplied)
			assert.Equal(t, tt.want, res.CouponRejection)
			assert.True(t, res.Discount.IsZero())
		})
	}
}

func TestCalculate_NoCouponCodeMeansNoRejection(t *testing.T) {
	res := Calculate(Input{Lines: []models.CartLine{line("100", 1, true)}, Delivery: delivery(), Payment: payment(), Now: now})

	assert.Empty(t, res.CouponRejection)
	assert.False(t, res.CouponApplied)
}

func TestDeliveryFee_StepAtThreshold(t *testing.T) {
	p := delivery()

	assert.True(t, DeliveryFee(p, d("500"), false).IsZero())
	assert.True(t, DeliveryFee(p, d("499"), false).Equal(d("40")))
	assert.True(t, DeliveryFee(p, d("0"), true).IsZero())

	p.IsActive = false
	assert.True(t, DeliveryFee(p, d("10"), false).IsZero())
	assert.True(t, DeliveryFee(nil, d("10"), false).IsZero())
}

func TestCalculate_CODIneligibleAboveMaxAmount(t *testing.T) {
	pp := payment()
	pp.CODMaxAmount = d("2000")

	res := Calculate(Input{
		Lines:    []models.CartLine{line("2500", 1, true)},
		Delivery: delivery(),
		Payment:  pp,
		Now:      now,
	})

	assert.False(t, res.CODEligible)
	assert.Equal(t, []string{CODAmountExceeded}, res.CODIneligibleReasons)
	assert.Empty(t, res.CODDisabledMessage)
}

func TestCalculate_CODReasonsReportedIndependently(t *testing.T) {
	pp := payment()
	pp.IsCODEnabled = false
	pp.CODMaxAmount = d("100")

	res := Calculate(Input{
		Lines:    []models.CartLine{line("200", 1, true), line("10", 1, false)},
		Delivery: delivery(),
		Payment:  pp,
		Now:      now,
	})

	assert.False(t, res.CODEligible)
	assert.ElementsMatch(t, []string{CODDisabled, CODAmountExceeded, CODNotAllowedForItem}, res.CODIneligibleReasons)
	assert.Equal(t, "COD unavailable", res.CODDisabledMessage)
}

func TestCalculate_RestrictedItemOnly(t *testing.T) {
	res := Calculate(Input{
		Lines:    []models.CartLine{line("200", 2, false)},
		Delivery: delivery(),
		Payment:  payment(),
		Now:      now,
	})

	assert.Equal(t, []string{CODNotAllowedForItem}, res.CODIneligibleReasons)
}

func TestCalculate_TotalInvariant(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: d("12.5"), IsActive: true}
	res := Calculate(Input{
		Lines:      []models.CartLine{line("199.99", 2, true), line("35.50", 3, true)},
		CouponCode: "X",
		Coupon:     coupon,
		Delivery:   delivery(),
		Payment:    payment(),
		Now:        now,
	})

	assert.True(t, res.Subtotal.Equal(d("506.48")))
	assert.True(t, res.FinalPayable.Equal(res.Subtotal.Sub(res.Discount).Add(res.DeliveryFee)))
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(85000), ToMinorUnits(d("850")))
	assert.Equal(t, int64(19999), ToMinorUnits(d("199.99")))
	assert.True(t, FromMinorUnits(19999).Equal(d("199.99")))
}
