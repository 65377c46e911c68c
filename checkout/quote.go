package checkout

import (
	"context"
	"fmt"
	"strings"

	"checkout-svc/apperrors"
	"checkout-svc/models"
	"checkout-svc/policy"
	"checkout-svc/pricing"

	"go.opentelemetry.io/otel"
)

type priced struct {
	lines  []models.CartLine
	policy *policy.Snapshot
	result pricing.Result
}

// Quote prices a cart for display. A rejected coupon is reported in the
// result rather than as an error.
func (s *Service) Quote(ctx context.Context, req models.QuoteRequest) (*pricing.Result, error) {
	ctx, span := otel.Tracer("checkout-service").Start(ctx, "checkout.Quote")
	defer span.End()

	var lines []models.CartLine
	if len(req.Lines) > 0 {
		var err error
		if lines, err = s.catalog.Resolve(ctx, req.Lines); err != nil {
			return nil, err
		}
	}

	snap, err := s.policies.Load(ctx, req.CouponCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	res := s.calculate(lines, req.CouponCode, snap)
	return &res, nil
}

// price resolves lines against the catalog and prices them. Unlike Quote, a
// coupon the buyer asked for that does not apply fails the checkout.
func (s *Service) price(ctx context.Context, reqLines []models.CartLineRequest, couponCode string, snap *policy.Snapshot) (*priced, error) {
	lines, err := s.catalog.Resolve(ctx, reqLines)
	if err != nil {
		return nil, err
	}

	res := s.calculate(lines, couponCode, snap)
	if res.CouponRejection != "" {
		return nil, apperrors.Validation(res.CouponRejection, "Coupon "+res.CouponCode+" cannot be applied")
	}
	return &priced{lines: lines, policy: snap, result: res}, nil
}

func (s *Service) calculate(lines []models.CartLine, couponCode string, snap *policy.Snapshot) pricing.Result {
	return pricing.Calculate(pricing.Input{
		Lines:      lines,
		CouponCode: couponCode,
		Coupon:     snap.Coupon,
		Delivery:   snap.Delivery,
		Payment:    snap.Payment,
		Now:        s.now(),
	})
}

// NormalizePhone strips separators and returns the national number.
// Ten digits are required; a leading +91, 91 or 0 is dropped.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '+':
		default:
			return "", invalidPhone()
		}
	}

	d := digits.String()
	switch {
	case len(d) == 12 && strings.HasPrefix(d, "91"):
		d = d[2:]
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		d = d[1:]
	}
	if len(d) != 10 || d[0] < '6' {
		return "", invalidPhone()
	}
	return d, nil
}

func invalidPhone() error {
	return apperrors.Validation("invalid_phone", "Enter a valid 10-digit mobile number")
}

func validateCustomer(c *models.Customer) error {
	phone, err := NormalizePhone(c.Phone)
	if err != nil {
		return err
	}
	c.Phone = phone
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	c.Notes = strings.TrimSpace(c.Notes)
	if c.Name == "" || c.Address == "" {
		return apperrors.Validation("invalid_customer", "Name and address are required")
	}
	return nil
}
