package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

const maxSymbolLen = 15

// RiskManager enforces pre-trade request validation and optional size
// limits. Cash and shares are checked by CheckFunds inside the ledger
// transaction.
type RiskManager struct {
	maxQuantity int64
	maxNotional decimal.Decimal
}

// NewRiskManager creates a RiskManager with the specified limits.
//
//   - maxQuantity: largest share count accepted in one order; 0 disables.
//   - maxNotional: largest price*quantity accepted in one order; zero
//     disables.
func NewRiskManager(maxQuantity int64, maxNotional decimal.Decimal) *RiskManager {
	return &RiskManager{
		maxQuantity: maxQuantity,
		maxNotional: maxNotional,
	}
}

// ValidateRequest normalises req in place and reports malformed input as a
// *domain.ValidationError.
func (rm *RiskManager) ValidateRequest(req *SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return &domain.ValidationError{Field: "user", Reason: "must not be empty"}
	}

	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if err := validateSymbol(req.Symbol); err != nil {
		return err
	}

	side, ok := domain.ParseOrderSide(string(req.Side))
	if !ok {
		return &domain.ValidationError{Field: "side", Reason: fmt.Sprintf("%q is not BUY or SELL", req.Side)}
	}
	req.Side = side

	if req.Quantity <= 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if rm.maxQuantity > 0 && req.Quantity > rm.maxQuantity {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("exceeds limit of %d", rm.maxQuantity)}
	}

	for _, p := range []struct {
		field string
		v     decimal.NullDecimal
	}{
		{"stop_loss_price", req.StopLossPrice},
		{"take_profit_price", req.TakeProfitPrice},
	} {
		if p.v.Valid && !p.v.Decimal.IsPositive() {
			return &domain.ValidationError{Field: p.field, Reason: "must be positive"}
		}
	}
	return nil
}

// CheckNotional rejects orders whose value at price exceeds the configured
// limit.
func (rm *RiskManager) CheckNotional(qty int64, price decimal.Decimal) error {
	if rm.maxNotional.IsPositive() && price.Mul(decimal.NewFromInt(qty)).GreaterThan(rm.maxNotional) {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("order value exceeds limit of %s", rm.maxNotional)}
	}
	return nil
}

// CheckFunds reports why an order of qty shares at price could not be
// filled against cash and the held quantity, or StatusTextNone if it could.
func CheckFunds(side domain.OrderSide, qty int64, price, cash decimal.Decimal, held int64) domain.StatusText {
	switch side {
	case domain.OrderSideBuy:
		if cash.LessThan(price.Mul(decimal.NewFromInt(qty))) {
			return domain.StatusTextInsufficientCash
		}
	case domain.OrderSideSell:
		if held < qty {
			return domain.StatusTextInsufficientShares
		}
	}
	return domain.StatusTextNone
}

func validateSymbol(s string) error {
	if s == "" {
		return &domain.ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if len(s) > maxSymbolLen {
		return &domain.ValidationError{Field: "symbol", Reason: fmt.Sprintf("longer than %d characters", maxSymbolLen)}
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^':
		default:
			return &domain.ValidationError{Field: "symbol", Reason: fmt.Sprintf("invalid character %q", r)}
		}
	}
	return nil
}
