package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// execute fills or rejects o at the quoted price inside tx. It is the only
// code that moves cash and shares. o is updated in memory; the caller
// persists it with InsertOrder or UpdateOrder. The returned orders are BUY
// lots marked CLOSED by a SELL fill, already persisted.
func execute(ctx context.Context, tx store.LedgerTx, o *domain.Order, q domain.Quote) ([]domain.Order, error) {
	acct, err := tx.Account(ctx)
	if err != nil {
		return nil, err
	}
	price := q.Price.Round(domain.PriceScale)
	qty := decimal.NewFromInt(o.Quantity)

	pos, err := tx.Position(ctx, o.Symbol)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	var held int64
	if pos != nil {
		held = pos.Quantity
	}

	if reason := CheckFunds(o.Side, o.Quantity, price, acct.CashBalance, held); reason != domain.StatusTextNone {
		o.Status = domain.OrderStatusRejected
		o.StatusText = reason
		return nil, nil
	}

	switch o.Side {
	case domain.OrderSideBuy:
		cost := price.Mul(qty)
		if err := tx.SetCashBalance(ctx, acct.CashBalance.Sub(cost)); err != nil {
			return nil, err
		}
		if pos == nil {
			pos = &domain.Position{Symbol: o.Symbol, AvgPrice: price}
		} else {
			total := pos.CostBasis().Add(cost)
			pos.AvgPrice = total.DivRound(decimal.NewFromInt(pos.Quantity+o.Quantity), domain.AvgCostScale)
		}
		pos.Quantity += o.Quantity
		if err := tx.SavePosition(ctx, pos); err != nil {
			return nil, err
		}
		fill(o, price, q, domain.StatusTextOpen)
		return nil, nil

	case domain.OrderSideSell:
		if err := tx.SetCashBalance(ctx, acct.CashBalance.Add(price.Mul(qty))); err != nil {
			return nil, err
		}
		pos.Quantity -= o.Quantity
		if pos.Quantity == 0 {
			err = tx.DeletePosition(ctx, o.Symbol)
		} else {
			err = tx.SavePosition(ctx, pos)
		}
		if err != nil {
			return nil, err
		}
		fill(o, price, q, domain.StatusTextClosed)
		return closeLots(ctx, tx, o.Symbol, o.Quantity)
	}
	return nil, fmt.Errorf("order %s: unknown side %q", o.ID, o.Side)
}

func fill(o *domain.Order, price decimal.Decimal, q domain.Quote, text domain.StatusText) {
	o.Status = domain.OrderStatusFilled
	o.StatusText = text
	o.Price = price
	if q.Exchange != "" {
		o.Exchange = q.Exchange
	}
	if q.Currency != "" {
		o.Currency = q.Currency
	}
}

// closeLots marks the oldest OPEN BUY orders for symbol as CLOSED while
// their quantities fit in sold. A lot is only closed when fully covered;
// matching stops at the first lot larger than what remains.
func closeLots(ctx context.Context, tx store.LedgerTx, symbol string, sold int64) ([]domain.Order, error) {
	lots, err := tx.OpenBuyOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	remaining := sold
	var closed []domain.Order
	for i := range lots {
		lot := &lots[i]
		if lot.Quantity > remaining {
			break
		}
		lot.StatusText = domain.StatusTextClosed
		if err := tx.UpdateOrder(ctx, lot); err != nil {
			return nil, err
		}
		remaining -= lot.Quantity
		closed = append(closed, *lot)
	}
	return closed, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
