package models

import "github.com/shopspring/decimal"

// CartLine is a cart entry whose price came from the catalog, never the client.
type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CODAllowed  bool            `json:"cod_allowed"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartLineRequest is what a browser may send: ids and quantities only.
type CartLineRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

// Product is the catalog's view of an item.
type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	Active     bool            `json:"active"`
	CODAllowed bool            `json:"cod_allowed"`
}
