// Package catalog resolves cart lines against the catalog service so that
// prices and COD flags always come from the server side.
package catalog

import (
	"context"
	"fmt"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/circuitbreaker"
	"checkout-svc/config"
	"checkout-svc/models"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const getProductsMethod = "/catalog.v1.CatalogService/GetProducts"

// maxLineQuantity caps the merged quantity of one product in a cart.
const maxLineQuantity = 10000

// Resolution failure codes.
const (
	ReasonProductNotFound    = "product_not_found"
	ReasonProductUnavailable = "product_unavailable"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonEmptyCart          = "empty_cart"
)

type Client struct {
	conn           *grpc.ClientConn
	circuitBreaker *circuitbreaker.CircuitBreaker
	timeout        time.Duration
	logger         *zap.Logger
}

func InitCatalogClient(cfg config.CatalogConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*Client, error) {
	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog service: %w", err)
	}

	logger.Info("Catalog client initialized", zap.String("addr", cfg.Addr))
	return NewClient(conn, breaker, cfg.Timeout, logger), nil
}

func NewClient(conn *grpc.ClientConn, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{conn: conn, circuitBreaker: breaker, timeout: timeout, logger: logger}
}

// GetProducts fetches the products with the given ids. Unknown ids are
// simply absent from the result.
func (c *Client) GetProducts(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = float64(id)
	}
	req, err := structpb.NewStruct(map[string]any{"product_ids": list})
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp := &structpb.Struct{}
	err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.conn.Invoke(ctx, getProductsMethod, req, resp)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}

	products := make(map[int64]models.Product)
	for _, v := range resp.GetFields()["products"].GetListValue().GetValues() {
		p, err := decodeProduct(v.GetStructValue())
		if err != nil {
			c.logger.Warn("Skipping malformed catalog product", zap.Error(err))
			continue
		}
		products[p.ID] = p
	}
	return products, nil
}

// Resolve turns browser cart lines into priced lines. Repeated products are
// merged; the result follows the order in which products first appear.
func (c *Client) Resolve(ctx context.Context, reqs []models.CartLineRequest) ([]models.CartLine, error) {
	if len(reqs) == 0 {
		return nil, apperrors.Validation(ReasonEmptyCart, "cart is empty")
	}

	qty := make(map[int64]int)
	var ids []int64
	for _, r := range reqs {
		if r.ProductID <= 0 || r.Quantity <= 0 {
			return nil, apperrors.Validation("invalid_line", "product id and quantity must be positive")
		}
		if r.Quantity > maxLineQuantity-qty[r.ProductID] {
			return nil, apperrors.Validation("invalid_line", fmt.Sprintf("at most %d units of a product per order", maxLineQuantity))
		}
		if _, seen := qty[r.ProductID]; !seen {
			ids = append(ids, r.ProductID)
		}
		qty[r.ProductID] += r.Quantity
	}

	products, err := c.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]models.CartLine, 0, len(ids))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, apperrors.Validation(ReasonProductNotFound, fmt.Sprintf("product %d not found", id))
		}
		if !p.Active {
			return nil, apperrors.Validation(ReasonProductUnavailable, fmt.Sprintf("%s is not available", p.Name))
		}
		if p.Stock < qty[id] {
			return nil, apperrors.Validation(ReasonInsufficientStock, fmt.Sprintf("only %d of %s left", p.Stock, p.Name))
		}
		lines = append(lines, models.CartLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    qty[id],
			UnitPrice:   p.Price,
			CODAllowed:  p.CODAllowed,
		})
	}
	return lines, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func decodeProduct(s *structpb.Struct) (models.Product, error) {
	if s == nil {
		return models.Product{}, fmt.Errorf("product is not an object")
	}
	f := s.GetFields()

	price, err := decodePrice(f["price"])
	if err != nil {
		return models.Product{}, err
	}
	return models.Product{
		ID:         int64(f["id"].GetNumberValue()),
		Name:       f["name"].GetStringValue(),
		Price:      price,
		Stock:      int(f["stock"].GetNumberValue()),
		Active:     f["active"].GetBoolValue(),
		CODAllowed: f["cod_allowed"].GetBoolValue(),
	}, nil
}

// Prices travel as decimal strings; plain numbers are accepted too.
func decodePrice(v *structpb.Value) (decimal.Decimal, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return decimal.NewFromString(k.StringValue)
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue).Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("product has no price")
	}
}
