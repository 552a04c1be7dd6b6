package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-storefront-checkout/internal/address"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/gateway"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"go.uber.org/zap"
)

// Ledger is the part of the order ledger checkout writes to.
type Ledger interface {
	Create(ctx context.Context, order *orders.Order) error
	AttachProviderOrder(ctx context.Context, orderID, providerOrderID string) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	RecordFailure(ctx context.Context, orderID, reason string) error
	UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
}

type Gateway interface {
	CreateProviderOrder(ctx context.Context, req gateway.OrderRequest) (gateway.ProviderOrder, error)
	KeyID() string
}

type Catalog interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
}

type Addresses interface {
	Get(ctx context.Context, addressID string) (*address.Address, error)
}

// Request is a checkout attempt by one user.
type Request struct {
	OrderID   string // optional; generated when empty
	UserID    string
	AddressID string
	Cart      *cart.Cart
}

// Placed is what the client needs to open the payment widget.
type Placed struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	KeyID           string `json:"key_id"`
}

type Config struct {
	Ledger    Ledger
	Gateway   Gateway
	Catalog   Catalog // optional price and stock guard
	Addresses Addresses
	Metrics   *aws.MetricsClient
	Logger    *zap.Logger
	Currency  string
}

type Service struct {
	ledger    Ledger
	gateway   Gateway
	catalog   Catalog
	addresses Addresses
	metrics   *aws.MetricsClient
	log       *zap.Logger
	currency  string
	nowFunc   func() time.Time
}

func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		ledger:    cfg.Ledger,
		gateway:   cfg.Gateway,
		catalog:   cfg.Catalog,
		addresses: cfg.Addresses,
		metrics:   cfg.Metrics,
		log:       log,
		currency:  currency,
		nowFunc:   time.Now,
	}
}

// CreateOrder records the order as created, then creates the matching
// provider order and links the two. A gateway failure marks the ledger row
// failed with the gateway's reason, and the caller may retry with a new order.
func (s *Service) CreateOrder(ctx context.Context, req Request) (Placed, error) {
	addr, err := s.ownedAddress(ctx, req.UserID, req.AddressID)
	if err != nil {
		return Placed{}, err
	}
	var lines []cart.Line
	if req.Cart != nil {
		lines = req.Cart.Lines()
	}
	if err := s.checkCatalog(ctx, lines); err != nil {
		return Placed{}, err
	}
	intent, err := Build(lines, addr, s.currency)
	if err != nil {
		return Placed{}, err
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	order := newOrder(orderID, req.UserID, addr.AddressID, intent)
	if err := s.ledger.Create(ctx, order); err != nil {
		return Placed{}, errs.E(errs.KindLedgerWrite, "record order", err)
	}

	started := s.nowFunc()
	po, err := s.gateway.CreateProviderOrder(ctx, gateway.OrderRequest{
		Amount:   intent.Amount,
		Currency: intent.Currency,
		Receipt:  orderID,
		Notes:    map[string]string{"order_id": orderID},
	})
	_ = s.metrics.RecordLatency(ctx, aws.MetricGatewayLatency, s.nowFunc().Sub(started), nil)
	if err != nil {
		s.log.Warn("provider order creation failed",
			zap.String("order_id", orderID),
			zap.String("kind", string(errs.KindOf(err))),
			zap.Error(err))
		_ = s.metrics.RecordCount(ctx, aws.MetricGatewayErrors, map[string]string{"Kind": string(errs.KindOf(err))})
		// The order stays created; verification owns status transitions.
		if uerr := s.ledger.RecordFailure(ctx, orderID, err.Error()); uerr != nil {
			s.log.Error("failed to record gateway failure", zap.String("order_id", orderID), zap.Error(uerr))
		}
		return Placed{}, err
	}

	if err := s.ledger.AttachProviderOrder(ctx, orderID, po.ID); err != nil {
		s.log.Error("failed to link provider order",
			zap.String("order_id", orderID),
			zap.String("provider_order_id", po.ID),
			zap.Error(err))
		return Placed{}, errs.E(errs.KindLedgerWrite, "link provider order", err)
	}

	_ = s.metrics.RecordCount(ctx, aws.MetricOrdersCreated, nil)
	s.log.Info("order created",
		zap.String("order_id", orderID),
		zap.String("provider_order_id", po.ID),
		zap.Int64("amount", intent.Amount),
		zap.String("currency", intent.Currency))

	return Placed{
		OrderID:         orderID,
		ProviderOrderID: po.ID,
		Amount:          po.Amount,
		Currency:        po.Currency,
		KeyID:           s.gateway.KeyID(),
	}, nil
}

// Orders lists the user's orders, newest first.
func (s *Service) Orders(ctx context.Context, userID string) ([]orders.Order, error) {
	list, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return list, nil
}

// Order returns one of the user's orders. Another user's order reads as not found.
func (s *Service) Order(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	o, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o == nil || o.UserID != userID {
		return nil, errs.E(errs.KindNotFound, "order not found", nil)
	}
	return o, nil
}

// Cancel moves a created order to cancelled. Any later payment callback for
// it is rejected as finalized.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	o, err := s.Order(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	err = s.ledger.UpdateStatus(ctx, orderID, orders.StatusCreated, orders.StatusCancelled)
	switch {
	case errors.Is(err, orders.ErrStatusMismatch):
		return nil, errs.E(errs.KindOrderAlreadyFinalized, "order can no longer be cancelled", nil)
	case err != nil:
		return nil, errs.E(errs.KindLedgerWrite, "cancel order", err)
	}
	o.Status = orders.StatusCancelled
	s.log.Info("order cancelled", zap.String("order_id", orderID))
	return o, nil
}

func (s *Service) ownedAddress(ctx context.Context, userID, addressID string) (*address.Address, error) {
	if addressID == "" || s.addresses == nil {
		return nil, errs.E(errs.KindInvalidCart, "delivery address is required", nil)
	}
	addr, err := s.addresses.Get(ctx, addressID)
	if err != nil {
		return nil, fmt.Errorf("load address: %w", err)
	}
	if addr == nil || addr.UserID != userID {
		return nil, errs.E(errs.KindInvalidCart, "delivery address not found", nil)
	}
	return addr, nil
}

// checkCatalog rejects lines for products the catalog does not know, whose
// price no longer matches, or whose quantity exceeds stock.
func (s *Service) checkCatalog(ctx context.Context, lines []cart.Line) error {
	if s.catalog == nil {
		return nil
	}
	for _, l := range lines {
		p, err := s.catalog.Get(ctx, l.ProductID)
		if err != nil {
			return fmt.Errorf("load product %s: %w", l.ProductID, err)
		}
		if p == nil {
			return errs.E(errs.KindInvalidCart, "unknown product "+l.ProductID, nil)
		}
		if !p.Price.Equal(l.UnitPrice) {
			return errs.E(errs.KindPriceChanged,
				fmt.Sprintf("price of %s is now %s", l.ProductID, p.Price.StringFixed(2)), nil)
		}
		if l.Quantity > p.Stock {
			return errs.E(errs.KindInvalidCart,
				fmt.Sprintf("only %d of %s in stock", p.Stock, l.ProductID), nil)
		}
	}
	return nil
}

func newOrder(orderID, userID, addressID string, in Intent) *orders.Order {
	items := make([]orders.LineItem, 0, len(in.Lines))
	for _, l := range in.Lines {
		items = append(items, orders.LineItem{
			ProductID:       l.ProductID,
			Name:            l.Name,
			Quantity:        l.Quantity,
			PriceAtPurchase: money.NewAmount(l.UnitPrice),
		})
	}
	return &orders.Order{
		OrderID:     orderID,
		UserID:      userID,
		AddressID:   addressID,
		Items:       items,
		TotalAmount: money.NewAmount(in.Total),
		AmountMinor: in.Amount,
		Currency:    in.Currency,
		Status:      orders.StatusCreated,
	}
}
