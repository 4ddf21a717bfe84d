package store

import (
	"context"
	"time"
)

// Store opens atomic units of work. Every saga operation runs inside exactly
// one WithinTx call; on error all mutations and outbox inserts roll back together.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the data access surface available inside a unit of work. Implementations:
// postgres.Store (production) and memstore.Store (tests).
type Tx interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CreateOrder(ctx context.Context, o *Order) error
	SaveOrder(ctx context.Context, o *Order) error
	OrdersByCustomer(ctx context.Context, customerID string) ([]Order, error)

	OrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	UpsertOrderItem(ctx context.Context, it *OrderItem) error
	DeleteOrderItem(ctx context.Context, orderID, productID string) error

	// StocksForProduct returns stock rows ordered by warehouse id. No lock is
	// taken; planning is advisory.
	StocksForProduct(ctx context.Context, productID string) ([]WarehouseStock, error)
	// LockStock takes the exclusive row lock on (warehouseID, productID),
	// creating the row with zero counters if absent. The lock is held until the
	// enclosing transaction ends.
	LockStock(ctx context.Context, warehouseID, productID string) (*WarehouseStock, error)
	SaveStock(ctx context.Context, s *WarehouseStock) error
	AppendLedger(ctx context.Context, entry *StockLedger) error

	FulfillmentsByOrder(ctx context.Context, orderID string) ([]Fulfillment, error)
	CreateFulfillment(ctx context.Context, f *Fulfillment) error
	DeleteFulfillmentsByOrder(ctx context.Context, orderID string) error

	PaymentByOrder(ctx context.Context, orderID string) (*Payment, error)
	CreatePayment(ctx context.Context, p *Payment) error
	SavePayment(ctx context.Context, p *Payment) error

	GetRefund(ctx context.Context, refundID string) (*Refund, error)
	CreateRefund(ctx context.Context, r *Refund) error
	SaveRefund(ctx context.Context, r *Refund) error

	DeliveryByOrder(ctx context.Context, orderID string) (*Delivery, error)
	SaveDelivery(ctx context.Context, d *Delivery) error
	DeleteDelivery(ctx context.Context, orderID string) error

	InsertOutbox(ctx context.Context, e *OutboxEvent) error
	// LatestOutbox returns the newest pending event for the aggregate/type pair,
	// or ErrNotFound.
	LatestOutbox(ctx context.Context, at AggregateType, aggregateID string, et EventType) (*OutboxEvent, error)
	DeleteOutbox(ctx context.Context, eventID string) error
}

// Clock lets tests pin timestamps; production uses time.Now.
type Clock func() time.Time
