package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Product struct {
	ID        string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID         string
	CustomerID string
	Status     OrderStatus // lihat status.go
	Total      decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderItem struct {
	OrderID   string
	ProductID string
	Quantity  int
	// UnitPrice is frozen at add-time; later catalog changes do not touch it.
	UnitPrice decimal.Decimal
}

type Warehouse struct {
	ID      string
	Name    string
	Address string
}

// WarehouseStock is the only shared mutable state in the system; every write
// happens under a row lock on (WarehouseID, ProductID).
type WarehouseStock struct {
	WarehouseID string
	ProductID   string
	QtyOnHand   int
	QtyReserved int
}

func (s WarehouseStock) Available() int { return s.QtyOnHand - s.QtyReserved }

type Fulfillment struct {
	ID          string
	OrderID     string
	WarehouseID string
	Status      string
	AllocatedAt time.Time
	Items       []FulfillmentItem
}

type FulfillmentItem struct {
	ProductID      string
	QuantityPicked int
}

const (
	LedgerReasonAllocate = "ALLOCATE"
	LedgerReasonCancel   = "CANCEL"
)

// StockLedger rows are append-only; the sum of deltas per (warehouse, product)
// reconciles the reserved quantity.
type StockLedger struct {
	ID            string
	WarehouseID   string
	ProductID     string
	OrderID       string
	Reason        string
	QuantityDelta int
	CreatedAt     time.Time
}

type Payment struct {
	ID                       string
	OrderID                  string
	Amount                   decimal.Decimal
	Status                   PaymentStatus
	BankTransactionReference string
	RequestedAt              time.Time
	ConfirmedAt              *time.Time
}

type Refund struct {
	ID                 string
	OrderID            string
	Amount             decimal.Decimal
	Status             RefundStatus
	BankRefundReference string
	CreatedAt          time.Time
}

type Delivery struct {
	OrderID      string
	Status       DeliveryStatus
	Carrier      string
	TrackingCode string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboxEvent exists iff the event has not yet been confirmed-published.
// It is inserted in the same transaction as the state change it reports and
// deleted by the relay after a successful publish.
type OutboxEvent struct {
	ID            string
	AggregateType AggregateType
	AggregateID   string
	EventType     EventType
	Payload       []byte
	CorrelationID string
	RetryCount    int
	CreatedAt     time.Time
	PublishAt     time.Time
}
