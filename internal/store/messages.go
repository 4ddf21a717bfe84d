package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wire contracts shared with the bank, carrier, and notification services.
// Field names are part of the contract; changing a tag breaks a collaborator.

type OrderPlacedMessage struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	CorrelationID string      `json:"correlationId"`
}

type OrderAllocatedMessage struct {
	OrderID       string      `json:"orderId"`
	Status        OrderStatus `json:"status"`
	CorrelationID string      `json:"correlationId"`
}

type PaymentRequestedMessage struct {
	OrderID        string          `json:"orderId"`
	PaymentID      string          `json:"paymentId"`
	CustomerID     string          `json:"customerId"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	CorrelationID  string          `json:"correlationId"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type PaymentResultMessage struct {
	OrderID                  string `json:"orderId"`
	PaymentID                string `json:"paymentId"`
	Status                   string `json:"status"` // SUCCESS | FAILED
	BankTransactionReference string `json:"bankTransactionReference"`
	FailureReason            string `json:"failureReason"`
}

type PaymentRefundMessage struct {
	OrderID       string          `json:"orderId"`
	PaymentID     string          `json:"paymentId"`
	RefundID      string          `json:"refundId"`
	CustomerID    string          `json:"customerId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	CorrelationID string          `json:"correlationId"`
}

type PaymentRefundResultMessage struct {
	OrderID             string `json:"orderId"`
	PaymentID           string `json:"paymentId"`
	RefundID            string `json:"refundId"`
	Status              string `json:"status"`
	BankRefundReference string `json:"bankRefundReference"`
	FailureReason       string `json:"failureReason"`
	CorrelationID       string `json:"correlationId"`
}

type OrderReadyForPickupMessage struct {
	OrderID       string                `json:"orderId"`
	OrderStatus   OrderStatus           `json:"orderStatus"`
	PaymentID     string                `json:"paymentId"`
	PaymentStatus PaymentStatus         `json:"paymentStatus"`
	CorrelationID string                `json:"correlationId"`
	Warehouses    []WarehouseAssignment `json:"warehouses"`
}

type WarehouseAssignment struct {
	WarehouseID string           `json:"warehouseId"`
	Items       []AssignmentItem `json:"items"`
}

type AssignmentItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type DeliveryAcknowledgementMessage struct {
	OrderID        string     `json:"orderId"`
	Status         string     `json:"status"`
	Carrier        string     `json:"carrier"`
	TrackingCode   string     `json:"trackingCode"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
}

type DeliveryPickupMessage struct {
	OrderID      string     `json:"orderId"`
	Carrier      string     `json:"carrier"`
	TrackingCode string     `json:"trackingCode"`
	PickedUpAt   *time.Time `json:"pickedUpAt"`
}

type DeliveryInTransitMessage struct {
	OrderID      string     `json:"orderId"`
	Carrier      string     `json:"carrier"`
	TrackingCode string     `json:"trackingCode"`
	ETA          string     `json:"eta"`
	UpdatedAt    *time.Time `json:"updatedAt"`
}

type DeliveryDeliveredMessage struct {
	OrderID      string     `json:"orderId"`
	Carrier      string     `json:"carrier"`
	TrackingCode string     `json:"trackingCode"`
	DeliveredAt  *time.Time `json:"deliveredAt"`
}

type DeliveryItemLostMessage struct {
	OrderID       string     `json:"orderId"`
	Carrier       string     `json:"carrier"`
	TrackingCode  string     `json:"trackingCode"`
	WarehouseID   string     `json:"warehouseId"`
	ProductID     string     `json:"productId"`
	QuantityLost  int        `json:"quantityLost"`
	ReportedAt    *time.Time `json:"reportedAt"`
	CorrelationID string     `json:"correlationId"`
}

// ---- email notification projections ----

type PaymentResultEmailMessage struct {
	OrderID                  string        `json:"orderId"`
	PaymentID                string        `json:"paymentId"`
	CustomerEmail            string        `json:"customerEmail"`
	Status                   PaymentStatus `json:"status"`
	BankTransactionReference string        `json:"bankTransactionReference"`
	FailureReason            string        `json:"failureReason"`
	CorrelationID            string        `json:"correlationId"`
}

type RefundStatusEmailMessage struct {
	OrderID       string          `json:"orderId"`
	RefundID      string          `json:"refundId"`
	CustomerEmail string          `json:"customerEmail"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failureReason"`
	CorrelationID string          `json:"correlationId"`
}

type DeliveryPickupEmailMessage struct {
	OrderID       string      `json:"orderId"`
	CustomerEmail string      `json:"customerEmail"`
	Carrier       string      `json:"carrier"`
	TrackingCode  string      `json:"trackingCode"`
	PickedUpAt    time.Time   `json:"pickedUpAt"`
	Status        OrderStatus `json:"status"`
	CorrelationID string      `json:"correlationId"`
}

type DeliveryInTransitEmailMessage struct {
	OrderID       string      `json:"orderId"`
	CustomerEmail string      `json:"customerEmail"`
	Carrier       string      `json:"carrier"`
	TrackingCode  string      `json:"trackingCode"`
	ETA           string      `json:"eta"`
	Status        OrderStatus `json:"status"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	CorrelationID string      `json:"correlationId"`
}

type DeliveryDeliveredEmailMessage struct {
	OrderID       string      `json:"orderId"`
	CustomerEmail string      `json:"customerEmail"`
	Carrier       string      `json:"carrier"`
	TrackingCode  string      `json:"trackingCode"`
	DeliveredAt   time.Time   `json:"deliveredAt"`
	Status        OrderStatus `json:"status"`
	CorrelationID string      `json:"correlationId"`
}

type DeliveryLostEmailMessage struct {
	OrderID       string    `json:"orderId"`
	CustomerEmail string    `json:"customerEmail"`
	Carrier       string    `json:"carrier"`
	TrackingCode  string    `json:"trackingCode"`
	ProductID     string    `json:"productId"`
	QuantityLost  int       `json:"quantityLost"`
	ReportedAt    time.Time `json:"reportedAt"`
	CorrelationID string    `json:"correlationId"`
}
