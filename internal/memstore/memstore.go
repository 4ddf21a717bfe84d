// Package memstore is the in-memory store used by tests. It implements the
// same ports as the postgres store, including the relay-side accessors, with
// copy-on-write transactions so a failed unit of work leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/storeops/order-saga/internal/store"
)

type state struct {
	customers    map[string]store.Customer
	products     map[string]store.Product
	orders       map[string]store.Order
	orderItems   map[string]map[string]store.OrderItem
	stocks       map[string]store.WarehouseStock
	ledger       []store.StockLedger
	fulfillments map[string]store.Fulfillment
	payments     map[string]store.Payment // keyed by order id
	refunds      map[string]store.Refund
	deliveries   map[string]store.Delivery
	outbox       map[string]store.OutboxEvent
	outboxSeq    map[string]int
	seq          int
}

func newState() *state {
	return &state{
		customers:    map[string]store.Customer{},
		products:     map[string]store.Product{},
		orders:       map[string]store.Order{},
		orderItems:   map[string]map[string]store.OrderItem{},
		stocks:       map[string]store.WarehouseStock{},
		fulfillments: map[string]store.Fulfillment{},
		payments:     map[string]store.Payment{},
		refunds:      map[string]store.Refund{},
		deliveries:   map[string]store.Delivery{},
		outbox:       map[string]store.OutboxEvent{},
		outboxSeq:    map[string]int{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for orderID, items := range s.orderItems {
		m := map[string]store.OrderItem{}
		for k, v := range items {
			m[k] = v
		}
		c.orderItems[orderID] = m
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	c.ledger = append([]store.StockLedger(nil), s.ledger...)
	for k, v := range s.fulfillments {
		v.Items = append([]store.FulfillmentItem(nil), v.Items...)
		c.fulfillments[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range s.outbox {
		v.Payload = append([]byte(nil), v.Payload...)
		c.outbox[k] = v
	}
	for k, v := range s.outboxSeq {
		c.outboxSeq[k] = v
	}
	c.seq = s.seq
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store { return &Store{st: newState()} }

// WithinTx runs fn against a clone of the state and swaps the clone in only
// when fn succeeds, mirroring commit/rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

var _ store.Store = (*Store)(nil)

// ---- seed and inspection helpers for tests ----

func (s *Store) SeedCustomer(c store.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

func (s *Store) SeedProduct(p store.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) SeedStock(st store.WarehouseStock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.stocks[stockKey(st.WarehouseID, st.ProductID)] = st
}

func (s *Store) StockAt(warehouseID, productID string) store.WarehouseStock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stocks[stockKey(warehouseID, productID)]
}

func (s *Store) Ledger() []store.StockLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.StockLedger(nil), s.st.ledger...)
}

// OutboxEvents returns every pending event in creation order.
func (s *Store) OutboxEvents() []store.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sortedOutbox()
}

func (st *state) sortedOutbox() []store.OutboxEvent {
	out := make([]store.OutboxEvent, 0, len(st.outbox))
	for _, e := range st.outbox {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return st.outboxSeq[out[i].ID] < st.outboxSeq[out[j].ID]
	})
	return out
}

func stockKey(warehouseID, productID string) string { return warehouseID + "|" + productID }

// ---- relay source ----

func (s *Store) DueOutbox(ctx context.Context, now time.Time, maxRetry, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.OutboxEvent
	for _, e := range s.st.sortedOutbox() {
		if e.PublishAt.After(now) || e.RetryCount >= maxRetry {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) DeleteOutboxEvent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.outbox, eventID)
	delete(s.st.outboxSeq, eventID)
	return nil
}

func (s *Store) BumpOutboxRetry(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.outbox[eventID]
	if !ok {
		return fmt.Errorf("outbox event %s: %w", eventID, store.ErrNotFound)
	}
	e.RetryCount++
	s.st.outbox[eventID] = e
	return nil
}

func (s *Store) CustomerIDForOrder(ctx context.Context, orderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[orderID]
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	return o.CustomerID, nil
}

// ---- store.Tx ----

type tx struct{ st *state }

var _ store.Tx = (*tx)(nil)

func (t *tx) GetCustomer(ctx context.Context, customerID string) (*store.Customer, error) {
	c, ok := t.st.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
	}
	return &c, nil
}

func (t *tx) GetProduct(ctx context.Context, productID string) (*store.Product, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) ListProducts(ctx context.Context) ([]store.Product, error) {
	out := make([]store.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (*store.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	return &o, nil
}

func (t *tx) CreateOrder(ctx context.Context, o *store.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s exists: %w", o.ID, store.ErrConflict)
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) SaveOrder(ctx context.Context, o *store.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, store.ErrNotFound)
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) OrdersByCustomer(ctx context.Context, customerID string) ([]store.Order, error) {
	var out []store.Order
	for _, o := range t.st.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) OrderItems(ctx context.Context, orderID string) ([]store.OrderItem, error) {
	var out []store.OrderItem
	for _, it := range t.st.orderItems[orderID] {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *tx) UpsertOrderItem(ctx context.Context, it *store.OrderItem) error {
	m, ok := t.st.orderItems[it.OrderID]
	if !ok {
		m = map[string]store.OrderItem{}
		t.st.orderItems[it.OrderID] = m
	}
	m[it.ProductID] = *it
	return nil
}

func (t *tx) DeleteOrderItem(ctx context.Context, orderID, productID string) error {
	delete(t.st.orderItems[orderID], productID)
	return nil
}

func (t *tx) StocksForProduct(ctx context.Context, productID string) ([]store.WarehouseStock, error) {
	var out []store.WarehouseStock
	for _, s := range t.st.stocks {
		if s.ProductID == productID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WarehouseID < out[j].WarehouseID })
	return out, nil
}

func (t *tx) LockStock(ctx context.Context, warehouseID, productID string) (*store.WarehouseStock, error) {
	k := stockKey(warehouseID, productID)
	s, ok := t.st.stocks[k]
	if !ok {
		s = store.WarehouseStock{WarehouseID: warehouseID, ProductID: productID}
		t.st.stocks[k] = s
	}
	return &s, nil
}

func (t *tx) SaveStock(ctx context.Context, s *store.WarehouseStock) error {
	t.st.stocks[stockKey(s.WarehouseID, s.ProductID)] = *s
	return nil
}

func (t *tx) AppendLedger(ctx context.Context, entry *store.StockLedger) error {
	t.st.ledger = append(t.st.ledger, *entry)
	return nil
}

func (t *tx) FulfillmentsByOrder(ctx context.Context, orderID string) ([]store.Fulfillment, error) {
	var out []store.Fulfillment
	for _, f := range t.st.fulfillments {
		if f.OrderID == orderID {
			f.Items = append([]store.FulfillmentItem(nil), f.Items...)
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WarehouseID < out[j].WarehouseID })
	return out, nil
}

func (t *tx) CreateFulfillment(ctx context.Context, f *store.Fulfillment) error {
	cp := *f
	cp.Items = append([]store.FulfillmentItem(nil), f.Items...)
	t.st.fulfillments[f.ID] = cp
	return nil
}

func (t *tx) DeleteFulfillmentsByOrder(ctx context.Context, orderID string) error {
	for id, f := range t.st.fulfillments {
		if f.OrderID == orderID {
			delete(t.st.fulfillments, id)
		}
	}
	return nil
}

func (t *tx) PaymentByOrder(ctx context.Context, orderID string) (*store.Payment, error) {
	p, ok := t.st.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, store.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) CreatePayment(ctx context.Context, p *store.Payment) error {
	if _, ok := t.st.payments[p.OrderID]; ok {
		return fmt.Errorf("payment for order %s exists: %w", p.OrderID, store.ErrConflict)
	}
	t.st.payments[p.OrderID] = *p
	return nil
}

func (t *tx) SavePayment(ctx context.Context, p *store.Payment) error {
	if _, ok := t.st.payments[p.OrderID]; !ok {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, store.ErrNotFound)
	}
	t.st.payments[p.OrderID] = *p
	return nil
}

func (t *tx) GetRefund(ctx context.Context, refundID string) (*store.Refund, error) {
	r, ok := t.st.refunds[refundID]
	if !ok {
		return nil, fmt.Errorf("refund %s: %w", refundID, store.ErrNotFound)
	}
	return &r, nil
}

func (t *tx) CreateRefund(ctx context.Context, r *store.Refund) error {
	t.st.refunds[r.ID] = *r
	return nil
}

func (t *tx) SaveRefund(ctx context.Context, r *store.Refund) error {
	if _, ok := t.st.refunds[r.ID]; !ok {
		return fmt.Errorf("refund %s: %w", r.ID, store.ErrNotFound)
	}
	t.st.refunds[r.ID] = *r
	return nil
}

func (t *tx) DeliveryByOrder(ctx context.Context, orderID string) (*store.Delivery, error) {
	d, ok := t.st.deliveries[orderID]
	if !ok {
		return nil, fmt.Errorf("delivery for order %s: %w", orderID, store.ErrNotFound)
	}
	return &d, nil
}

func (t *tx) SaveDelivery(ctx context.Context, d *store.Delivery) error {
	t.st.deliveries[d.OrderID] = *d
	return nil
}

func (t *tx) DeleteDelivery(ctx context.Context, orderID string) error {
	delete(t.st.deliveries, orderID)
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, e *store.OutboxEvent) error {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	t.st.seq++
	t.st.outbox[e.ID] = cp
	t.st.outboxSeq[e.ID] = t.st.seq
	return nil
}

func (t *tx) LatestOutbox(ctx context.Context, at store.AggregateType, aggregateID string, et store.EventType) (*store.OutboxEvent, error) {
	var (
		found   *store.OutboxEvent
		bestSeq int
	)
	for id, e := range t.st.outbox {
		if e.AggregateType != at || e.AggregateID != aggregateID || e.EventType != et {
			continue
		}
		if seq := t.st.outboxSeq[id]; found == nil || seq > bestSeq {
			cp := e
			found = &cp
			bestSeq = seq
		}
	}
	if found == nil {
		return nil, fmt.Errorf("outbox event for %s %s: %w", at, aggregateID, store.ErrNotFound)
	}
	return found, nil
}

func (t *tx) DeleteOutbox(ctx context.Context, eventID string) error {
	delete(t.st.outbox, eventID)
	delete(t.st.outboxSeq, eventID)
	return nil
}
