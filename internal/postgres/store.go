package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storeops/order-saga/internal/store"
)

// Store implements store.Store on a pgx pool. Relay-side accessors
// (DueOutbox etc.) run outside saga transactions, straight on the pool.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type queries struct{ db pgx.Tx }

var _ store.Tx = (*queries)(nil)

func (q *queries) GetCustomer(ctx context.Context, customerID string) (*store.Customer, error) {
	var c store.Customer
	err := q.db.QueryRow(ctx, `
		SELECT id, name, email, created_at FROM customers WHERE id=$1`, customerID).
		Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *queries) GetProduct(ctx context.Context, productID string) (*store.Product, error) {
	var p store.Product
	err := q.db.QueryRow(ctx, `
		SELECT id, sku, name, unit_price, created_at, updated_at FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) ListProducts(ctx context.Context) ([]store.Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, sku, name, unit_price, created_at, updated_at FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Product
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) GetOrder(ctx context.Context, orderID string) (*store.Order, error) {
	var o store.Order
	err := q.db.QueryRow(ctx, `
		SELECT id, customer_id, status, order_total, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (q *queries) CreateOrder(ctx context.Context, o *store.Order) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, order_total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.CustomerID, o.Status, o.Total, o.CreatedAt, o.UpdatedAt)
	return err
}

func (q *queries) SaveOrder(ctx context.Context, o *store.Order) error {
	ct, err := q.db.Exec(ctx, `
		UPDATE orders SET status=$2, order_total=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.Total, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", o.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) OrdersByCustomer(ctx context.Context, customerID string) ([]store.Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, customer_id, status, order_total, created_at, updated_at
		FROM orders WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Order
	for rows.Next() {
		var o store.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q *queries) OrderItems(ctx context.Context, orderID string) ([]store.OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OrderItem
	for rows.Next() {
		var it store.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q *queries) UpsertOrderItem(ctx context.Context, it *store.OrderItem) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO order_items(order_id, product_id, quantity, unit_price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (order_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		it.OrderID, it.ProductID, it.Quantity, it.UnitPrice)
	return err
}

func (q *queries) DeleteOrderItem(ctx context.Context, orderID, productID string) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM order_items WHERE order_id=$1 AND product_id=$2`, orderID, productID)
	return err
}

func (q *queries) StocksForProduct(ctx context.Context, productID string) ([]store.WarehouseStock, error) {
	rows, err := q.db.Query(ctx, `
		SELECT warehouse_id, product_id, qty_on_hand, qty_reserved
		FROM warehouse_stock WHERE product_id=$1 ORDER BY warehouse_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WarehouseStock
	for rows.Next() {
		var s store.WarehouseStock
		if err := rows.Scan(&s.WarehouseID, &s.ProductID, &s.QtyOnHand, &s.QtyReserved); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) LockStock(ctx context.Context, warehouseID, productID string) (*store.WarehouseStock, error) {
	s := store.WarehouseStock{WarehouseID: warehouseID, ProductID: productID}
	err := q.db.QueryRow(ctx, `
		SELECT qty_on_hand, qty_reserved FROM warehouse_stock
		WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
		Scan(&s.QtyOnHand, &s.QtyReserved)
	if errors.Is(err, pgx.ErrNoRows) {
		// Create with zero counters, then take the lock for real.
		if _, err := q.db.Exec(ctx, `
			INSERT INTO warehouse_stock(warehouse_id, product_id, qty_on_hand, qty_reserved)
			VALUES ($1,$2,0,0) ON CONFLICT (warehouse_id, product_id) DO NOTHING`,
			warehouseID, productID); err != nil {
			return nil, err
		}
		err = q.db.QueryRow(ctx, `
			SELECT qty_on_hand, qty_reserved FROM warehouse_stock
			WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
			Scan(&s.QtyOnHand, &s.QtyReserved)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) SaveStock(ctx context.Context, s *store.WarehouseStock) error {
	_, err := q.db.Exec(ctx, `
		UPDATE warehouse_stock SET qty_on_hand=$3, qty_reserved=$4
		WHERE warehouse_id=$1 AND product_id=$2`,
		s.WarehouseID, s.ProductID, s.QtyOnHand, s.QtyReserved)
	return err
}

func (q *queries) AppendLedger(ctx context.Context, entry *store.StockLedger) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stock_ledger(id, warehouse_id, product_id, order_id, reason, quantity_delta, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ID, entry.WarehouseID, entry.ProductID, entry.OrderID,
		entry.Reason, entry.QuantityDelta, entry.CreatedAt)
	return err
}

func (q *queries) FulfillmentsByOrder(ctx context.Context, orderID string) ([]store.Fulfillment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT f.id, f.order_id, f.warehouse_id, f.status, f.allocated_at, i.product_id, i.quantity_picked
		FROM fulfillments f
		JOIN fulfillment_items i ON i.fulfillment_id = f.id
		WHERE f.order_id=$1
		ORDER BY f.warehouse_id, i.product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Fulfillment
	byID := map[string]int{}
	for rows.Next() {
		var (
			f    store.Fulfillment
			item store.FulfillmentItem
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.WarehouseID, &f.Status, &f.AllocatedAt,
			&item.ProductID, &item.QuantityPicked); err != nil {
			return nil, err
		}
		idx, ok := byID[f.ID]
		if !ok {
			out = append(out, f)
			idx = len(out) - 1
			byID[f.ID] = idx
		}
		out[idx].Items = append(out[idx].Items, item)
	}
	return out, rows.Err()
}

func (q *queries) CreateFulfillment(ctx context.Context, f *store.Fulfillment) error {
	if _, err := q.db.Exec(ctx, `
		INSERT INTO fulfillments(id, order_id, warehouse_id, status, allocated_at)
		VALUES ($1,$2,$3,$4,$5)`,
		f.ID, f.OrderID, f.WarehouseID, f.Status, f.AllocatedAt); err != nil {
		return err
	}
	for _, it := range f.Items {
		if _, err := q.db.Exec(ctx, `
			INSERT INTO fulfillment_items(fulfillment_id, product_id, quantity_picked)
			VALUES ($1,$2,$3)`, f.ID, it.ProductID, it.QuantityPicked); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) DeleteFulfillmentsByOrder(ctx context.Context, orderID string) error {
	// fulfillment_items cascades on fulfillment delete.
	_, err := q.db.Exec(ctx, `DELETE FROM fulfillments WHERE order_id=$1`, orderID)
	return err
}

func (q *queries) PaymentByOrder(ctx context.Context, orderID string) (*store.Payment, error) {
	var p store.Payment
	err := q.db.QueryRow(ctx, `
		SELECT id, order_id, amount, status, COALESCE(bank_transaction_reference, ''), requested_at, confirmed_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status, &p.BankTransactionReference, &p.RequestedAt, &p.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) CreatePayment(ctx context.Context, p *store.Payment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount, status, bank_transaction_reference, requested_at, confirmed_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7)`,
		p.ID, p.OrderID, p.Amount, p.Status, p.BankTransactionReference, p.RequestedAt, p.ConfirmedAt)
	return err
}

func (q *queries) SavePayment(ctx context.Context, p *store.Payment) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payments SET status=$2, bank_transaction_reference=NULLIF($3,''), confirmed_at=$4
		WHERE id=$1`,
		p.ID, p.Status, p.BankTransactionReference, p.ConfirmedAt)
	return err
}

func (q *queries) GetRefund(ctx context.Context, refundID string) (*store.Refund, error) {
	var r store.Refund
	err := q.db.QueryRow(ctx, `
		SELECT id, order_id, amount, status, COALESCE(bank_refund_reference, ''), created_at
		FROM refunds WHERE id=$1`, refundID).
		Scan(&r.ID, &r.OrderID, &r.Amount, &r.Status, &r.BankRefundReference, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("refund %s: %w", refundID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) CreateRefund(ctx context.Context, r *store.Refund) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO refunds(id, order_id, amount, status, bank_refund_reference, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)`,
		r.ID, r.OrderID, r.Amount, r.Status, r.BankRefundReference, r.CreatedAt)
	return err
}

func (q *queries) SaveRefund(ctx context.Context, r *store.Refund) error {
	_, err := q.db.Exec(ctx, `
		UPDATE refunds SET status=$2, bank_refund_reference=NULLIF($3,'') WHERE id=$1`,
		r.ID, r.Status, r.BankRefundReference)
	return err
}

func (q *queries) DeliveryByOrder(ctx context.Context, orderID string) (*store.Delivery, error) {
	var d store.Delivery
	err := q.db.QueryRow(ctx, `
		SELECT order_id, status, COALESCE(carrier,''), COALESCE(tracking_code,''), created_at, updated_at
		FROM deliveries WHERE order_id=$1`, orderID).
		Scan(&d.OrderID, &d.Status, &d.Carrier, &d.TrackingCode, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery for order %s: %w", orderID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *queries) SaveDelivery(ctx context.Context, d *store.Delivery) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO deliveries(order_id, status, carrier, tracking_code, created_at, updated_at)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6)
		ON CONFLICT (order_id) DO UPDATE SET
			status=EXCLUDED.status,
			carrier=COALESCE(EXCLUDED.carrier, deliveries.carrier),
			tracking_code=COALESCE(EXCLUDED.tracking_code, deliveries.tracking_code),
			updated_at=EXCLUDED.updated_at`,
		d.OrderID, d.Status, d.Carrier, d.TrackingCode, d.CreatedAt, d.UpdatedAt)
	return err
}

func (q *queries) DeleteDelivery(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM deliveries WHERE order_id=$1`, orderID)
	return err
}

func (q *queries) InsertOutbox(ctx context.Context, e *store.OutboxEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO outbox_events(id, aggregate_type, aggregate_id, event_type, payload, correlation_id, retry_count, created_at, publish_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload,
		e.CorrelationID, e.RetryCount, e.CreatedAt, e.PublishAt)
	return err
}

func (q *queries) LatestOutbox(ctx context.Context, at store.AggregateType, aggregateID string, et store.EventType) (*store.OutboxEvent, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, correlation_id, retry_count, created_at, publish_at
		FROM outbox_events
		WHERE aggregate_type=$1 AND aggregate_id=$2 AND event_type=$3
		ORDER BY created_at DESC LIMIT 1`, at, aggregateID, et)
	return scanOutbox(row)
}

func (q *queries) DeleteOutbox(ctx context.Context, eventID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM outbox_events WHERE id=$1`, eventID)
	return err
}

// ---- relay-side access, outside saga transactions ----

func (s *Store) DueOutbox(ctx context.Context, now time.Time, maxRetry, limit int) ([]store.OutboxEvent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, correlation_id, retry_count, created_at, publish_at
		FROM outbox_events
		WHERE publish_at <= $1 AND retry_count < $2
		ORDER BY created_at ASC
		LIMIT $3`, now, maxRetry, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboxEvent
	for rows.Next() {
		var e store.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
			&e.CorrelationID, &e.RetryCount, &e.CreatedAt, &e.PublishAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOutboxEvent(ctx context.Context, eventID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM outbox_events WHERE id=$1`, eventID)
	return err
}

func (s *Store) BumpOutboxRetry(ctx context.Context, eventID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox_events SET retry_count = retry_count + 1 WHERE id=$1`, eventID)
	return err
}

func (s *Store) CustomerIDForOrder(ctx context.Context, orderID string) (string, error) {
	var customerID string
	err := s.DB.QueryRow(ctx, `SELECT customer_id FROM orders WHERE id=$1`, orderID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	return customerID, err
}

type outboxRow interface {
	Scan(dest ...any) error
}

func scanOutbox(row outboxRow) (*store.OutboxEvent, error) {
	var e store.OutboxEvent
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
		&e.CorrelationID, &e.RetryCount, &e.CreatedAt, &e.PublishAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("outbox event: %w", store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
