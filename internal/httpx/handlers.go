package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/storeops/order-saga/internal/cart"
	"github.com/storeops/order-saga/internal/orders"
	"github.com/storeops/order-saga/internal/redisx"
	"github.com/storeops/order-saga/internal/saga"
	"github.com/storeops/order-saga/internal/store"
	"go.uber.org/zap"
)

type Handler struct {
	Orders *orders.Service
	Saga   *saga.Saga
	Cart   *cart.Cart
	Redis  *redis.Client
	Log    *zap.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getOrderStatus)
		r.Post("/{id}/items", h.addOrderItem)
		r.Delete("/{id}/items/{productID}", h.reduceOrderItem)
		r.Post("/{id}/reserve", h.reserveStock)
		r.Post("/{id}/payment", h.requestPayment)
		r.Post("/{id}/cancel", h.cancelOrder)
	})

	r.Route("/customers/{id}", func(r chi.Router) {
		r.Get("/orders", h.listCustomerOrders)
		r.Get("/cart", h.getCart)
		r.Post("/cart/items", h.updateCartItem)
		r.Delete("/cart/items/{productID}", h.removeCartItem)
		r.Post("/cart/checkout", h.checkoutCart)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrValidation):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// ---- orders ----

type createOrderReq struct {
	CustomerID string              `json:"customerId"`
	Items      []orders.CreateItem `json:"items"`
}

type orderResp struct {
	OrderID    string            `json:"orderId"`
	CustomerID string            `json:"customerId"`
	Status     store.OrderStatus `json:"status"`
	Total      decimal.Decimal   `json:"total"`
	Items      []orderItemResp   `json:"items,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type orderItemResp struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func toOrderResp(o *store.Order, items []store.OrderItem) orderResp {
	resp := orderResp{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Total:      o.Total,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemResp{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.CreateOrder(ctx, req.CustomerID, req.Items)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, order.ID, order.Status)
	writeJSON(w, http.StatusCreated, toOrderResp(order, nil))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	view, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(&view.Order, view.Items))
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	view, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, view.Order.Status)
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "status": view.Order.Status})
}

type orderItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addOrderItem(w http.ResponseWriter, r *http.Request) {
	var req orderItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.AddOrderItem(ctx, chi.URLParam(r, "id"), req.ProductID, req.Quantity)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order, nil))
}

func (h *Handler) reduceOrderItem(w http.ResponseWriter, r *http.Request) {
	quantity := 1
	if q := r.URL.Query().Get("quantity"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quantity"})
			return
		}
		quantity = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.ReduceOrderItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "productID"), quantity)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order, nil))
}

func (h *Handler) reserveStock(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := h.Saga.ReserveStock(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, status)
	writeJSON(w, http.StatusOK, map[string]any{"orderId": orderID, "status": status})
}

func (h *Handler) requestPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	payment, err := h.Saga.RequestPayment(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, store.OrderPaymentPending)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"orderId":   orderID,
		"paymentId": payment.ID,
		"amount":    payment.Amount,
		"status":    payment.Status,
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := h.Saga.CancelOrder(ctx, orderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, result.Status)
	resp := map[string]any{"orderId": result.OrderID, "status": result.Status}
	if result.RefundID != "" {
		resp["refundId"] = result.RefundID
		resp["refundStatus"] = result.RefundStatus
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.OrdersForCustomer(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	out := make([]orderResp, 0, len(list))
	for i := range list {
		out = append(out, toOrderResp(&list[i], nil))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- products ----

type productResp struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	out := make([]productResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, productResp{ProductID: p.ID, SKU: p.SKU, Name: p.Name, UnitPrice: p.UnitPrice})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- cart ----

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Cart.Items(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customerId": chi.URLParam(r, "id"), "items": items})
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req orderItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Cart.AddItem(ctx, chi.URLParam(r, "id"), req.ProductID, req.Quantity); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Cart.RemoveItem(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "productID")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkoutCart turns the cart into a NEW order and empties the cart. The cart
// clear is best effort; a leftover cart is harmless next to a created order.
func (h *Handler) checkoutCart(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.Cart.Items(ctx, customerID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	create := make([]orders.CreateItem, 0, len(items))
	for productID, qty := range items {
		create = append(create, orders.CreateItem{ProductID: productID, Quantity: qty})
	}

	order, err := h.Orders.CreateOrder(ctx, customerID, create)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.Cart.Clear(ctx, customerID); err != nil {
		h.Log.Warn("clear cart after checkout", zap.String("customer_id", customerID), zap.Error(err))
	}
	h.cacheStatus(ctx, order.ID, order.Status)
	writeJSON(w, http.StatusCreated, toOrderResp(order, nil))
}

func (h *Handler) cacheStatus(ctx context.Context, orderID string, status store.OrderStatus) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	body, _ := json.Marshal(map[string]any{"orderId": orderID, "status": status})
	if err := h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		h.Log.Warn("cache order status", zap.String("order_id", orderID), zap.Error(err))
	}
}
