package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hweilin/ordersync/internal/db"
	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/session"
	"github.com/hweilin/ordersync/internal/store"
	syncpkg "github.com/hweilin/ordersync/internal/sync"
	"github.com/hweilin/ordersync/internal/validation"
)

// OrderHandler serves the order lifecycle endpoints. Mutations commit
// locally first; the remote push is fired afterwards and its failure
// never surfaces as a request error.
type OrderHandler struct {
	store       *store.LocalStore
	pusher      *syncpkg.Pusher
	validator   *validation.Orchestrator
	gate        *session.Gate
	notifier    Notifier
	pushTimeout time.Duration
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(localStore *store.LocalStore, pusher *syncpkg.Pusher, validator *validation.Orchestrator, gate *session.Gate, notifier Notifier, pushTimeout time.Duration) *OrderHandler {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	return &OrderHandler{
		store:       localStore,
		pusher:      pusher,
		validator:   validator,
		gate:        gate,
		notifier:    notifier,
		pushTimeout: pushTimeout,
	}
}

// createOrderRequest is the wire shape for order creation.
type createOrderRequest struct {
	OrderType       string             `json:"order_type"`
	Items           []orderItemRequest `json:"items"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	DeliveryLat     float64            `json:"delivery_lat,omitempty"`
	DeliveryLng     float64            `json:"delivery_lng,omitempty"`
	OverrideZone    bool               `json:"override_zone,omitempty"`
	ChangedBy       string             `json:"changed_by,omitempty"`
}

type orderItemRequest struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionCreateOrder) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to create orders")
		return
	}

	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input := store.OrderInput{
		OrderType:       models.OrderType(req.OrderType),
		DeliveryAddress: req.DeliveryAddress,
	}
	for _, item := range req.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			writeFail(w, http.StatusBadRequest, apperrors.ErrOrderInvalid,
				"item "+item.SKU+" has a malformed unit price")
			return
		}
		input.Items = append(input.Items, store.ItemInput{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	// Delivery orders get a zone check before acceptance. An offline
	// miss blocks creation unless the operator explicitly overrides.
	var zoneResult *validation.ValidationResult
	if input.OrderType == models.OrderTypeDelivery {
		result := h.validator.ValidateForDelivery(r.Context(), req.DeliveryAddress, req.DeliveryLat, req.DeliveryLng)
		zoneResult = &result

		if !result.IsValid {
			if !req.OverrideZone {
				code := apperrors.ErrZoneUnverified
				if result.ValidationStatus == validation.StatusOutOfZone {
					code = apperrors.ErrRemoteRejected
				}
				writeResult(w, http.StatusUnprocessableEntity, models.Result{
					Success:   false,
					Data:      result,
					Error:     "delivery address could not be verified",
					ErrorCode: string(code),
				})
				return
			}
			if !h.gate.HasPermission(session.ActionOverrideZone) {
				writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to override zone validation")
				return
			}
			logging.Warn("Zone validation overridden by operator", map[string]interface{}{
				"address": req.DeliveryAddress,
				"status":  result.ValidationStatus,
			})
		}
		input.DeliveryZoneID = result.ZoneID
	}

	order, err := h.store.InsertOrder(input)
	if err != nil {
		writeError(w, err)
		return
	}

	h.notifier.BroadcastOrderCreated(string(order.ID), order.TotalAmount.String())
	h.pushAsync(string(order.ID))

	writeResult(w, http.StatusCreated, models.OK(map[string]interface{}{
		"order":      order,
		"validation": zoneResult,
	}))
}

// Get handles GET /api/orders/{id}. Either the local or the remote
// identifier resolves the order.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.store.GetOrderByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if order == nil {
		order, err = h.store.GetOrderByRemoteID(id)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if order == nil {
		writeFail(w, http.StatusNotFound, apperrors.ErrOrderNotFound, "order not found")
		return
	}

	writeOK(w, order)
}

// List handles GET /api/orders?since=&limit=.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.store.ListOrders(since, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// updateOrderRequest is the wire shape for a partial order update.
type updateOrderRequest struct {
	Items           []orderItemRequest `json:"items,omitempty"`
	DeliveryAddress *string            `json:"delivery_address,omitempty"`
	DeliveryZoneID  *string            `json:"delivery_zone_id,omitempty"`
}

// Update handles PATCH /api/orders/{id}.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionUpdateOrder) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to update orders")
		return
	}

	id := r.PathValue("id")

	var req updateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	patch := db.OrderPatch{
		DeliveryAddress: req.DeliveryAddress,
		DeliveryZoneID:  req.DeliveryZoneID,
	}

	if len(req.Items) > 0 {
		subtotal := decimal.Zero
		for _, item := range req.Items {
			price, err := decimal.NewFromString(item.UnitPrice)
			if err != nil {
				writeFail(w, http.StatusBadRequest, apperrors.ErrOrderInvalid,
					"item "+item.SKU+" has a malformed unit price")
				return
			}
			lineTotal := price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			patch.Items = append(patch.Items, models.OrderItem{
				SKU:       item.SKU,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: price,
				LineTotal: lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
		}
		patch.Subtotal = &subtotal
		total := subtotal
		patch.TotalAmount = &total
	}

	order, err := h.store.UpdateOrder(id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if order == nil {
		writeFail(w, http.StatusNotFound, apperrors.ErrOrderNotFound, "order not found")
		return
	}

	h.notifier.BroadcastOrderUpdated(string(order.ID))
	h.pushAsync(string(order.ID))

	writeOK(w, order)
}

// updateStatusRequest is the wire shape for a status transition.
type updateStatusRequest struct {
	Status    string `json:"status"`
	ChangedBy string `json:"changed_by,omitempty"`
}

// UpdateStatus handles POST /api/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasPermission(session.ActionUpdateStatus) {
		writeFail(w, http.StatusForbidden, apperrors.ErrPermission, "not permitted to change order status")
		return
	}

	id := r.PathValue("id")

	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.store.UpdateOrderStatus(id, models.OrderStatus(req.Status), req.ChangedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeFail(w, http.StatusUnprocessableEntity, apperrors.ErrInvalidTransition,
			"transition to "+req.Status+" is not allowed from the current status")
		return
	}

	h.notifier.BroadcastStatusChanged(id, req.Status)
	h.pushAsync(id)

	writeOK(w, map[string]interface{}{
		"order_id": id,
		"status":   req.Status,
	})
}

// History handles GET /api/orders/{id}/history.
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	logs, err := h.store.StatusHistory(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, map[string]interface{}{
		"order_id": id,
		"history":  logs,
	})
}

// pushAsync fires an immediate push without blocking the response. A
// failure here is routine; the queued entries wait for the next drain.
func (h *OrderHandler) pushAsync(orderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.pushTimeout)
		defer cancel()
		if err := h.pusher.PushOrderNow(ctx, orderID, h.pushTimeout); err != nil {
			logging.Debug("Deferred push after mutation", map[string]interface{}{
				"order_id": orderID,
				"error":    err.Error(),
			})
		}
	}()
}
