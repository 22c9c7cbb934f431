// Package store provides the LocalStore: the terminal's
// authoritative, transactional order store. A locally valid mutation
// always succeeds here regardless of connectivity; the outbox row is
// written in the same transaction so sync can never silently miss it.
package store

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hweilin/ordersync/internal/db"
	apperrors "github.com/hweilin/ordersync/internal/errors"
	"github.com/hweilin/ordersync/internal/logging"
	"github.com/hweilin/ordersync/internal/models"
)

// transitions is the fixed status transition table. Terminal statuses
// (completed, cancelled) have no outgoing edges. Cancellation is
// reachable from every non-terminal status.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:        {models.StatusPreparing, models.StatusCancelled},
	models.StatusPreparing:      {models.StatusReady, models.StatusCancelled},
	models.StatusReady:          {models.StatusOutForDelivery, models.StatusCompleted, models.StatusCancelled},
	models.StatusOutForDelivery: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:      {},
	models.StatusCancelled:      {},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderInput is the normalized order-creation payload. Boundary
// adapters (HTTP handlers) convert whatever shape they receive into
// this one canonical schema.
type OrderInput struct {
	OrderType       models.OrderType
	Items           []ItemInput
	DeliveryAddress string
	DeliveryZoneID  string
}

// ItemInput is one normalized line entry.
type ItemInput struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LocalStore wraps the repository with business validation and the
// status state machine.
type LocalStore struct {
	repo *db.Repository
}

// New creates a LocalStore backed by the given repository.
func New(repo *db.Repository) *LocalStore {
	return &LocalStore{repo: repo}
}

// InsertOrder validates and inserts a new order. Succeeds
// unconditionally if locally valid; connectivity plays no part.
func (s *LocalStore) InsertOrder(input OrderInput) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderType:       input.OrderType,
		Status:          models.StatusPending,
		DeliveryAddress: input.DeliveryAddress,
		DeliveryZoneID:  input.DeliveryZoneID,
	}

	subtotal := decimal.Zero
	for _, in := range input.Items {
		lineTotal := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
		order.Items = append(order.Items, models.OrderItem{
			SKU:       in.SKU,
			Name:      in.Name,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	order.Subtotal = subtotal
	order.TotalAmount = subtotal

	if err := s.repo.CreateOrder(order); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to insert order", err)
	}

	logging.Info("Order created", map[string]interface{}{
		"order_id":   order.ID,
		"order_type": order.OrderType,
		"items":      len(order.Items),
		"total":      order.TotalAmount.String(),
	})

	return order, nil
}

// GetOrderByID retrieves an order by its local id. Returns nil, nil
// when no order exists.
func (s *LocalStore) GetOrderByID(id string) (*models.Order, error) {
	order, err := s.repo.GetOrder(id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to load order", err)
	}
	return order, nil
}

// GetOrderByRemoteID retrieves an order via its remote alias, since
// callers may hold either identifier.
func (s *LocalStore) GetOrderByRemoteID(remoteID string) (*models.Order, error) {
	order, err := s.repo.GetOrderByRemoteID(remoteID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to load order", err)
	}
	return order, nil
}

// UpdateOrder applies a partial update to an existing order.
func (s *LocalStore) UpdateOrder(id string, patch db.OrderPatch) (*models.Order, error) {
	order, err := s.repo.UpdateOrder(id, patch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to update order", err)
	}
	return order, nil
}

// UpdateOrderStatus applies a status transition. A transition not in
// the table fails without mutating state and returns false; callers
// surface this as a business error, not a crash.
func (s *LocalStore) UpdateOrderStatus(id string, newStatus models.OrderStatus, changedBy string) (bool, error) {
	if !newStatus.IsValid() {
		return false, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown status %q", newStatus))
	}

	order, err := s.repo.GetOrder(id)
	if err == sql.ErrNoRows {
		return false, apperrors.New(apperrors.ErrOrderNotFound, "order not found")
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrLocalStore, "failed to load order", err)
	}

	if !CanTransition(order.Status, newStatus) {
		logging.Warn("Rejected status transition", map[string]interface{}{
			"order_id": order.ID,
			"from":     order.Status,
			"to":       newStatus,
		})
		return false, nil
	}

	if err := s.repo.UpdateOrderStatus(order, newStatus, changedBy); err != nil {
		return false, apperrors.Wrap(apperrors.ErrLocalStore, "failed to persist status", err)
	}

	logging.Info("Order status changed", map[string]interface{}{
		"order_id": order.ID,
		"status":   newStatus,
	})

	return true, nil
}

// ListOrders returns the orders visible on the terminal since the
// business-shift cutoff.
func (s *LocalStore) ListOrders(since int64, limit int) ([]*models.Order, error) {
	orders, err := s.repo.ListOrders(since, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to list orders", err)
	}
	return orders, nil
}

// StatusHistory returns the audit trail for an order.
func (s *LocalStore) StatusHistory(orderID string) ([]models.StatusLog, error) {
	logs, err := s.repo.StatusHistory(orderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrLocalStore, "failed to load status history", err)
	}
	return logs, nil
}

func validateInput(input OrderInput) error {
	if len(input.Items) == 0 {
		return apperrors.New(apperrors.ErrOrderInvalid, "order has no items")
	}
	switch input.OrderType {
	case models.OrderTypeDineIn, models.OrderTypeTakeout, models.OrderTypeDelivery:
	default:
		return apperrors.New(apperrors.ErrOrderInvalid,
			fmt.Sprintf("unknown order type %q", input.OrderType))
	}
	for _, item := range input.Items {
		if item.SKU == "" {
			return apperrors.New(apperrors.ErrOrderInvalid, "item missing sku")
		}
		if item.Quantity <= 0 {
			return apperrors.New(apperrors.ErrOrderInvalid,
				fmt.Sprintf("item %s has non-positive quantity", item.SKU))
		}
		if item.UnitPrice.IsNegative() {
			return apperrors.New(apperrors.ErrOrderInvalid,
				fmt.Sprintf("item %s has negative price", item.SKU))
		}
	}
	return nil
}
