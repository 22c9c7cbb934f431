package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hweilin/ordersync/internal/models"
	"github.com/hweilin/ordersync/internal/uuid"
)

// =====================================================
// Order Operations
// =====================================================

// OrderPatch describes a partial order update. Nil fields are left
// untouched. Replacing items also replaces the totals.
type OrderPatch struct {
	DeliveryAddress *string
	DeliveryZoneID  *string
	Items           []models.OrderItem
	Subtotal        *decimal.Decimal
	TotalAmount     *decimal.Decimal
}

// CreateOrder inserts an order with its line items, the initial
// status log row and the outbox entry, all in one transaction. The
// outbox entry carries a payload snapshot taken at enqueue time so
// later local edits cannot race the push.
func (r *Repository) CreateOrder(order *models.Order) error {
	now := time.Now().Unix()
	order.ID = models.UUID(uuid.New())
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Revision = 1
	order.PushedRevision = 0
	order.SyncState = models.SyncStatePending
	if order.Status == "" {
		order.Status = models.StatusPending
	}

	for i := range order.Items {
		order.Items[i].ID = models.UUID(uuid.New())
		order.Items[i].OrderID = order.ID
		order.Items[i].Position = i
	}

	return r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		INSERT INTO orders (id, remote_id, order_type, status, subtotal, total_amount,
			sync_state, revision, pushed_revision, delivery_address, delivery_zone_id,
			created_at, updated_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.OrderType, order.Status,
			order.Subtotal.String(), order.TotalAmount.String(),
			order.SyncState, order.Revision, order.PushedRevision,
			order.DeliveryAddress, order.DeliveryZoneID,
			order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return err
		}

		if err := insertItems(tx, order.Items); err != nil {
			return err
		}

		if err := insertStatusLog(tx, order.ID, "", order.Status, "", now); err != nil {
			return err
		}

		return r.enqueueTx(tx, "order", order.ID, models.OperationCreate, order)
	})
}

// GetOrder retrieves an order with its items by local id.
func (r *Repository) GetOrder(id string) (*models.Order, error) {
	return r.getOrderBy("id = ?", id)
}

// GetOrderByRemoteID retrieves an order by its remote alias.
func (r *Repository) GetOrderByRemoteID(remoteID string) (*models.Order, error) {
	return r.getOrderBy("remote_id = ?", remoteID)
}

func (r *Repository) getOrderBy(where string, arg interface{}) (*models.Order, error) {
	query := `
	SELECT id, remote_id, order_type, status, subtotal, total_amount, sync_state,
		   revision, pushed_revision, delivery_address, delivery_zone_id,
		   created_at, updated_at
	FROM orders WHERE ` + where

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(stmt.QueryRow(arg))
	if err != nil {
		return nil, err
	}

	items, err := r.itemsForOrder(string(order.ID))
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// UpdateOrder applies a partial update, bumps the revision and
// mirrors the change into the outbox in the same transaction.
func (r *Repository) UpdateOrder(id string, patch OrderPatch) (*models.Order, error) {
	order, err := r.GetOrder(id)
	if err != nil {
		return nil, err
	}

	if patch.DeliveryAddress != nil {
		order.DeliveryAddress = *patch.DeliveryAddress
	}
	if patch.DeliveryZoneID != nil {
		order.DeliveryZoneID = *patch.DeliveryZoneID
	}
	if patch.Items != nil {
		for i := range patch.Items {
			patch.Items[i].ID = models.UUID(uuid.New())
			patch.Items[i].OrderID = order.ID
			patch.Items[i].Position = i
		}
		order.Items = patch.Items
	}
	if patch.Subtotal != nil {
		order.Subtotal = *patch.Subtotal
	}
	if patch.TotalAmount != nil {
		order.TotalAmount = *patch.TotalAmount
	}

	order.Touch()
	if order.SyncState == models.SyncStateSynced {
		order.SyncState = models.SyncStatePending
	}

	err = r.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		UPDATE orders SET subtotal = ?, total_amount = ?, sync_state = ?, revision = ?,
			delivery_address = ?, delivery_zone_id = ?, updated_at = ?
		WHERE id = ?`,
			order.Subtotal.String(), order.TotalAmount.String(),
			order.SyncState, order.Revision,
			order.DeliveryAddress, order.DeliveryZoneID, order.UpdatedAt, order.ID)
		if err != nil {
			return err
		}

		if patch.Items != nil {
			if _, err := tx.Exec("DELETE FROM order_items WHERE order_id = ?", order.ID); err != nil {
				return err
			}
			if err := insertItems(tx, order.Items); err != nil {
				return err
			}
		}

		return r.enqueueTx(tx, "order", order.ID, models.OperationUpdate, order)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderStatus persists an already-validated status transition
// together with its audit row and outbox entry. Transition validation
// belongs to the store layer.
func (r *Repository) UpdateOrderStatus(order *models.Order, newStatus models.OrderStatus, changedBy string) error {
	from := order.Status
	order.Status = newStatus
	order.Touch()
	if order.SyncState == models.SyncStateSynced {
		order.SyncState = models.SyncStatePending
	}

	return r.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
		UPDATE orders SET status = ?, sync_state = ?, revision = ?, updated_at = ?
		WHERE id = ?`,
			order.Status, order.SyncState, order.Revision, order.UpdatedAt, order.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}

		if err := insertStatusLog(tx, order.ID, from, newStatus, changedBy, order.UpdatedAt); err != nil {
			return err
		}

		return r.enqueueTx(tx, "order", order.ID, models.OperationUpdate, order)
	})
}

// MarkSynced records a successful push: remote id written back,
// pushed revision advanced, sync state settled.
func (r *Repository) MarkSynced(id, remoteID string, pushedRevision int) error {
	_, err := r.db.Exec(`
	UPDATE orders SET remote_id = ?, pushed_revision = ?, sync_state = ?
	WHERE id = ?`,
		remoteID, pushedRevision, models.SyncStateSynced, id)
	return err
}

// MarkPushed records the remote id and advances the pushed revision
// without settling the sync state, for pushes with queued successors
// still mirroring newer local state.
func (r *Repository) MarkPushed(id, remoteID string, pushedRevision int) error {
	_, err := r.db.Exec(`
	UPDATE orders SET remote_id = ?, pushed_revision = ?
	WHERE id = ?`,
		remoteID, pushedRevision, id)
	return err
}

// SetSyncState updates only the sync state of an order.
func (r *Repository) SetSyncState(id string, state models.SyncState) error {
	_, err := r.db.Exec("UPDATE orders SET sync_state = ? WHERE id = ?", state, id)
	return err
}

// ListOrders returns orders created at or after the business-shift
// cutoff, newest first.
func (r *Repository) ListOrders(since int64, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
	SELECT id, remote_id, order_type, status, subtotal, total_amount, sync_state,
		   revision, pushed_revision, delivery_address, delivery_zone_id,
		   created_at, updated_at
	FROM orders WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		items, err := r.itemsForOrder(string(order.ID))
		if err != nil {
			return nil, err
		}
		order.Items = items
	}

	return orders, nil
}

// StatusHistory returns the audit trail for an order, oldest first.
func (r *Repository) StatusHistory(orderID string) ([]models.StatusLog, error) {
	rows, err := r.db.Query(`
	SELECT id, order_id, from_status, to_status, changed_by, changed_at
	FROM status_log WHERE order_id = ? ORDER BY changed_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.StatusLog
	for rows.Next() {
		var l models.StatusLog
		if err := rows.Scan(&l.ID, &l.OrderID, &l.FromStatus, &l.ToStatus, &l.ChangedBy, &l.ChangedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =====================================================
// scan helpers
// =====================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var remoteID sql.NullString
	var subtotal, total string

	err := row.Scan(
		&order.ID, &remoteID, &order.OrderType, &order.Status, &subtotal, &total,
		&order.SyncState, &order.Revision, &order.PushedRevision,
		&order.DeliveryAddress, &order.DeliveryZoneID,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if remoteID.Valid {
		order.RemoteID = remoteID.String
	}
	if order.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("bad subtotal for order %s: %w", order.ID, err)
	}
	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("bad total for order %s: %w", order.ID, err)
	}

	return &order, nil
}

func (r *Repository) itemsForOrder(orderID string) ([]models.OrderItem, error) {
	query := `
	SELECT id, order_id, sku, name, quantity, unit_price, line_total, position
	FROM order_items WHERE order_id = ? ORDER BY position ASC`

	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		var unitPrice, lineTotal string
		err := rows.Scan(&item.ID, &item.OrderID, &item.SKU, &item.Name,
			&item.Quantity, &unitPrice, &lineTotal, &item.Position)
		if err != nil {
			return nil, err
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertItems(tx *sql.Tx, items []models.OrderItem) error {
	for _, item := range items {
		_, err := tx.Exec(`
		INSERT INTO order_items (id, order_id, sku, name, quantity, unit_price, line_total, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.OrderID, item.SKU, item.Name, item.Quantity,
			item.UnitPrice.String(), item.LineTotal.String(), item.Position)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertStatusLog(tx *sql.Tx, orderID models.UUID, from, to models.OrderStatus, changedBy string, at int64) error {
	_, err := tx.Exec(`
	INSERT INTO status_log (id, order_id, from_status, to_status, changed_by, changed_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New(), orderID, from, to, changedBy, at)
	return err
}

// enqueueTx appends a sync queue entry inside the caller's
// transaction. The payload snapshot is marshalled here so the outbox
// can never silently diverge from the store.
func (r *Repository) enqueueTx(tx *sql.Tx, entityType string, entityID models.UUID, op models.SyncOperation, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to snapshot payload: %w", err)
	}

	_, err = tx.Exec(`
	INSERT INTO sync_queue (id, entity_type, entity_id, operation, payload, enqueued_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New(), entityType, entityID, op, string(data), time.Now().Unix())
	return err
}
