package models

// OrderStatus is the finite order lifecycle status. Transitions are
// governed by the table in the store package; completed and cancelled
// are terminal and accept no further transitions.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
)

// statusRank orders statuses along the terminal-ward progression.
// Used by conflict resolution: a higher rank is further along.
var statusRank = map[OrderStatus]int{
	StatusPending:        0,
	StatusPreparing:      1,
	StatusReady:          2,
	StatusOutForDelivery: 3,
	StatusCompleted:      4,
	StatusCancelled:      5,
}

// Rank returns the terminal-ward rank of a status. Unknown statuses
// rank below everything.
func (s OrderStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// IsTerminal reports whether the status accepts no further
// transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid reports whether the status is a known lifecycle status.
func (s OrderStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// StatusLog records an accepted status transition for auditing.
// Written in the same transaction as the transition itself.
type StatusLog struct {
	ID         UUID        `db:"id" json:"id"`
	OrderID    UUID        `db:"order_id" json:"order_id"`
	FromStatus OrderStatus `db:"from_status" json:"from_status"`
	ToStatus   OrderStatus `db:"to_status" json:"to_status"`
	ChangedBy  string      `db:"changed_by" json:"changed_by"`
	ChangedAt  int64       `db:"changed_at" json:"changed_at"`
}

// TableName returns the table name for StatusLog.
func (StatusLog) TableName() string {
	return "status_log"
}
