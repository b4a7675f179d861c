package store

import (
	"context"
	"errors"
	"time"

	"invenpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Repository is the persistence gateway. Operations that touch more than one
// collection (CreateInvoice, RecordPayment, CreateSale, Restock) are atomic:
// they either apply every write or none.
type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetUserActive(ctx context.Context, id string, active bool) (*domain.User, error)
	ExtendSubscription(ctx context.Context, id string, until time.Time) (*domain.User, error)

	ListItems(ctx context.Context, ownerID string) ([]domain.InventoryItem, error)
	GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error)
	CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)

	// Restock increments the item's quantity and appends the audit record in
	// one transaction.
	Restock(ctx context.Context, record domain.RestockRecord) (*domain.RestockRecord, error)
	ListRestocks(ctx context.Context, itemID string) ([]domain.RestockRecord, error)

	// CreateInvoice inserts the invoice and decrements stock for every line
	// item in one transaction. A line whose item no longer exists aborts the
	// whole operation with ErrTransactionFailed.
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, ownerID string, includeDeleted bool) ([]domain.Invoice, error)

	// UpdateInvoice writes only the editable fields (customer, dueDate,
	// notes). Status, deleted, and paidDate are pinned like amount and line
	// items, so an edit carrying a stale read cannot undo a concurrent
	// payment-driven transition.
	UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)

	// UpdateInvoiceStatus writes the status-control fields in one statement.
	UpdateInvoiceStatus(ctx context.Context, id string, status string, deleted bool, paidDate *time.Time) (*domain.Invoice, error)

	// RecordPayment inserts the payment, recomputes the invoice's cumulative
	// paid total inside the same transaction, and flips the invoice to paid
	// when the total covers the amount. Returns the payment and the invoice
	// as it stands after the operation.
	RecordPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error)
	ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error)

	// CreateSale persists the sale, applies every stock decrement, and writes
	// the audit transaction in one commit unit.
	CreateSale(ctx context.Context, sale domain.POSSale, audit domain.InventoryTransaction) (*domain.POSSale, error)
	ListSales(ctx context.Context, ownerID string, from, to time.Time, offset, limit int) ([]domain.POSSale, int, error)
	ListInventoryTransactions(ctx context.Context, ownerID string, limit int) ([]domain.InventoryTransaction, error)

	CreateNotification(ctx context.Context, n domain.Notification) (*domain.Notification, error)
	ListNotifications(ctx context.Context, ownerID string) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, ownerID, id string) (*domain.Notification, error)
	HasUnreadNotification(ctx context.Context, ownerID, notifType, itemID string) (bool, error)
}
