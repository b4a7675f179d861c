package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	usersByID         map[string]domain.User
	userIDByUsername  map[string]string
	itemsByID         map[string]domain.InventoryItem
	invoicesByID      map[string]domain.Invoice
	paymentsByInvoice map[string][]domain.Payment
	salesByID         map[string]domain.POSSale
	restocksByItem    map[string][]domain.RestockRecord
	inventoryTxs      []domain.InventoryTransaction
	notificationsByID map[string]domain.Notification
}

// Fixed seed identifiers so dev/demo clients and tests can reference them.
const (
	SeedAdminID = "usr-seed-admin"
	SeedOwnerID = "usr-seed-demo"
)

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. These
// credentials are never used in production (the backend uses PostgreSQL
// when DATABASE_URL is set).
func seedUsers() map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	userPwd := envOr("SEED_USER_PASSWORD", "demo123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_USER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_USER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{SeedAdminID, "admin", adminPwd, domain.RoleAdmin},
		{SeedOwnerID, "demo", userPwd, domain.RoleUser},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.id] = domain.User{
			ID:                    u.id,
			Username:              u.username,
			PasswordHash:          string(hash),
			Role:                  u.role,
			Active:                true,
			SubscriptionExpiresAt: now.AddDate(1, 0, 0),
			CreatedAt:             now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	cost := func(v float64) *float64 { return &v }
	items := []domain.InventoryItem{
		{ID: "itm-seed-01", Name: "Mie Goreng Instan", SKU: "SKU-MIE-01", Quantity: 120, Price: 0.55, CostPrice: cost(0.38), Category: "grocery", LowStockThreshold: 20},
		{ID: "itm-seed-02", Name: "Telur 10 Butir", SKU: "SKU-TELUR-01", Quantity: 80, Price: 2.10, CostPrice: cost(1.75), Category: "grocery", LowStockThreshold: 15},
		{ID: "itm-seed-03", Name: "Susu UHT 1L", SKU: "SKU-SUSU-01", Quantity: 60, Price: 1.45, CostPrice: cost(1.02), Category: "dairy", LowStockThreshold: 10},
		{ID: "itm-seed-04", Name: "Roti Tawar", SKU: "SKU-ROTI-01", Quantity: 40, Price: 1.35, Category: "bakery", LowStockThreshold: 8},
		{ID: "itm-seed-05", Name: "Kopi Sachet", SKU: "SKU-KOPI-01", Quantity: 200, Price: 0.25, CostPrice: cost(0.16), Category: "beverage", LowStockThreshold: 40},
		{ID: "itm-seed-06", Name: "Air Mineral 600ml", SKU: "SKU-AIR-01", Quantity: 150, Price: 0.30, CostPrice: cost(0.22), Category: "beverage", LowStockThreshold: 30},
		{ID: "itm-seed-07", Name: "Keripik Singkong", SKU: "SKU-KERIPIK-01", Quantity: 35, Price: 1.00, Category: "snack", LowStockThreshold: 10},
		{ID: "itm-seed-08", Name: "Sabun Mandi", SKU: "SKU-SABUN-01", Quantity: 55, Price: 0.60, CostPrice: cost(0.41), Category: "household", LowStockThreshold: 12},
	}

	itemMap := make(map[string]domain.InventoryItem, len(items))
	for _, it := range items {
		it.OwnerID = SeedOwnerID
		it.CreatedAt = now
		itemMap[it.ID] = it
	}

	users := seedUsers()
	idByName := make(map[string]string, len(users))
	for id, u := range users {
		idByName[u.Username] = id
	}

	return &Store{
		usersByID:         users,
		userIDByUsername:  idByName,
		itemsByID:         itemMap,
		invoicesByID:      make(map[string]domain.Invoice),
		paymentsByInvoice: make(map[string][]domain.Payment),
		salesByID:         make(map[string]domain.POSSale),
		restocksByItem:    make(map[string][]domain.RestockRecord),
		inventoryTxs:      make([]domain.InventoryTransaction, 0, 64),
		notificationsByID: make(map[string]domain.Notification),
	}
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.userIDByUsername[user.Username]; exists {
		return nil, store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	s.usersByID[user.ID] = user
	s.userIDByUsername[user.Username] = user.ID
	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) SetUserActive(_ context.Context, id string, active bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Active = active
	s.usersByID[id] = user
	updated := user
	return &updated, nil
}

func (s *Store) ExtendSubscription(_ context.Context, id string, until time.Time) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.SubscriptionExpiresAt = until
	s.usersByID[id] = user
	updated := user
	return &updated, nil
}

func (s *Store) ListItems(_ context.Context, ownerID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.itemsByID))
	for _, it := range s.itemsByID {
		if it.OwnerID != ownerID {
			continue
		}
		items = append(items, cloneItem(it))
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.itemsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyItem := cloneItem(it)
	return &copyItem, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.OwnerID == "" || strings.TrimSpace(item.Name) == "" {
		return nil, store.ErrValidation
	}
	if item.Quantity < 0 || item.Price < 0 || item.LowStockThreshold < 0 {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.itemsByID[item.ID] = cloneItem(item)
	created := cloneItem(item)
	return &created, nil
}

// UpdateItem rewrites descriptive fields; the stored quantity is preserved
// because stock moves only through restock and fulfillment.
func (s *Store) UpdateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.itemsByID[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(item.Name) == "" || item.Price < 0 || item.LowStockThreshold < 0 {
		return nil, store.ErrValidation
	}
	item.Quantity = current.Quantity
	item.OwnerID = current.OwnerID
	item.CreatedAt = current.CreatedAt

	s.itemsByID[item.ID] = cloneItem(item)
	updated := cloneItem(item)
	return &updated, nil
}

func (s *Store) Restock(_ context.Context, record domain.RestockRecord) (*domain.RestockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Quantity < 1 {
		return nil, store.ErrValidation
	}
	item, ok := s.itemsByID[record.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.ID == "" {
		record.ID = xid.New("rst")
	}
	if record.Date.IsZero() {
		record.Date = time.Now().UTC()
	}
	record.OwnerID = item.OwnerID

	item.Quantity += record.Quantity
	s.itemsByID[item.ID] = item
	s.restocksByItem[item.ID] = append(s.restocksByItem[item.ID], record)
	created := record
	return &created, nil
}

func (s *Store) ListRestocks(_ context.Context, itemID string) ([]domain.RestockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.restocksByItem[itemID]
	result := make([]domain.RestockRecord, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.RestockRecord) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.ID, a.ID)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.OwnerID == "" || len(invoice.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, line := range invoice.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
	}

	// Resolve every line before touching stock so a failure leaves nothing
	// partially applied.
	for _, line := range invoice.Items {
		item, ok := s.itemsByID[line.ItemID]
		if !ok || item.OwnerID != invoice.OwnerID {
			return nil, store.ErrTransactionFailed
		}
	}

	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}
	if invoice.Status == "" {
		invoice.Status = domain.InvoiceStatusUnpaid
	}

	for _, line := range invoice.Items {
		item := s.itemsByID[line.ItemID]
		item.Quantity -= line.Quantity
		s.itemsByID[line.ItemID] = item
	}

	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)
	created := cloneInvoice(invoice)
	return &created, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyInv := cloneInvoice(inv)
	return &copyInv, nil
}

func (s *Store) ListInvoices(_ context.Context, ownerID string, includeDeleted bool) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if inv.OwnerID != ownerID {
			continue
		}
		if inv.Deleted && !includeDeleted {
			continue
		}
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return invoices, nil
}

func (s *Store) UpdateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoicesByID[invoice.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	invoice.OwnerID = current.OwnerID
	invoice.Items = current.Items
	invoice.Amount = current.Amount
	invoice.CreatedAt = current.CreatedAt
	// status control fields belong to UpdateInvoiceStatus and RecordPayment;
	// an edit built from a stale read must not carry them back.
	invoice.Status = current.Status
	invoice.Deleted = current.Deleted
	invoice.PaidDate = current.PaidDate

	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)
	updated := cloneInvoice(invoice)
	return &updated, nil
}

func (s *Store) UpdateInvoiceStatus(_ context.Context, id string, status string, deleted bool, paidDate *time.Time) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.Status = status
	current.Deleted = deleted
	current.PaidDate = nil
	if paidDate != nil {
		at := *paidDate
		current.PaidDate = &at
	}

	s.invoicesByID[id] = cloneInvoice(current)
	updated := cloneInvoice(current)
	return &updated, nil
}

func (s *Store) RecordPayment(_ context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.Amount <= 0 {
		return nil, nil, store.ErrValidation
	}
	invoice, ok := s.invoicesByID[payment.InvoiceID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}

	s.paymentsByInvoice[payment.InvoiceID] = append(s.paymentsByInvoice[payment.InvoiceID], payment)

	totalPaid := 0.0
	for _, p := range s.paymentsByInvoice[payment.InvoiceID] {
		totalPaid += p.Amount
	}
	if totalPaid >= invoice.Amount && invoice.Status != domain.InvoiceStatusPaid {
		invoice.Status = domain.InvoiceStatusPaid
		paidAt := payment.Date
		invoice.PaidDate = &paidAt
		s.invoicesByID[invoice.ID] = invoice
	}

	createdPayment := payment
	updatedInvoice := cloneInvoice(s.invoicesByID[invoice.ID])
	return &createdPayment, &updatedInvoice, nil
}

func (s *Store) ListPayments(_ context.Context, invoiceID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.paymentsByInvoice[invoiceID]
	result := make([]domain.Payment, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.Payment) int {
		if a.Date.Equal(b.Date) {
			return cmpString(a.ID, b.ID)
		}
		if a.Date.Before(b.Date) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.POSSale, audit domain.InventoryTransaction) (*domain.POSSale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.OwnerID == "" || len(sale.Items) == 0 || sale.Total <= 0 {
		return nil, store.ErrValidation
	}
	for _, line := range sale.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
	}
	for _, line := range sale.Items {
		item, ok := s.itemsByID[line.ItemID]
		if !ok || item.OwnerID != sale.OwnerID {
			return nil, store.ErrTransactionFailed
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Timestamp.IsZero() {
		sale.Timestamp = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	for _, line := range sale.Items {
		item := s.itemsByID[line.ItemID]
		item.Quantity -= line.Quantity
		s.itemsByID[line.ItemID] = item
	}

	if audit.ID == "" {
		audit.ID = xid.New("itx")
	}
	audit.OwnerID = sale.OwnerID
	audit.RelatedDocumentID = sale.ID
	if audit.Timestamp.IsZero() {
		audit.Timestamp = sale.Timestamp
	}
	s.inventoryTxs = append(s.inventoryTxs, cloneInventoryTx(audit))

	s.salesByID[sale.ID] = cloneSale(sale)
	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context, ownerID string, from, to time.Time, offset, limit int) ([]domain.POSSale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.POSSale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if sale.OwnerID != ownerID {
			continue
		}
		if !from.IsZero() && sale.Timestamp.Before(from) {
			continue
		}
		// upper bound is exclusive so day-bucketed callers never see a sale
		// outside their last bucket
		if !to.IsZero() && !sale.Timestamp.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.POSSale) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})

	total := len(result)
	if offset > 0 {
		if offset >= len(result) {
			return []domain.POSSale{}, total, nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, total, nil
}

func (s *Store) ListInventoryTransactions(_ context.Context, ownerID string, limit int) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, 32)
	for _, tx := range s.inventoryTxs {
		if tx.OwnerID != ownerID {
			continue
		}
		result = append(result, cloneInventoryTx(tx))
	}
	slices.SortFunc(result, func(a, b domain.InventoryTransaction) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.OwnerID == "" || n.Type == "" || n.Message == "" {
		return nil, store.ErrValidation
	}
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	s.notificationsByID[n.ID] = n
	created := n
	return &created, nil
}

func (s *Store) ListNotifications(_ context.Context, ownerID string) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Notification, 0, 16)
	for _, n := range s.notificationsByID {
		if n.OwnerID != ownerID {
			continue
		}
		result = append(result, n)
	}
	slices.SortFunc(result, func(a, b domain.Notification) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, ownerID, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notificationsByID[id]
	if !ok || n.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	n.Read = true
	s.notificationsByID[id] = n
	updated := n
	return &updated, nil
}

func (s *Store) HasUnreadNotification(_ context.Context, ownerID, notifType, itemID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notificationsByID {
		if n.OwnerID != ownerID || n.Type != notifType || n.Read {
			continue
		}
		if itemID != "" && n.ItemID != itemID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneItem(src domain.InventoryItem) domain.InventoryItem {
	dup := src
	if src.CostPrice != nil {
		c := *src.CostPrice
		dup.CostPrice = &c
	}
	return dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	items := make([]domain.InvoiceLineItem, len(src.Items))
	copy(items, src.Items)
	for i := range items {
		if items[i].AdjustedPrice != nil {
			p := *items[i].AdjustedPrice
			items[i].AdjustedPrice = &p
		}
	}
	dup.Items = items
	if src.PaidDate != nil {
		d := *src.PaidDate
		dup.PaidDate = &d
	}
	return dup
}

func cloneSale(src domain.POSSale) domain.POSSale {
	dup := src
	items := make([]domain.SaleLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneInventoryTx(src domain.InventoryTransaction) domain.InventoryTransaction {
	dup := src
	items := make([]domain.TransactionAdjustment, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
