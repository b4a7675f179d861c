package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, store.ErrStorageUnavailable
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findUser(ctx, "username", strings.ToLower(strings.TrimSpace(username)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *Store) findUser(ctx context.Context, column string, value string) (*domain.User, error) {
	if column != "id" && column != "username" {
		return nil, store.ErrValidation
	}

	var user domain.User
	query := `
		SELECT id, username, password_hash, role, active, subscription_expires_at, created_at
		FROM users
		WHERE ` + column + ` = $1
	`
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.SubscriptionExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.SubscriptionExpiresAt = user.SubscriptionExpiresAt.UTC()
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.PasswordHash == "" {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, subscription_expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.ID, user.Username, user.PasswordHash, user.Role, user.Active, user.SubscriptionExpiresAt, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := user
	return &created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, active, subscription_expires_at, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.Active, &user.SubscriptionExpiresAt, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.SubscriptionExpiresAt = user.SubscriptionExpiresAt.UTC()
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, username, password_hash, role, active, subscription_expires_at, created_at
	`, id, active).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.SubscriptionExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.SubscriptionExpiresAt = user.SubscriptionExpiresAt.UTC()
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ExtendSubscription(ctx context.Context, id string, until time.Time) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET subscription_expires_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, username, password_hash, role, active, subscription_expires_at, created_at
	`, id, until).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.SubscriptionExpiresAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.SubscriptionExpiresAt = user.SubscriptionExpiresAt.UTC()
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListItems(ctx context.Context, ownerID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, sku, quantity, price, cost_price, COALESCE(category,''), low_stock_threshold, created_at
		FROM inventory_items
		WHERE owner_id = $1
		ORDER BY name ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, sku, quantity, price, cost_price, COALESCE(category,''), low_stock_threshold, created_at
		FROM inventory_items
		WHERE id = $1
	`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, owner_id, name, sku, quantity, price, cost_price, category, low_stock_threshold, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.OwnerID, item.Name, item.SKU, item.Quantity, item.Price, nullFloat(item.CostPrice), nullIfEmpty(item.Category), item.LowStockThreshold, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if strings.TrimSpace(item.Name) == "" || item.Price < 0 || item.LowStockThreshold < 0 {
		return nil, store.ErrValidation
	}

	// quantity is deliberately absent from the SET list: stock moves only
	// through restock and fulfillment.
	row := s.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET name = $2, sku = $3, price = $4, cost_price = $5, category = $6, low_stock_threshold = $7, updated_at = now()
		WHERE id = $1
		RETURNING id, owner_id, name, sku, quantity, price, cost_price, COALESCE(category,''), low_stock_threshold, created_at
	`, item.ID, item.Name, item.SKU, item.Price, nullFloat(item.CostPrice), nullIfEmpty(item.Category), item.LowStockThreshold)
	updated, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) Restock(ctx context.Context, record domain.RestockRecord) (*domain.RestockRecord, error) {
	if record.Quantity < 1 {
		return nil, store.ErrValidation
	}
	if record.ID == "" {
		record.ID = xid.New("rst")
	}
	if record.Date.IsZero() {
		record.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID string
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING owner_id
	`, record.ItemID, record.Quantity).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.OwnerID = ownerID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO restock_history (id, item_id, owner_id, quantity, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, record.ID, record.ItemID, record.OwnerID, record.Quantity, record.Date)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := record
	return &created, nil
}

func (s *Store) ListRestocks(ctx context.Context, itemID string) ([]domain.RestockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, owner_id, quantity, created_at
		FROM restock_history
		WHERE item_id = $1
		ORDER BY created_at DESC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.RestockRecord, 0, 16)
	for rows.Next() {
		var record domain.RestockRecord
		if err := rows.Scan(&record.ID, &record.ItemID, &record.OwnerID, &record.Quantity, &record.Date); err != nil {
			return nil, err
		}
		record.Date = record.Date.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.OwnerID == "" || len(invoice.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, line := range invoice.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, owner_id, invoice_number, customer_name, customer_phone, amount,
			due_date, status, deleted, notes, paid_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
	`, invoice.ID, invoice.OwnerID, invoice.InvoiceNumber, invoice.CustomerName, nullIfEmpty(invoice.CustomerPhone),
		invoice.Amount, invoice.DueDate, invoice.Status, invoice.Deleted, strings.TrimSpace(invoice.Notes),
		nullTime(invoice.PaidDate), invoice.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range invoice.Items {
		// A vanished item leaves RowsAffected at zero, which aborts the
		// whole transaction: no invoice row, no partial decrement.
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND owner_id = $3
		`, line.Quantity, line.ItemID, invoice.OwnerID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrTransactionFailed
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, item_id, quantity, adjusted_price)
			VALUES ($1,$2,$3,$4)
		`, invoice.ID, line.ItemID, line.Quantity, nullFloat(line.AdjustedPrice))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := invoice
	return &created, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	invoice, err := s.scanInvoiceRow(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, invoice_number, customer_name, COALESCE(customer_phone,''), amount,
			due_date, status, deleted, COALESCE(notes,''), paid_date, created_at
		FROM invoices
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadInvoiceItems(ctx, []string{invoice.ID})
	if err != nil {
		return nil, err
	}
	invoice.Items = items[invoice.ID]
	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, ownerID string, includeDeleted bool) ([]domain.Invoice, error) {
	query := `
		SELECT id, owner_id, invoice_number, customer_name, COALESCE(customer_phone,''), amount,
			due_date, status, deleted, COALESCE(notes,''), paid_date, created_at
		FROM invoices
		WHERE owner_id = $1
	`
	if !includeDeleted {
		query += ` AND deleted = false`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		invoice, err := s.scanInvoiceRow(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
		ids = append(ids, invoice.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return invoices, nil
	}

	itemMap, err := s.loadInvoiceItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Items = itemMap[invoices[i].ID]
	}
	return invoices, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	// amount and line items are fixed at creation time, and the status
	// control fields (status, deleted, paid_date) are written only through
	// UpdateInvoiceStatus and RecordPayment. Leaving them out of the SET
	// list keeps a stale edit from undoing a concurrent payment transition.
	updated, err := s.scanInvoiceRow(s.db.QueryRowContext(ctx, `
		UPDATE invoices
		SET customer_name = $2, customer_phone = $3, due_date = $4, notes = $5, updated_at = now()
		WHERE id = $1
		RETURNING id, owner_id, invoice_number, customer_name, COALESCE(customer_phone,''), amount,
			due_date, status, deleted, COALESCE(notes,''), paid_date, created_at
	`, invoice.ID, invoice.CustomerName, nullIfEmpty(invoice.CustomerPhone), invoice.DueDate,
		strings.TrimSpace(invoice.Notes)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadInvoiceItems(ctx, []string{updated.ID})
	if err != nil {
		return nil, err
	}
	updated.Items = items[updated.ID]
	return updated, nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, id string, status string, deleted bool, paidDate *time.Time) (*domain.Invoice, error) {
	updated, err := s.scanInvoiceRow(s.db.QueryRowContext(ctx, `
		UPDATE invoices
		SET status = $2, deleted = $3, paid_date = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, owner_id, invoice_number, customer_name, COALESCE(customer_phone,''), amount,
			due_date, status, deleted, COALESCE(notes,''), paid_date, created_at
	`, id, status, deleted, nullTime(paidDate)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadInvoiceItems(ctx, []string{updated.ID})
	if err != nil {
		return nil, err
	}
	updated.Items = items[updated.ID]
	return updated, nil
}

func (s *Store) RecordPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, *domain.Invoice, error) {
	if payment.Amount <= 0 {
		return nil, nil, store.ErrValidation
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	invoice, err := s.scanInvoiceRow(tx.QueryRowContext(ctx, `
		SELECT id, owner_id, invoice_number, customer_name, COALESCE(customer_phone,''), amount,
			due_date, status, deleted, COALESCE(notes,''), paid_date, created_at
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, payment.InvoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, date, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.ID, payment.InvoiceID, payment.Amount, nullIfEmpty(payment.Method), payment.Date,
		strings.TrimSpace(payment.Notes), payment.RecordedBy)
	if err != nil {
		return nil, nil, err
	}

	// The cumulative sum is read with the invoice row locked so two
	// concurrent payments cannot both see a stale total.
	var totalPaid float64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE invoice_id = $1
	`, payment.InvoiceID).Scan(&totalPaid)
	if err != nil {
		return nil, nil, err
	}

	if totalPaid >= invoice.Amount && invoice.Status != domain.InvoiceStatusPaid {
		paidAt := payment.Date
		_, err = tx.ExecContext(ctx, `
			UPDATE invoices
			SET status = $2, paid_date = $3, updated_at = now()
			WHERE id = $1
		`, invoice.ID, domain.InvoiceStatusPaid, paidAt)
		if err != nil {
			return nil, nil, err
		}
		invoice.Status = domain.InvoiceStatusPaid
		invoice.PaidDate = &paidAt
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	created := payment
	return &created, invoice, nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount, COALESCE(method,''), date, COALESCE(notes,''), recorded_by
		FROM payments
		WHERE invoice_id = $1
		ORDER BY date ASC, id ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Date, &p.Notes, &p.RecordedBy); err != nil {
			return nil, err
		}
		p.Date = p.Date.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.POSSale, audit domain.InventoryTransaction) (*domain.POSSale, error) {
	if sale.OwnerID == "" || len(sale.Items) == 0 || sale.Total <= 0 {
		return nil, store.ErrValidation
	}
	for _, line := range sale.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
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
	if audit.ID == "" {
		audit.ID = xid.New("itx")
	}
	audit.OwnerID = sale.OwnerID
	audit.RelatedDocumentID = sale.ID
	if audit.Timestamp.IsZero() {
		audit.Timestamp = sale.Timestamp
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pos_sales (id, owner_id, total, payment_method, payment_reference, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.OwnerID, sale.Total, sale.Payment.Method, nullIfEmpty(sale.Payment.Reference), sale.Status, sale.Timestamp)
	if err != nil {
		return nil, err
	}

	for _, line := range sale.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND owner_id = $3
		`, line.Quantity, line.ItemID, sale.OwnerID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrTransactionFailed
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pos_sale_items (sale_id, item_id, name, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, line.ItemID, line.Name, line.Quantity, line.Price)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (id, owner_id, type, related_document_id, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, audit.ID, audit.OwnerID, audit.Type, audit.RelatedDocumentID, audit.Timestamp)
	if err != nil {
		return nil, err
	}
	for _, adj := range audit.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_transaction_items (transaction_id, item_id, quantity)
			VALUES ($1,$2,$3)
		`, audit.ID, adj.ItemID, adj.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) ListSales(ctx context.Context, ownerID string, from, to time.Time, offset, limit int) ([]domain.POSSale, int, error) {
	where := ` WHERE owner_id = $1`
	args := []any{ownerID}
	if !from.IsZero() {
		args = append(args, from)
		where += ` AND created_at >= $2`
	}
	// exclusive upper bound, matching the memory gateway
	if !to.IsZero() {
		args = append(args, to)
		if from.IsZero() {
			where += ` AND created_at < $2`
		} else {
			where += ` AND created_at < $3`
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)::int FROM pos_sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, owner_id, total, payment_method, COALESCE(payment_reference,''), status, created_at
		FROM pos_sales
	` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.POSSale, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		var sale domain.POSSale
		if err := rows.Scan(&sale.ID, &sale.OwnerID, &sale.Total, &sale.Payment.Method, &sale.Payment.Reference, &sale.Status, &sale.Timestamp); err != nil {
			return nil, 0, err
		}
		sale.Timestamp = sale.Timestamp.UTC()
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return sales, total, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, item_id, name, quantity, price
		FROM pos_sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, 0, err
	}
	defer itemRows.Close()

	itemMap := make(map[string][]domain.SaleLine, len(ids))
	for itemRows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := itemRows.Scan(&saleID, &line.ItemID, &line.Name, &line.Quantity, &line.Price); err != nil {
			return nil, 0, err
		}
		itemMap[saleID] = append(itemMap[saleID], line)
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range sales {
		sales[i].Items = itemMap[sales[i].ID]
	}
	return sales, total, nil
}

func (s *Store) ListInventoryTransactions(ctx context.Context, ownerID string, limit int) ([]domain.InventoryTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, related_document_id, created_at
		FROM inventory_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.InventoryTransaction, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var t domain.InventoryTransaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Type, &t.RelatedDocumentID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		txs = append(txs, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return txs, nil
	}

	adjRows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, item_id, quantity
		FROM inventory_transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer adjRows.Close()

	adjMap := make(map[string][]domain.TransactionAdjustment, len(ids))
	for adjRows.Next() {
		var txID string
		var adj domain.TransactionAdjustment
		if err := adjRows.Scan(&txID, &adj.ItemID, &adj.Quantity); err != nil {
			return nil, err
		}
		adjMap[txID] = append(adjMap[txID], adj)
	}
	if err := adjRows.Err(); err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].Items = adjMap[txs[i].ID]
	}
	return txs, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) (*domain.Notification, error) {
	if n.OwnerID == "" || n.Type == "" || n.Message == "" {
		return nil, store.ErrValidation
	}
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner_id, type, message, item_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.OwnerID, n.Type, n.Message, nullIfEmpty(n.ItemID), n.Read, n.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := n
	return &created, nil
}

func (s *Store) ListNotifications(ctx context.Context, ownerID string) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, type, message, COALESCE(item_id,''), read, created_at
		FROM notifications
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, 16)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Type, &n.Message, &n.ItemID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, ownerID, id string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET read = true
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, type, message, COALESCE(item_id,''), read, created_at
	`, id, ownerID).Scan(&n.ID, &n.OwnerID, &n.Type, &n.Message, &n.ItemID, &n.Read, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func (s *Store) HasUnreadNotification(ctx context.Context, ownerID, notifType, itemID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE owner_id = $1 AND type = $2 AND read = false
				AND ($3 = '' OR item_id = $3)
		)
	`, ownerID, notifType, itemID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	var costPrice sql.NullFloat64
	err := row.Scan(&item.ID, &item.OwnerID, &item.Name, &item.SKU, &item.Quantity, &item.Price, &costPrice, &item.Category, &item.LowStockThreshold, &item.CreatedAt)
	if err != nil {
		return item, err
	}
	if costPrice.Valid {
		c := costPrice.Float64
		item.CostPrice = &c
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (s *Store) scanInvoiceRow(row rowScanner) (*domain.Invoice, error) {
	var invoice domain.Invoice
	var paidDate sql.NullTime
	err := row.Scan(
		&invoice.ID,
		&invoice.OwnerID,
		&invoice.InvoiceNumber,
		&invoice.CustomerName,
		&invoice.CustomerPhone,
		&invoice.Amount,
		&invoice.DueDate,
		&invoice.Status,
		&invoice.Deleted,
		&invoice.Notes,
		&paidDate,
		&invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	invoice.DueDate = invoice.DueDate.UTC()
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	if paidDate.Valid {
		at := paidDate.Time.UTC()
		invoice.PaidDate = &at
	}
	return &invoice, nil
}

func (s *Store) loadInvoiceItems(ctx context.Context, invoiceIDs []string) (map[string][]domain.InvoiceLineItem, error) {
	itemMap := make(map[string][]domain.InvoiceLineItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return itemMap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, item_id, quantity, adjusted_price
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY id ASC
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var invoiceID string
		var line domain.InvoiceLineItem
		var adjusted sql.NullFloat64
		if err := rows.Scan(&invoiceID, &line.ItemID, &line.Quantity, &adjusted); err != nil {
			return nil, err
		}
		if adjusted.Valid {
			p := adjusted.Float64
			line.AdjustedPrice = &p
		}
		itemMap[invoiceID] = append(itemMap[invoiceID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return itemMap, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullFloat(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}

