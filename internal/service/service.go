package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"invenpos/backend/internal/analytics"
	"invenpos/backend/internal/cache"
	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if reportTTL <= 0 {
		reportTTL = time.Minute
	}

	return &Service{
		repo:      repo,
		reports:   reports,
		reportTTL: reportTTL,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing actor", store.ErrForbidden)
	}
	return actor, nil
}

// requireWriteAccess gates every mutating operation: the caller must be an
// active account with a live subscription. Admins are exempt from the
// subscription check so they can keep administering expired tenants.
func (s *Service) requireWriteAccess(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.IsAdmin() {
		return actor, nil
	}

	user, err := s.repo.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return domain.Actor{}, err
	}
	if !user.Active {
		return domain.Actor{}, fmt.Errorf("%w: account inactive", store.ErrForbidden)
	}
	if user.SubscriptionExpiresAt.Before(time.Now().UTC()) {
		return domain.Actor{}, fmt.Errorf("%w: subscription expired", store.ErrForbidden)
	}
	return actor, nil
}

// ownedInvoice loads the invoice and enforces ownership; admins bypass the
// ownership check but not existence.
func (s *Service) ownedInvoice(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	invoice, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.OwnerID != actor.UserID && !actor.IsAdmin() {
		return nil, store.ErrForbidden
	}
	return invoice, nil
}

func (s *Service) ownedItem(ctx context.Context, actor domain.Actor, itemID string) (*domain.InventoryItem, error) {
	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != actor.UserID && !actor.IsAdmin() {
		return nil, store.ErrForbidden
	}
	return item, nil
}

// ---- inventory ----

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, actor.UserID)
}

func (s *Service) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.ownedItem(ctx, actor, itemID)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.InventoryItem, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Quantity < 0 || req.Price < 0 || req.LowStockThreshold < 0 {
		return nil, fmt.Errorf("%w: negative quantity, price, or threshold", store.ErrValidation)
	}

	item := domain.InventoryItem{
		ID:                xid.New("itm"),
		OwnerID:           actor.UserID,
		Name:              req.Name,
		SKU:               req.SKU,
		Quantity:          req.Quantity,
		Price:             req.Price,
		CostPrice:         req.CostPrice,
		Category:          req.Category,
		LowStockThreshold: req.LowStockThreshold,
		CreatedAt:         time.Now().UTC(),
	}
	return s.repo.CreateItem(ctx, item)
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (*domain.InventoryItem, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := s.ownedItem(ctx, actor, itemID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be blank", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.SKU != nil {
		updated.SKU = strings.ToUpper(strings.TrimSpace(*req.SKU))
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return nil, fmt.Errorf("%w: negative price", store.ErrValidation)
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return nil, fmt.Errorf("%w: negative cost price", store.ErrValidation)
		}
		updated.CostPrice = req.CostPrice
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return nil, fmt.Errorf("%w: negative threshold", store.ErrValidation)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}

	return s.repo.UpdateItem(ctx, updated)
}

func (s *Service) Restock(ctx context.Context, itemID string, quantity int) (*domain.RestockRecord, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", store.ErrValidation)
	}
	if _, err := s.ownedItem(ctx, actor, itemID); err != nil {
		return nil, err
	}

	return s.repo.Restock(ctx, domain.RestockRecord{
		ID:       xid.New("rst"),
		ItemID:   itemID,
		OwnerID:  actor.UserID,
		Quantity: quantity,
		Date:     time.Now().UTC(),
	})
}

func (s *Service) ListRestocks(ctx context.Context, itemID string) ([]domain.RestockRecord, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedItem(ctx, actor, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListRestocks(ctx, itemID)
}

// ---- invoices ----

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (*domain.Invoice, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}

	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.InvoiceNumber == "" {
		return nil, fmt.Errorf("%w: invoiceNumber is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: invoice needs at least one line item", store.ErrValidation)
	}
	for _, line := range req.Items {
		if strings.TrimSpace(line.ItemID) == "" || line.Quantity < 1 {
			return nil, fmt.Errorf("%w: every line needs an itemId and a positive quantity", store.ErrValidation)
		}
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable dueDate", store.ErrValidation)
	}

	invoice := domain.Invoice{
		ID:            xid.New("inv"),
		OwnerID:       actor.UserID,
		InvoiceNumber: req.InvoiceNumber,
		CustomerName:  req.CustomerName,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Amount:        req.Amount,
		DueDate:       dueDate,
		Status:        domain.InvoiceStatusUnpaid,
		Notes:         strings.TrimSpace(req.Notes),
		Items:         req.Items,
		CreatedAt:     time.Now().UTC(),
	}
	return s.repo.CreateInvoice(ctx, invoice)
}

func (s *Service) ListInvoices(ctx context.Context, includeDeleted bool) ([]domain.Invoice, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListInvoices(ctx, actor.UserID, includeDeleted)
}

// GetInvoice resolves the invoice's line items against the current inventory
// snapshot. A deleted line item degrades to the unknown-item sentinel at
// price zero instead of failing the read.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*domain.InvoiceDetail, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	invoice, err := s.ownedInvoice(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.ResolvedLine, 0, len(invoice.Items))
	for _, line := range invoice.Items {
		resolved := domain.ResolvedLine{
			ItemID:   line.ItemID,
			Name:     domain.UnknownItemName,
			Quantity: line.Quantity,
		}
		if item, err := s.repo.GetItemByID(ctx, line.ItemID); err == nil {
			resolved.Name = item.Name
			resolved.UnitPrice = item.Price
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if line.AdjustedPrice != nil {
			resolved.UnitPrice = *line.AdjustedPrice
		}
		resolved.LineTotal = resolved.UnitPrice * float64(line.Quantity)
		lines = append(lines, resolved)
	}

	payments, err := s.repo.ListPayments(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	totalPaid := 0.0
	for _, payment := range payments {
		totalPaid += payment.Amount
	}

	return &domain.InvoiceDetail{
		Invoice:   *invoice,
		Lines:     lines,
		TotalPaid: totalPaid,
	}, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, invoiceID string, req domain.InvoiceUpdateRequest) (*domain.Invoice, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.ownedInvoice(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if req.CustomerName != nil {
		updated.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerPhone != nil {
		updated.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
	}
	if req.DueDate != nil {
		dueDate, err := parseDate(*req.DueDate)
		if err != nil {
			return nil, fmt.Errorf("%w: unparseable dueDate", store.ErrValidation)
		}
		updated.DueDate = dueDate
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}

	return s.repo.UpdateInvoice(ctx, updated)
}

// UpdateInvoiceStatus applies a status action as a direct administrative
// override. markPaid deliberately skips the payment-total check that the
// RecordPayment path performs; the two transitions serve different needs.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, invoiceID string, action string) (*domain.Invoice, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}
	invoice, err := s.ownedInvoice(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	status := invoice.Status
	deleted := invoice.Deleted
	paidDate := invoice.PaidDate
	now := time.Now().UTC()
	switch action {
	case domain.InvoiceActionMarkPaid:
		status = domain.InvoiceStatusPaid
		if paidDate == nil {
			paidDate = &now
		}
	case domain.InvoiceActionMarkUnpaid:
		status = domain.InvoiceStatusUnpaid
		paidDate = nil
	case domain.InvoiceActionDelete:
		deleted = true
	case domain.InvoiceActionRestore:
		deleted = false
	default:
		return nil, fmt.Errorf("%w: unknown action %q", store.ErrValidation, action)
	}

	return s.repo.UpdateInvoiceStatus(ctx, invoice.ID, status, deleted, paidDate)
}

type PaymentResult struct {
	Payment       domain.Payment `json:"payment"`
	InvoiceStatus string         `json:"invoiceStatus"`
}

func (s *Service) RecordPayment(ctx context.Context, invoiceID string, req domain.PaymentRequest) (*PaymentResult, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	if _, err := s.ownedInvoice(ctx, actor, invoiceID); err != nil {
		return nil, err
	}

	payment, invoice, err := s.repo.RecordPayment(ctx, domain.Payment{
		ID:         xid.New("pay"),
		InvoiceID:  invoiceID,
		Amount:     req.Amount,
		Method:     strings.TrimSpace(req.Method),
		Date:       time.Now().UTC(),
		Notes:      strings.TrimSpace(req.Notes),
		RecordedBy: actor.Username,
	})
	if err != nil {
		return nil, err
	}

	return &PaymentResult{Payment: *payment, InvoiceStatus: invoice.Status}, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedInvoice(ctx, actor, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// ---- point of sale ----

func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (*domain.POSSale, error) {
	actor, err := s.requireWriteAccess(ctx)
	if err != nil {
		return nil, err
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale needs at least one item", store.ErrValidation)
	}
	for _, line := range req.Items {
		if strings.TrimSpace(line.ItemID) == "" || line.Quantity < 1 {
			return nil, fmt.Errorf("%w: every sale line needs an itemId and a positive quantity", store.ErrValidation)
		}
	}
	if req.Total <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", store.ErrValidation)
	}
	if strings.TrimSpace(req.Payment.Method) == "" {
		return nil, fmt.Errorf("%w: payment method is required", store.ErrValidation)
	}

	now := time.Now().UTC()
	sale := domain.POSSale{
		ID:        xid.New("sale"),
		OwnerID:   actor.UserID,
		Items:     req.Items,
		Total:     req.Total,
		Payment:   req.Payment,
		Timestamp: now,
		Status:    domain.SaleStatusCompleted,
	}

	adjustments := make([]domain.TransactionAdjustment, 0, len(req.Items))
	for _, line := range req.Items {
		adjustments = append(adjustments, domain.TransactionAdjustment{
			ItemID:   line.ItemID,
			Quantity: -line.Quantity,
		})
	}
	audit := domain.InventoryTransaction{
		ID:                xid.New("itx"),
		OwnerID:           actor.UserID,
		Type:              domain.TransactionTypeSale,
		RelatedDocumentID: sale.ID,
		Items:             adjustments,
		Timestamp:         now,
	}

	return s.repo.CreateSale(ctx, sale, audit)
}

func (s *Service) ListSales(ctx context.Context, from, to time.Time, page, limit int) (*domain.SaleListResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	sales, total, err := s.repo.ListSales(ctx, actor.UserID, from, to, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &domain.SaleListResponse{
		Sales:      sales,
		TotalCount: total,
		Page:       page,
		Limit:      limit,
	}, nil
}

func (s *Service) ListInventoryTransactions(ctx context.Context, limit int) ([]domain.InventoryTransaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListInventoryTransactions(ctx, actor.UserID, limit)
}

// SalesReport folds the owner's completed sales in [startDate, endDate] into
// the report shape: totals, a zero-filled per-day breakdown, revenue per
// payment method, and the ten best-selling products by revenue.
func (s *Service) SalesReport(ctx context.Context, startDate, endDate string) (*domain.SalesReport, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -29)
	if strings.TrimSpace(startDate) != "" {
		if start, err = parseDate(startDate); err != nil {
			return nil, fmt.Errorf("%w: unparseable startDate", store.ErrValidation)
		}
	}
	if strings.TrimSpace(endDate) != "" {
		if end, err = parseDate(endDate); err != nil {
			return nil, fmt.Errorf("%w: unparseable endDate", store.ErrValidation)
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: endDate before startDate", store.ErrValidation)
	}

	sales, _, err := s.repo.ListSales(ctx, actor.UserID, start, end.AddDate(0, 0, 1), 0, 0)
	if err != nil {
		return nil, err
	}

	report := buildSalesReport(sales, start, end)
	return &report, nil
}

func buildSalesReport(sales []domain.POSSale, start, end time.Time) domain.SalesReport {
	type dayBucket struct {
		revenue float64
		count   int
	}
	type productBucket struct {
		name    string
		revenue float64
		units   int
	}

	byDay := make(map[string]dayBucket)
	byMethod := make(map[string]dayBucket)
	byProduct := make(map[string]productBucket)

	totalRevenue := 0.0
	for _, sale := range sales {
		totalRevenue += sale.Total

		day := sale.Timestamp.UTC().Format("2006-01-02")
		bucket := byDay[day]
		bucket.revenue += sale.Total
		bucket.count++
		byDay[day] = bucket

		method := byMethod[sale.Payment.Method]
		method.revenue += sale.Total
		method.count++
		byMethod[sale.Payment.Method] = method

		for _, line := range sale.Items {
			product := byProduct[line.ItemID]
			if product.name == "" {
				product.name = line.Name
			}
			product.revenue += line.Price * float64(line.Quantity)
			product.units += line.Quantity
			byProduct[line.ItemID] = product
		}
	}

	daily := make([]domain.DailySalesEntry, 0, 31)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		bucket := byDay[key]
		daily = append(daily, domain.DailySalesEntry{
			Date:         key,
			Revenue:      bucket.revenue,
			Transactions: bucket.count,
		})
	}

	methods := make([]domain.PaymentMethodEntry, 0, len(byMethod))
	for method, bucket := range byMethod {
		methods = append(methods, domain.PaymentMethodEntry{
			Method:       method,
			Revenue:      bucket.revenue,
			Transactions: bucket.count,
		})
	}
	sortPaymentMethods(methods)

	products := make([]domain.TopProductEntry, 0, len(byProduct))
	for itemID, bucket := range byProduct {
		products = append(products, domain.TopProductEntry{
			ItemID:  itemID,
			Name:    bucket.name,
			Revenue: bucket.revenue,
			Units:   bucket.units,
		})
	}
	sortTopProducts(products)
	if len(products) > 10 {
		products = products[:10]
	}

	average := 0.0
	if len(sales) > 0 {
		average = totalRevenue / float64(len(sales))
	}

	return domain.SalesReport{
		DailySales:         daily,
		PaymentMethods:     methods,
		TopProducts:        products,
		TotalSales:         totalRevenue,
		TransactionCount:   len(sales),
		AverageTransaction: average,
		DateRange: domain.ReportDateRange{
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.Format("2006-01-02"),
		},
	}
}

// ---- analytics ----

// EnhancedAnalytics serves the composed report from the short-lived report
// cache when possible; a miss rebuilds it from the owner's full invoice
// history and current inventory.
func (s *Service) EnhancedAnalytics(ctx context.Context, period string) (*analytics.Report, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	_, canonical := analytics.Resolve(period, time.Now().UTC())
	cacheKey := fmt.Sprintf("analytics:%s:%s", actor.UserID, canonical)
	if payload, ok, err := s.reports.Get(ctx, cacheKey); err == nil && ok {
		var cached analytics.Report
		if err := json.Unmarshal(payload, &cached); err == nil {
			return &cached, nil
		}
	}

	invoices, err := s.repo.ListInvoices(ctx, actor.UserID, true)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	report := analytics.Build(analytics.Snapshot{Invoices: invoices, Items: items}, period, time.Now().UTC())

	if payload, err := json.Marshal(report); err == nil {
		if err := s.reports.Set(ctx, cacheKey, payload, s.reportTTL); err != nil {
			log.Printf("[service] WARN: failed to cache analytics report key=%s: %v", cacheKey, err)
		}
	}
	return &report, nil
}

// ---- notifications ----

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListNotifications(ctx, actor.UserID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) (*domain.Notification, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.MarkNotificationRead(ctx, actor.UserID, notificationID)
}

// RunLowStockSweep scans every user's inventory and raises one unread
// low-stock notification per item at or below its threshold. Re-running the
// sweep does not stack duplicates while the previous one is unread.
func (s *Service) RunLowStockSweep(ctx context.Context) (int, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, user := range users {
		items, err := s.repo.ListItems(ctx, user.ID)
		if err != nil {
			log.Printf("[sweep] WARN: listing items for user=%s: %v", user.ID, err)
			continue
		}
		for _, item := range items {
			if item.LowStockThreshold < 1 || item.Quantity > item.LowStockThreshold {
				continue
			}
			pending, err := s.repo.HasUnreadNotification(ctx, user.ID, domain.NotificationLowStock, item.ID)
			if err != nil {
				return created, err
			}
			if pending {
				continue
			}
			_, err = s.repo.CreateNotification(ctx, domain.Notification{
				ID:        xid.New("ntf"),
				OwnerID:   user.ID,
				Type:      domain.NotificationLowStock,
				Message:   fmt.Sprintf("Stock for %s is low (%d left, threshold %d)", item.Name, item.Quantity, item.LowStockThreshold),
				ItemID:    item.ID,
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

// RunSubscriptionSweep notifies users whose subscription ends within seven
// days, once per unread notification.
func (s *Service) RunSubscriptionSweep(ctx context.Context) (int, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	horizon := now.AddDate(0, 0, 7)
	created := 0
	for _, user := range users {
		if !user.Active || user.SubscriptionExpiresAt.After(horizon) || user.SubscriptionExpiresAt.Before(now) {
			continue
		}
		pending, err := s.repo.HasUnreadNotification(ctx, user.ID, domain.NotificationSubscriptionExpiry, "")
		if err != nil {
			return created, err
		}
		if pending {
			continue
		}
		daysLeft := int(user.SubscriptionExpiresAt.Sub(now).Hours() / 24)
		_, err = s.repo.CreateNotification(ctx, domain.Notification{
			ID:        xid.New("ntf"),
			OwnerID:   user.ID,
			Type:      domain.NotificationSubscriptionExpiry,
			Message:   fmt.Sprintf("Your subscription expires in %d day(s)", daysLeft),
			CreatedAt: now,
		})
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ---- admin ----

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, username, passwordHash, role string) (*domain.User, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return nil, fmt.Errorf("%w: username must be at least 4 characters without spaces", store.ErrValidation)
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", store.ErrValidation, role)
	}

	now := time.Now().UTC()
	return s.repo.CreateUser(ctx, domain.User{
		ID:                    xid.New("usr"),
		Username:              username,
		PasswordHash:          passwordHash,
		Role:                  role,
		Active:                true,
		SubscriptionExpiresAt: now.AddDate(0, 1, 0),
		CreatedAt:             now,
	})
}

func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) (*domain.User, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.SetUserActive(ctx, userID, active)
}

func (s *Service) ExtendSubscription(ctx context.Context, userID string, days int) (*domain.User, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be positive", store.ErrValidation)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	base := user.SubscriptionExpiresAt
	if now := time.Now().UTC(); base.Before(now) {
		base = now
	}
	return s.repo.ExtendSubscription(ctx, userID, base.AddDate(0, 0, days))
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return nil
}

// ---- helpers ----

func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func sortPaymentMethods(entries []domain.PaymentMethodEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Revenue == entries[j].Revenue {
			return entries[i].Method < entries[j].Method
		}
		return entries[i].Revenue > entries[j].Revenue
	})
}

func sortTopProducts(entries []domain.TopProductEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Revenue == entries[j].Revenue {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Revenue > entries[j].Revenue
	})
}
