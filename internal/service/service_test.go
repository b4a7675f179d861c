package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"invenpos/backend/internal/cache"
	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopReportCache{}, time.Minute), repo
}

func demoCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   memory.SeedOwnerID,
		Username: "demo",
		Role:     domain.RoleUser,
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   memory.SeedAdminID,
		Username: "admin",
		Role:     domain.RoleAdmin,
	})
}

func itemQuantity(t *testing.T, svc *Service, ctx context.Context, itemID string) int {
	t.Helper()
	item, err := svc.GetItem(ctx, itemID)
	if err != nil {
		t.Fatalf("get item %s: %v", itemID, err)
	}
	return item.Quantity
}

func TestCreateInvoiceDecrementsStock(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	before := itemQuantity(t, svc, ctx, "itm-seed-01")

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-001",
		CustomerName:  "Budi",
		Amount:        5.50,
		DueDate:       "2025-12-31",
		Items: []domain.InvoiceLineItem{
			{ItemID: "itm-seed-01", Quantity: 10},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if invoice.Status != domain.InvoiceStatusUnpaid {
		t.Fatalf("new invoice must start unpaid, got %s", invoice.Status)
	}

	after := itemQuantity(t, svc, ctx, "itm-seed-01")
	if after != before-10 {
		t.Fatalf("quantity %d, want %d", after, before-10)
	}
}

func TestCreateInvoiceAbortsOnMissingItem(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	before := itemQuantity(t, svc, ctx, "itm-seed-01")

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-002",
		CustomerName:  "Budi",
		Amount:        10,
		DueDate:       "2025-12-31",
		Items: []domain.InvoiceLineItem{
			{ItemID: "itm-seed-01", Quantity: 5},
			{ItemID: "itm-missing", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}

	// No partial effects: invoice absent, stock untouched.
	invoices, err := svc.ListInvoices(ctx, true)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(invoices) != 0 {
		t.Fatalf("expected no invoice rows, got %d", len(invoices))
	}
	if got := itemQuantity(t, svc, ctx, "itm-seed-01"); got != before {
		t.Fatalf("stock changed on aborted invoice: %d -> %d", before, got)
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	cases := []domain.InvoiceCreateRequest{
		{CustomerName: "No Number", Amount: 5, DueDate: "2025-12-31", Items: []domain.InvoiceLineItem{{ItemID: "itm-seed-01", Quantity: 1}}},
		{InvoiceNumber: "INV-X", Amount: 5, DueDate: "2025-12-31"},
		{InvoiceNumber: "INV-X", Amount: 5, DueDate: "2025-12-31", Items: []domain.InvoiceLineItem{{ItemID: "itm-seed-01", Quantity: 0}}},
		{InvoiceNumber: "INV-X", Amount: 0, DueDate: "2025-12-31", Items: []domain.InvoiceLineItem{{ItemID: "itm-seed-01", Quantity: 1}}},
		{InvoiceNumber: "INV-X", Amount: 5, DueDate: "not-a-date", Items: []domain.InvoiceLineItem{{ItemID: "itm-seed-01", Quantity: 1}}},
	}
	for i, req := range cases {
		if _, err := svc.CreateInvoice(ctx, req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	before := itemQuantity(t, svc, ctx, "itm-seed-01")
	if before != 120 {
		t.Fatalf("validation failures must not touch stock, quantity = %d", before)
	}
}

func TestRecordPaymentFlipsStatusWhenCovered(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-100",
		CustomerName:  "Sari",
		Amount:        100,
		DueDate:       "2025-12-31",
		Items: []domain.InvoiceLineItem{
			{ItemID: "itm-seed-02", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	first, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 60, Method: "cash"})
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if first.InvoiceStatus != domain.InvoiceStatusUnpaid {
		t.Fatalf("60 of 100 must stay unpaid, got %s", first.InvoiceStatus)
	}

	second, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 40, Method: "transfer"})
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if second.InvoiceStatus != domain.InvoiceStatusPaid {
		t.Fatalf("100 of 100 must be paid, got %s", second.InvoiceStatus)
	}

	detail, err := svc.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if detail.Invoice.PaidDate == nil {
		t.Fatalf("paidDate must be set after the covering payment")
	}
	if detail.TotalPaid != 100 {
		t.Fatalf("totalPaid = %v, want 100", detail.TotalPaid)
	}
}

func TestRecordPaymentOverpayStaysPaid(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, _ := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-101",
		CustomerName:  "Sari",
		Amount:        50,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-02", Quantity: 1}},
	})

	if _, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 50}); err != nil {
		t.Fatalf("covering payment failed: %v", err)
	}
	detail, _ := svc.GetInvoice(ctx, invoice.ID)
	firstPaidDate := detail.Invoice.PaidDate

	// A further payment must not disturb the paid transition.
	result, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 10})
	if err != nil {
		t.Fatalf("extra payment failed: %v", err)
	}
	if result.InvoiceStatus != domain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", result.InvoiceStatus)
	}
	detail, _ = svc.GetInvoice(ctx, invoice.ID)
	if detail.Invoice.PaidDate == nil || !detail.Invoice.PaidDate.Equal(*firstPaidDate) {
		t.Fatalf("paidDate must not move on later payments")
	}
}

func TestUpdateInvoiceStatusActions(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, _ := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-200",
		CustomerName:  "Tono",
		Amount:        30,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-03", Quantity: 1}},
	})

	// markPaid is an override: no payments exist, the flip still happens.
	updated, err := svc.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceActionMarkPaid)
	if err != nil {
		t.Fatalf("markPaid failed: %v", err)
	}
	if updated.Status != domain.InvoiceStatusPaid || updated.PaidDate == nil {
		t.Fatalf("markPaid must set status and paidDate, got %+v", updated)
	}

	updated, err = svc.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceActionMarkUnpaid)
	if err != nil {
		t.Fatalf("markUnpaid failed: %v", err)
	}
	if updated.Status != domain.InvoiceStatusUnpaid || updated.PaidDate != nil {
		t.Fatalf("markUnpaid must clear status and paidDate, got %+v", updated)
	}

	if updated, err = svc.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceActionDelete); err != nil || !updated.Deleted {
		t.Fatalf("delete failed: %v (%+v)", err, updated)
	}
	if updated, err = svc.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceActionRestore); err != nil || updated.Deleted {
		t.Fatalf("restore failed: %v (%+v)", err, updated)
	}

	if _, err := svc.UpdateInvoiceStatus(ctx, invoice.ID, "explode"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown action must be a validation error, got %v", err)
	}
}

func TestInvoiceOwnershipEnforced(t *testing.T) {
	svc, _ := newTestService()

	invoice, err := svc.CreateInvoice(demoCtx(), domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-300",
		CustomerName:  "Budi",
		Amount:        10,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-04", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	stranger := WithActor(context.Background(), domain.Actor{
		UserID:   memory.SeedAdminID, // exists, but uses a non-admin role here
		Username: "other",
		Role:     domain.RoleUser,
	})
	if _, err := svc.RecordPayment(stranger, invoice.ID, domain.PaymentRequest{Amount: 5}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner, got %v", err)
	}
	if _, err := svc.UpdateInvoiceStatus(stranger, invoice.ID, domain.InvoiceActionDelete); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-owner status action, got %v", err)
	}

	// Admins bypass ownership.
	if _, err := svc.UpdateInvoiceStatus(adminCtx(), invoice.ID, domain.InvoiceActionMarkPaid); err != nil {
		t.Fatalf("admin override failed: %v", err)
	}
}

func TestProcessSaleAtomicEffects(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	before := itemQuantity(t, svc, ctx, "itm-seed-05")
	if before != 200 {
		t.Fatalf("unexpected seed quantity %d", before)
	}

	sale, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items: []domain.SaleLine{
			{ItemID: "itm-seed-05", Name: "Kopi Sachet", Quantity: 3, Price: 0.25},
		},
		Total:   0.75,
		Payment: domain.PaymentInfo{Method: "cash"},
	})
	if err != nil {
		t.Fatalf("process sale failed: %v", err)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("sale status = %s", sale.Status)
	}

	if got := itemQuantity(t, svc, ctx, "itm-seed-05"); got != before-3 {
		t.Fatalf("quantity %d, want %d", got, before-3)
	}

	txs, err := svc.ListInventoryTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("list inventory transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected exactly one audit row, got %d", len(txs))
	}
	audit := txs[0]
	if audit.Type != domain.TransactionTypeSale || audit.RelatedDocumentID != sale.ID {
		t.Fatalf("audit row not linked to sale: %+v", audit)
	}
	if len(audit.Items) != 1 || audit.Items[0].Quantity != -3 {
		t.Fatalf("audit adjustment must be -3, got %+v", audit.Items)
	}
}

func TestProcessSaleAbortsWithoutPartialEffect(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	before := itemQuantity(t, svc, ctx, "itm-seed-05")

	_, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items: []domain.SaleLine{
			{ItemID: "itm-seed-05", Name: "Kopi Sachet", Quantity: 2, Price: 0.25},
			{ItemID: "itm-vanished", Name: "Gone", Quantity: 1, Price: 1},
		},
		Total:   1.50,
		Payment: domain.PaymentInfo{Method: "cash"},
	})
	if !errors.Is(err, store.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}

	if got := itemQuantity(t, svc, ctx, "itm-seed-05"); got != before {
		t.Fatalf("aborted sale changed stock: %d -> %d", before, got)
	}
	resp, err := svc.ListSales(ctx, time.Time{}, time.Time{}, 1, 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if resp.TotalCount != 0 {
		t.Fatalf("expected no sale rows, got %d", resp.TotalCount)
	}
	txs, _ := svc.ListInventoryTransactions(ctx, 10)
	if len(txs) != 0 {
		t.Fatalf("expected no audit rows, got %d", len(txs))
	}
}

func TestRestockAdditivity(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	initial := itemQuantity(t, svc, ctx, "itm-seed-07")

	if _, err := svc.Restock(ctx, "itm-seed-07", 15); err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items:   []domain.SaleLine{{ItemID: "itm-seed-07", Name: "Keripik Singkong", Quantity: 4, Price: 1}},
		Total:   4,
		Payment: domain.PaymentInfo{Method: "qris"},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if _, err := svc.Restock(ctx, "itm-seed-07", 5); err != nil {
		t.Fatalf("second restock failed: %v", err)
	}

	want := initial + 15 - 4 + 5
	if got := itemQuantity(t, svc, ctx, "itm-seed-07"); got != want {
		t.Fatalf("quantity %d, want %d", got, want)
	}

	records, err := svc.ListRestocks(ctx, "itm-seed-07")
	if err != nil {
		t.Fatalf("list restocks: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 restock records, got %d", len(records))
	}

	if _, err := svc.Restock(ctx, "itm-seed-07", 0); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero restock must fail validation, got %v", err)
	}
}

func TestSalesReportZeroFillsDays(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items:   []domain.SaleLine{{ItemID: "itm-seed-06", Name: "Air Mineral 600ml", Quantity: 2, Price: 0.30}},
		Total:   0.60,
		Payment: domain.PaymentInfo{Method: "cash"},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	start := time.Now().UTC().AddDate(0, 0, -6).Format("2006-01-02")
	report, err := svc.SalesReport(ctx, start, today)
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}

	if len(report.DailySales) != 7 {
		t.Fatalf("expected 7 daily entries, got %d", len(report.DailySales))
	}
	if report.TransactionCount != 1 || report.TotalSales != 0.60 {
		t.Fatalf("totals wrong: %+v", report)
	}
	if report.AverageTransaction != 0.60 {
		t.Fatalf("averageTransaction = %v", report.AverageTransaction)
	}

	var todayEntry *domain.DailySalesEntry
	for i := range report.DailySales {
		if report.DailySales[i].Date == today {
			todayEntry = &report.DailySales[i]
		} else if report.DailySales[i].Transactions != 0 {
			t.Fatalf("day %s should be zero-filled", report.DailySales[i].Date)
		}
	}
	if todayEntry == nil || todayEntry.Transactions != 1 {
		t.Fatalf("today's bucket missing or wrong: %+v", todayEntry)
	}

	if len(report.PaymentMethods) != 1 || report.PaymentMethods[0].Method != "cash" {
		t.Fatalf("payment methods wrong: %+v", report.PaymentMethods)
	}
	if len(report.TopProducts) != 1 || report.TopProducts[0].Units != 2 {
		t.Fatalf("top products wrong: %+v", report.TopProducts)
	}
}

func TestListSalesNewestFirstPaginated(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	for i := 0; i < 5; i++ {
		if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
			Items:   []domain.SaleLine{{ItemID: "itm-seed-05", Name: "Kopi Sachet", Quantity: 1, Price: 0.25}},
			Total:   0.25,
			Payment: domain.PaymentInfo{Method: "cash"},
		}); err != nil {
			t.Fatalf("sale %d failed: %v", i, err)
		}
	}

	page1, err := svc.ListSales(ctx, time.Time{}, time.Time{}, 1, 2)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if page1.TotalCount != 5 || len(page1.Sales) != 2 {
		t.Fatalf("page 1: total=%d len=%d", page1.TotalCount, len(page1.Sales))
	}

	page3, err := svc.ListSales(ctx, time.Time{}, time.Time{}, 3, 2)
	if err != nil {
		t.Fatalf("list sales page 3: %v", err)
	}
	if len(page3.Sales) != 1 {
		t.Fatalf("page 3 should hold the remainder, got %d", len(page3.Sales))
	}

	for i := 1; i < len(page1.Sales); i++ {
		if page1.Sales[i].Timestamp.After(page1.Sales[i-1].Timestamp) {
			t.Fatalf("sales must be newest-first")
		}
	}
}

func TestEnhancedAnalyticsEmptyThirtyDays(t *testing.T) {
	svc, _ := newTestService()

	report, err := svc.EnhancedAnalytics(demoCtx(), "30days")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if report.Period != "30days" {
		t.Fatalf("period = %s", report.Period)
	}
	pm := report.ProfitMetrics
	if pm.Revenue != 0 || pm.COGS != 0 || pm.GrossProfit != 0 || pm.ProfitMargin != 0 {
		t.Fatalf("expected zero profit metrics, got %+v", pm)
	}
	if len(report.TimeTrends) != 30 {
		t.Fatalf("expected 30 trend entries, got %d", len(report.TimeTrends))
	}
	for _, point := range report.TimeTrends {
		if point.Revenue != 0 || point.Orders != 0 {
			t.Fatalf("expected zero bucket, got %+v", point)
		}
	}
}

func TestEnhancedAnalyticsReflectsPaidInvoices(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, _ := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-400",
		CustomerName:  "Budi",
		Amount:        4.20,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-02", Quantity: 2}},
	})
	if _, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 4.20}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	report, err := svc.EnhancedAnalytics(ctx, "7days")
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if report.ProfitMetrics.Revenue != 4.20 {
		t.Fatalf("revenue = %v, want 4.20", report.ProfitMetrics.Revenue)
	}
	if report.ProfitMetrics.GrossProfit != report.ProfitMetrics.Revenue-report.ProfitMetrics.COGS {
		t.Fatalf("grossProfit identity violated: %+v", report.ProfitMetrics)
	}
	if report.CustomerMetrics.TotalCustomers != 1 || report.CustomerMetrics.NewCustomers != 1 {
		t.Fatalf("customer metrics wrong: %+v", report.CustomerMetrics)
	}
}

func TestExpiredSubscriptionBlocksWrites(t *testing.T) {
	svc, repo := newTestService()

	expired, err := repo.CreateUser(context.Background(), domain.User{
		ID:                    "usr-expired",
		Username:              "lapsed",
		PasswordHash:          "x",
		Role:                  domain.RoleUser,
		Active:                true,
		SubscriptionExpiresAt: time.Now().UTC().AddDate(0, 0, -1),
		CreatedAt:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed expired user: %v", err)
	}

	ctx := WithActor(context.Background(), domain.Actor{
		UserID:   expired.ID,
		Username: expired.Username,
		Role:     domain.RoleUser,
	})
	if _, err := svc.CreateItem(ctx, domain.ItemCreateRequest{Name: "Blocked", Price: 1}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for expired subscription, got %v", err)
	}

	// Reads still work.
	if _, err := svc.ListItems(ctx); err != nil {
		t.Fatalf("reads must not be gated: %v", err)
	}
}

func TestItemUpdateCannotTouchQuantity(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	name := "Renamed"
	updated, err := svc.UpdateItem(ctx, "itm-seed-08", domain.ItemUpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("update item failed: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name = %s", updated.Name)
	}
	if updated.Quantity != 55 {
		t.Fatalf("quantity must survive edits untouched, got %d", updated.Quantity)
	}
}

func TestLowStockSweepCreatesOneUnreadPerItem(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	// Drive one item below its threshold (35 - 30 = 5 <= 10).
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items:   []domain.SaleLine{{ItemID: "itm-seed-07", Name: "Keripik Singkong", Quantity: 30, Price: 1}},
		Total:   30,
		Payment: domain.PaymentInfo{Method: "cash"},
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	created, err := svc.RunLowStockSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 notification, got %d", created)
	}

	// A second sweep must not stack a duplicate while unread.
	created, err = svc.RunLowStockSweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected no duplicate notification, got %d", created)
	}

	notifications, err := svc.ListNotifications(ctx)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Type != domain.NotificationLowStock {
		t.Fatalf("notifications wrong: %+v", notifications)
	}

	if _, err := svc.MarkNotificationRead(ctx, notifications[0].ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	created, _ = svc.RunLowStockSweep(context.Background())
	if created != 1 {
		t.Fatalf("after read, sweep should raise again, got %d", created)
	}
}

func TestSubscriptionSweepNotifiesExpiring(t *testing.T) {
	svc, repo := newTestService()

	_, err := repo.CreateUser(context.Background(), domain.User{
		ID:                    "usr-expiring",
		Username:              "expiring",
		PasswordHash:          "x",
		Role:                  domain.RoleUser,
		Active:                true,
		SubscriptionExpiresAt: time.Now().UTC().AddDate(0, 0, 3),
		CreatedAt:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed expiring user: %v", err)
	}

	created, err := svc.RunSubscriptionSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 expiry notification, got %d", created)
	}

	ctx := WithActor(context.Background(), domain.Actor{UserID: "usr-expiring", Username: "expiring", Role: domain.RoleUser})
	notifications, _ := svc.ListNotifications(ctx)
	if len(notifications) != 1 || notifications[0].Type != domain.NotificationSubscriptionExpiry {
		t.Fatalf("expected one subscription_expiry notification, got %+v", notifications)
	}
}

func TestAdminUserManagement(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	user, err := svc.CreateUser(ctx, "warung1", "$2a$10$fakehash", domain.RoleUser)
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if !user.Active || user.Role != domain.RoleUser {
		t.Fatalf("unexpected user: %+v", user)
	}

	disabled, err := svc.SetUserActive(ctx, user.ID, false)
	if err != nil || disabled.Active {
		t.Fatalf("deactivate failed: %v (%+v)", err, disabled)
	}

	extended, err := svc.ExtendSubscription(ctx, user.ID, 30)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if !extended.SubscriptionExpiresAt.After(user.SubscriptionExpiresAt) {
		t.Fatalf("subscription must move forward")
	}

	// Non-admins are locked out of every admin operation.
	if _, err := svc.ListUsers(demoCtx()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	if _, err := svc.CreateUser(demoCtx(), "warung2", "$2a$10$fakehash", domain.RoleUser); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin create, got %v", err)
	}
}

func TestInvoiceEditCannotRevertPaymentStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-EDIT-1",
		CustomerName:  "Budi",
		Amount:        100,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-01", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	// a field edit captured before the payment lands
	notes := "delivered to the back entrance"
	staleEdit := domain.InvoiceUpdateRequest{Notes: &notes}

	if _, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 100}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	edited, err := svc.UpdateInvoice(ctx, invoice.ID, staleEdit)
	if err != nil {
		t.Fatalf("update invoice: %v", err)
	}
	if edited.Notes != notes {
		t.Fatalf("expected notes to be written, got %q", edited.Notes)
	}
	if edited.Status != domain.InvoiceStatusPaid {
		t.Fatalf("edit reverted payment-driven status to %q", edited.Status)
	}
	if edited.PaidDate == nil {
		t.Fatalf("edit cleared paidDate")
	}

	// the same holds for the deleted flag
	if _, err := svc.UpdateInvoiceStatus(ctx, invoice.ID, domain.InvoiceActionDelete); err != nil {
		t.Fatalf("delete: %v", err)
	}
	edited, err = svc.UpdateInvoice(ctx, invoice.ID, staleEdit)
	if err != nil {
		t.Fatalf("update deleted invoice: %v", err)
	}
	if !edited.Deleted {
		t.Fatalf("edit resurrected a deleted invoice")
	}
}

func TestConcurrentEditAndPaymentKeepPaidInvariant(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	for i := 0; i < 100; i++ {
		invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
			InvoiceNumber: fmt.Sprintf("INV-RACE-%d", i),
			CustomerName:  "Budi",
			Amount:        50,
			DueDate:       "2025-12-31",
			Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-05", Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create invoice %d: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 50}); err != nil {
				t.Errorf("record payment %d: %v", i, err)
			}
		}()
		go func() {
			defer wg.Done()
			notes := "racing edit"
			if _, err := svc.UpdateInvoice(ctx, invoice.ID, domain.InvoiceUpdateRequest{Notes: &notes}); err != nil {
				t.Errorf("update invoice %d: %v", i, err)
			}
		}()
		wg.Wait()

		detail, err := svc.GetInvoice(ctx, invoice.ID)
		if err != nil {
			t.Fatalf("get invoice %d: %v", i, err)
		}
		if detail.TotalPaid < detail.Invoice.Amount {
			t.Fatalf("iteration %d: total paid %v below amount %v", i, detail.TotalPaid, detail.Invoice.Amount)
		}
		if detail.Invoice.Status != domain.InvoiceStatusPaid {
			t.Fatalf("iteration %d: payment covers the amount but status is %q", i, detail.Invoice.Status)
		}
		if detail.Invoice.PaidDate == nil {
			t.Fatalf("iteration %d: paidDate missing on a paid invoice", i)
		}
	}
}

func TestConcurrentPaymentsConvergeOnFinalStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := demoCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-CONC-1",
		CustomerName:  "Sari",
		Amount:        100,
		DueDate:       "2025-12-31",
		Items:         []domain.InvoiceLineItem{{ItemID: "itm-seed-02", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	const payers = 8
	var wg sync.WaitGroup
	wg.Add(payers)
	for p := 0; p < payers; p++ {
		go func() {
			defer wg.Done()
			if _, err := svc.RecordPayment(ctx, invoice.ID, domain.PaymentRequest{Amount: 20}); err != nil {
				t.Errorf("record payment: %v", err)
			}
		}()
	}
	wg.Wait()

	detail, err := svc.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if detail.TotalPaid != 160 {
		t.Fatalf("expected all 8 payments recorded (160), got %v", detail.TotalPaid)
	}
	if detail.Invoice.Status != domain.InvoiceStatusPaid {
		t.Fatalf("sum covers the amount, expected paid, got %q", detail.Invoice.Status)
	}
	if detail.Invoice.PaidDate == nil {
		t.Fatalf("expected paidDate on the converged invoice")
	}

	payments, err := svc.ListPayments(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != payers {
		t.Fatalf("expected %d payment rows, got %d", payers, len(payments))
	}
}
