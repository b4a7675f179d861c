package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
)

func TestCreateSaleDecrementsStockAtomically(t *testing.T) {
	databaseURL := os.Getenv("INVENPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set INVENPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	ownerID := fmt.Sprintf("usr-sale-it-%d", stamp)
	itemID := fmt.Sprintf("itm-sale-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	auditID := fmt.Sprintf("itx-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_transaction_items WHERE transaction_id = $1`, auditID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_transactions WHERE id = $1`, auditID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pos_sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM pos_sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, ownerID)
	})

	now := time.Now().UTC()
	if _, err := s.CreateUser(ctx, domain.User{
		ID:                    ownerID,
		Username:              fmt.Sprintf("sale-it-%d", stamp),
		PasswordHash:          "x-not-a-login",
		Role:                  domain.RoleUser,
		SubscriptionExpiresAt: now.AddDate(1, 0, 0),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := s.CreateItem(ctx, domain.InventoryItem{
		ID:                itemID,
		OwnerID:           ownerID,
		Name:              "Produk Sale IT",
		SKU:               fmt.Sprintf("SKU-SALE-IT-%d", stamp),
		Quantity:          10,
		Price:             6000,
		LowStockThreshold: 2,
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.POSSale{
		ID:      saleID,
		OwnerID: ownerID,
		Items: []domain.SaleLine{
			{ItemID: itemID, Name: "Produk Sale IT", Quantity: 3, Price: 6000},
		},
		Total:   18000,
		Payment: domain.PaymentInfo{Method: "cash"},
	}, domain.InventoryTransaction{
		ID:   auditID,
		Type: domain.TransactionTypeSale,
		Items: []domain.TransactionAdjustment{
			{ItemID: itemID, Quantity: -3},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	item, err := s.GetItemByID(ctx, itemID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Quantity != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", item.Quantity)
	}

	audits, err := s.ListInventoryTransactions(ctx, ownerID, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(audits) != 1 || audits[0].RelatedDocumentID != saleID {
		t.Fatalf("expected one audit row for %s, got %+v", saleID, audits)
	}

	// a vanished item aborts the whole sale, leaving stock untouched
	_, err = s.CreateSale(ctx, domain.POSSale{
		OwnerID: ownerID,
		Items: []domain.SaleLine{
			{ItemID: itemID, Name: "Produk Sale IT", Quantity: 1, Price: 6000},
			{ItemID: "itm-it-missing", Name: "Hantu", Quantity: 1, Price: 1000},
		},
		Total:   7000,
		Payment: domain.PaymentInfo{Method: "cash"},
	}, domain.InventoryTransaction{Type: domain.TransactionTypeSale})
	if !errors.Is(err, store.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}

	item, err = s.GetItemByID(ctx, itemID)
	if err != nil {
		t.Fatalf("get item after aborted sale: %v", err)
	}
	if item.Quantity != 7 {
		t.Fatalf("aborted sale must not touch stock, got %d", item.Quantity)
	}
}
