package shop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipacs/shop/entitlement/boltstore"
	"github.com/pipacs/shop/platform"
	"github.com/pipacs/shop/platform/sandbox"
	"github.com/pipacs/shop/receipt"
	"github.com/pipacs/shop/receipt/receipttest"
	"github.com/pipacs/shop/shop"
)

func TestShop_EndToEndWithSignedReceipt(t *testing.T) {
	auth, err := receipttest.NewAuthority("Integration")
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	device := []byte("0123456789abcdef")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	container, err := auth.Signed(receipttest.Payload{
		BundleID:      "com.example.app",
		BundleVersion: "7",
		Opaque:        []byte{9, 8, 7, 6},
		DeviceID:      device,
		Purchases: []receipttest.Purchase{
			{Quantity: 1, ProductID: "pro", TransactionID: "1", OriginalTransactionID: "1", PurchaseDate: now, OriginalPurchaseDate: now},
		},
	})
	if err != nil {
		t.Fatalf("Signed: %v", err)
	}

	db, err := boltstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sb := sandbox.New(sandbox.Options{
		Catalog: []platform.Product{{ID: "pro", Price: "4.99"}, {ID: "skin", Price: "0.99"}},
		Auto:    true,
	})
	defer sb.Close()

	v := receipt.NewVerifier(receipt.StaticSource(container), receipt.Params{
		RootCert: auth.RootDER,
		BundleID: "com.example.app",
		DeviceID: device,
	})
	s, err := shop.New(shop.Options{
		NonConsumables: []string{"pro", "skin"},
		Store:          db,
		Platform:       sb,
		Verifier:       v,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ProductsLoaded().Wait(ctx); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := s.Purchase("pro").Wait(ctx); err != nil {
		t.Fatalf("purchase pro: %v", err)
	}
	if !s.Has("pro") {
		t.Fatalf("pro not granted")
	}
	err = s.Purchase("skin").Wait(ctx)
	if !errors.Is(err, shop.ErrReceiptInvalid) {
		t.Fatalf("skin err=%v, want receipt invalid", err)
	}
	if s.Has("skin") {
		t.Fatalf("skin granted without receipt backing")
	}
	if err := s.RestorePurchases().Wait(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	sb.Flush()
	if n := len(sb.Finished()); n != 2 {
		t.Fatalf("acknowledged=%d, want 2", n)
	}
}
