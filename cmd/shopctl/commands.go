package main

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pipacs/shop/config"
	"github.com/pipacs/shop/platform"
	"github.com/pipacs/shop/platform/sandbox"
	"github.com/pipacs/shop/receipt"
	"github.com/pipacs/shop/receipt/receipttest"
	"github.com/pipacs/shop/shop"
)

func (e *env) count(args []string) int {
	s, done, err := e.openShop(nil, nil)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()
	if len(args) == 0 {
		args = s.ProductIDs()
	}
	for _, id := range args {
		_, _ = fmt.Fprintf(e.stdout, "%s %d\n", id, s.Count(id))
	}
	return 0
}

func (e *env) has(args []string) int {
	if len(args) == 0 {
		return e.fail(2, "has: product id required")
	}
	s, done, err := e.openShop(nil, nil)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()
	code := 0
	for _, id := range args {
		ok := s.Has(id)
		_, _ = fmt.Fprintf(e.stdout, "%s %v\n", id, ok)
		if !ok {
			code = 1
		}
	}
	return code
}

func (e *env) consume(args []string) int {
	if len(args) != 1 {
		return e.fail(2, "consume: exactly one product id required")
	}
	s, done, err := e.openShop(nil, nil)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()
	if !s.Consume(args[0]) {
		return e.fail(1, "consume %s: not a consumable or nothing left", args[0])
	}
	_, _ = fmt.Fprintf(e.stdout, "%s %d\n", args[0], s.Count(args[0]))
	return 0
}

func (e *env) grantAll(_ []string) int {
	s, done, err := e.openShop(nil, nil)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()
	if err := s.PurchaseAllLocally(); err != nil {
		return e.fail(1, "grant-all: %v", err)
	}
	return 0
}

func (e *env) revokeAll(_ []string) int {
	s, done, err := e.openShop(nil, nil)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()
	if err := s.RemoveAllPurchasesLocally(); err != nil {
		return e.fail(1, "revoke-all: %v", err)
	}
	return 0
}

// verifier builds the receipt verifier from the configured paths.
func (e *env) verifier() (*receipt.Verifier, error) {
	if e.cfg.ReceiptPath == "" {
		return nil, fmt.Errorf("receipt_path is required")
	}
	if e.cfg.RootCertPath == "" {
		return nil, fmt.Errorf("root_cert_path is required")
	}
	root, err := readCert(e.cfg.RootCertPath)
	if err != nil {
		return nil, err
	}
	dev, err := e.cfg.DeviceID()
	if err != nil {
		return nil, err
	}
	return receipt.NewVerifier(receipt.FileSource(e.cfg.ReceiptPath), receipt.Params{
		RootCert: root,
		BundleID: e.cfg.BundleID,
		DeviceID: dev,
		Logger:   e.logger,
	}), nil
}

// readCert returns DER bytes from a DER or PEM file.
func readCert(path string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read root certificate: %w", err)
	}
	if blk, _ := pem.Decode(raw); blk != nil {
		if blk.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("root certificate: unexpected PEM block %q", blk.Type)
		}
		return blk.Bytes, nil
	}
	return raw, nil
}

func (e *env) verifyReceipt(args []string) int {
	v, err := e.verifier()
	if err != nil {
		return e.fail(2, "verify-receipt: %v", err)
	}
	if len(args) == 0 {
		args = append(append([]string(nil), e.cfg.Consumables...), e.cfg.NonConsumables...)
	}
	code := 0
	for _, id := range args {
		ok := v.Verify(id)
		_, _ = fmt.Fprintf(e.stdout, "%s %v\n", id, ok)
		if !ok {
			code = 1
		}
	}
	return code
}

func (e *env) dumpReceipt(_ []string) int {
	v, err := e.verifier()
	if err != nil {
		return e.fail(2, "dump-receipt: %v", err)
	}
	r, err := v.Load()
	if err != nil {
		return e.fail(1, "dump-receipt: %s", receipt.CodeOf(err))
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return e.fail(1, "dump-receipt: %v", err)
	}
	return 0
}

func (e *env) forgeReceipt(args []string) int {
	fs := flag.NewFlagSet("forge-receipt", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	products := fs.String("products", "", "comma-separated product ids to include (default: all configured)")
	name := fs.String("name", "Shop Development", "certificate subject prefix")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if e.cfg.ReceiptPath == "" || e.cfg.RootCertPath == "" {
		return e.fail(2, "forge-receipt: receipt_path and root_cert_path are required")
	}
	dev, err := e.cfg.DeviceID()
	if err != nil {
		return e.fail(2, "forge-receipt: %v", err)
	}
	ids := config.NormalizeProductIDs(*products)
	if len(ids) == 0 {
		ids = append(append(ids, e.cfg.Consumables...), e.cfg.NonConsumables...)
	}
	auth, err := receipttest.NewAuthority(*name)
	if err != nil {
		return e.fail(1, "forge-receipt: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	p := receipttest.Payload{
		BundleID:      e.cfg.BundleID,
		BundleVersion: "1",
		Opaque:        []byte(now.Format(time.RFC3339Nano)),
		DeviceID:      dev,
	}
	for i, id := range ids {
		txID := fmt.Sprintf("%d", now.Unix()*1000+int64(i))
		p.Purchases = append(p.Purchases, receipttest.Purchase{
			Quantity:              1,
			ProductID:             id,
			TransactionID:         txID,
			OriginalTransactionID: txID,
			PurchaseDate:          now,
			OriginalPurchaseDate:  now,
		})
	}
	container, err := auth.Signed(p)
	if err != nil {
		return e.fail(1, "forge-receipt: %v", err)
	}
	if err := os.WriteFile(e.cfg.ReceiptPath, container, 0o600); err != nil {
		return e.fail(1, "forge-receipt: %v", err)
	}
	rootPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: auth.RootDER})
	if err := os.WriteFile(e.cfg.RootCertPath, rootPEM, 0o600); err != nil {
		return e.fail(1, "forge-receipt: %v", err)
	}
	_, _ = fmt.Fprintf(e.stdout, "receipt: %s (%d purchases)\nroot: %s\n", e.cfg.ReceiptPath, len(ids), e.cfg.RootCertPath)
	return 0
}

// sandbox runs purchases and an optional restore against the auto sandbox
// and prints the resulting counts.
func (e *env) sandbox(args []string) int {
	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	buy := fs.String("buy", "", "comma-separated products to purchase")
	fail := fs.String("fail", "", "comma-separated products whose payment fails")
	deferred := fs.String("defer", "", "comma-separated products whose payment is deferred")
	restore := fs.Bool("restore", false, "restore purchases after buying")
	restored := fs.String("restored", "", "comma-separated products the store front answers as already owned; they are bought too")
	useReceipt := fs.Bool("verify", false, "gate transactions on the configured receipt")
	timeout := fs.Duration("timeout", 10*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var catalog []platform.Product
	for _, id := range append(append([]string(nil), e.cfg.Consumables...), e.cfg.NonConsumables...) {
		catalog = append(catalog, platform.Product{ID: id, Title: id, Price: "0.99", Currency: "USD"})
	}
	sb := sandbox.New(sandbox.Options{
		Catalog: catalog,
		Auto:    true,
		Logger:  e.logger,
	})
	defer sb.Close()
	for _, id := range config.NormalizeProductIDs(*fail) {
		sb.Script(id, sandbox.Outcome{State: platform.StateFailed})
	}
	for _, id := range config.NormalizeProductIDs(*deferred) {
		sb.Script(id, sandbox.Outcome{State: platform.StateDeferred})
	}
	for _, id := range config.NormalizeProductIDs(*restored) {
		sb.Script(id, sandbox.Outcome{State: platform.StateRestored})
	}

	var rv shop.ReceiptVerifier
	if *useReceipt {
		v, err := e.verifier()
		if err != nil {
			return e.fail(2, "sandbox: %v", err)
		}
		rv = v
	}
	sh, done, err := e.openShop(sb, rv)
	if err != nil {
		return e.fail(2, "%v", err)
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := sh.ProductsLoaded().Wait(ctx); err != nil {
		return e.fail(1, "catalog: %v", err)
	}
	code := 0
	for _, id := range config.NormalizeProductIDs(*buy, *restored) {
		err := sh.Purchase(id).Wait(ctx)
		if err != nil {
			code = 1
			_, _ = fmt.Fprintf(e.stdout, "purchase %s: %v\n", id, err)
			continue
		}
		_, _ = fmt.Fprintf(e.stdout, "purchase %s: ok\n", id)
	}
	if *restore {
		if err := sh.RestorePurchases().Wait(ctx); err != nil {
			code = 1
			_, _ = fmt.Fprintf(e.stdout, "restore: %v\n", err)
		} else {
			_, _ = fmt.Fprintln(e.stdout, "restore: ok")
		}
	}
	for _, id := range sh.ProductIDs() {
		_, _ = fmt.Fprintf(e.stdout, "%s %d\n", id, sh.Count(id))
	}
	return code
}
