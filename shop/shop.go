// Package shop reconciles store-front transactions with the local
// entitlement store. A Shop owns the pending purchase, restore and refresh
// ledgers; every client command and platform event is serialized through
// one mutex before it touches a ledger or the store.
package shop

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/pipacs/shop/entitlement"
	"github.com/pipacs/shop/platform"
)

// ReceiptVerifier answers whether the local receipt backs a product.
type ReceiptVerifier interface {
	// Available reports whether a local receipt is present.
	Available() bool
	Verify(productID string) bool
}

type Options struct {
	Consumables    []string
	NonConsumables []string
	Store          entitlement.Store
	// KeyPrefix namespaces store keys; empty means entitlement.Domain.
	KeyPrefix string
	Platform  platform.Platform
	// Verifier is optional; without it transactions are trusted.
	Verifier ReceiptVerifier
	Logger   *slog.Logger
}

type Shop struct {
	mu            sync.Mutex
	consumable    map[string]bool
	nonConsumable map[string]bool
	products      map[string]platform.Product

	pendingPurchases map[string]*Op
	pendingRestores  []*Op
	pendingRefreshes []*Op
	pendingCatalog   []*Op

	store    entitlement.Store
	platform platform.Platform
	verifier ReceiptVerifier
	logger   *slog.Logger
	reg      platform.Registration
	initial  *Op
	closed   bool
}

// New registers the shop as the platform observer and requests the catalog
// for every configured product.
func New(opts Options) (*Shop, error) {
	if opts.Store == nil {
		return nil, errors.New("shop: store required")
	}
	if opts.Platform == nil {
		return nil, errors.New("shop: platform required")
	}
	s := &Shop{
		consumable:       make(map[string]bool, len(opts.Consumables)),
		nonConsumable:    make(map[string]bool, len(opts.NonConsumables)),
		products:         make(map[string]platform.Product),
		pendingPurchases: make(map[string]*Op),
		platform:         opts.Platform,
		verifier:         opts.Verifier,
		logger:           opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.store = entitlement.WithPrefix(opts.Store, entitlement.ScopePrefix(opts.KeyPrefix))
	for _, id := range opts.Consumables {
		if id == "" {
			return nil, errors.New("shop: empty product id")
		}
		s.consumable[id] = true
	}
	for _, id := range opts.NonConsumables {
		if id == "" {
			return nil, errors.New("shop: empty product id")
		}
		if s.consumable[id] {
			return nil, errors.New("shop: product " + id + " is both consumable and non-consumable")
		}
		s.nonConsumable[id] = true
	}

	reg, err := opts.Platform.Register(observer{s})
	if err != nil {
		return nil, err
	}
	s.reg = reg
	s.initial = s.RefreshProducts()
	return s, nil
}

// Close detaches the shop from the platform. Operations still pending are
// rejected, since no event can resolve them afterwards; later commands are
// rejected immediately.
func (s *Shop) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	reg := s.reg
	var pending []*Op
	for id, op := range s.pendingPurchases {
		pending = append(pending, op)
		delete(s.pendingPurchases, id)
	}
	pending = append(pending, s.pendingRestores...)
	pending = append(pending, s.pendingRefreshes...)
	pending = append(pending, s.pendingCatalog...)
	s.pendingRestores, s.pendingRefreshes, s.pendingCatalog = nil, nil, nil
	s.mu.Unlock()
	err := reg.Close()
	for _, op := range pending {
		op.reject(errClosed())
	}
	return err
}

func errClosed() error {
	return shopErr(SHOP_ERR_TRANSACTION_FAILED, "shop closed")
}

// ProductsLoaded is the catalog request issued by New.
func (s *Shop) ProductsLoaded() *Op { return s.initial }

// ProductIDs lists every configured product id, sorted.
func (s *Shop) ProductIDs() []string {
	ids := make([]string, 0, len(s.consumable)+len(s.nonConsumable))
	for id := range s.consumable {
		ids = append(ids, id)
	}
	for id := range s.nonConsumable {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsConsumable reports whether id is a configured consumable.
func (s *Shop) IsConsumable(id string) bool { return s.consumable[id] }

// Products returns the known catalog sorted by id.
func (s *Shop) Products() []platform.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]platform.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Shop) Has(productID string) bool {
	return s.Count(productID) > 0
}

func (s *Shop) Count(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(productID)
}

func (s *Shop) countLocked(productID string) int {
	n, err := s.store.Get(productID)
	if err != nil {
		s.logger.Warn("entitlement read failed", "product_id", productID, "error", err)
		return 0
	}
	return n
}

// Purchase starts a payment for productID. The product must be in the known
// catalog and have no live purchase.
func (s *Shop) Purchase(productID string) *Op {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return rejectedOp(errClosed())
	}
	if _, ok := s.products[productID]; !ok {
		s.mu.Unlock()
		s.logger.Warn("purchase of unknown product", "product_id", productID)
		return rejectedOp(shopErr(SHOP_ERR_INVALID_PRODUCT, productID))
	}
	if old, ok := s.pendingPurchases[productID]; ok && old.State() == OpPending {
		s.mu.Unlock()
		s.logger.Warn("purchase already pending", "product_id", productID, "op", old.ID())
		return rejectedOp(shopErr(SHOP_ERR_PURCHASE_PENDING, productID))
	}
	op := newOp()
	s.pendingPurchases[productID] = op
	s.mu.Unlock()

	s.logger.Info("purchase started", "product_id", productID, "op", op.ID())
	if err := s.platform.AddPayment(productID, 1); err != nil {
		s.mu.Lock()
		if s.pendingPurchases[productID] == op {
			delete(s.pendingPurchases, productID)
		}
		s.mu.Unlock()
		op.reject(shopWrap(SHOP_ERR_TRANSACTION_FAILED, "add payment", err))
	}
	return op
}

// Consume decrements a consumable with a positive count.
func (s *Shop) Consume(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.consumable[productID] {
		s.logger.Info("consume of non-consumable product", "product_id", productID)
		return false
	}
	n := s.countLocked(productID)
	if n < 1 {
		s.logger.Info("nothing left to consume", "product_id", productID)
		return false
	}
	if err := s.store.Set(productID, n-1); err != nil {
		s.logger.Warn("entitlement write failed", "product_id", productID, "error", err)
		return false
	}
	return true
}

// RestorePurchases makes sure a local receipt exists, refreshing it if
// needed, then asks the platform to replay completed transactions.
func (s *Shop) RestorePurchases() *Op {
	op := newOp()
	s.logger.Info("restore started", "op", op.ID())
	refresh := s.refreshReceipt()
	if refresh.State() == OpFulfilled {
		s.restore(op)
		return op
	}
	go func() {
		<-refresh.Done()
		if err := refresh.Err(); err != nil {
			s.logger.Warn("restore aborted: receipt refresh failed", "op", op.ID(), "error", err)
			op.reject(err)
			return
		}
		s.restore(op)
	}()
	return op
}

func (s *Shop) refreshReceipt() *Op {
	if s.verifier == nil || s.verifier.Available() {
		return fulfilledOp()
	}
	op := newOp()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.reject(errClosed())
		return op
	}
	s.pendingRefreshes = append(s.pendingRefreshes, op)
	s.mu.Unlock()
	s.logger.Info("receipt refresh requested", "op", op.ID())
	if err := s.platform.RefreshReceipt(); err != nil {
		s.mu.Lock()
		s.pendingRefreshes = without(s.pendingRefreshes, op)
		s.mu.Unlock()
		op.reject(shopWrap(SHOP_ERR_TRANSACTION_FAILED, "refresh receipt", err))
	}
	return op
}

func (s *Shop) restore(op *Op) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.reject(errClosed())
		return
	}
	s.pendingRestores = append(s.pendingRestores, op)
	s.mu.Unlock()
	if err := s.platform.RestoreCompletedTransactions(); err != nil {
		s.mu.Lock()
		s.pendingRestores = without(s.pendingRestores, op)
		s.mu.Unlock()
		op.reject(shopWrap(SHOP_ERR_TRANSACTION_FAILED, "restore completed transactions", err))
	}
}

// RefreshProducts requests the catalog for every configured product.
func (s *Shop) RefreshProducts() *Op {
	op := newOp()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.reject(errClosed())
		return op
	}
	s.pendingCatalog = append(s.pendingCatalog, op)
	s.mu.Unlock()
	if err := s.platform.RequestProducts(s.ProductIDs()); err != nil {
		s.mu.Lock()
		s.pendingCatalog = without(s.pendingCatalog, op)
		s.mu.Unlock()
		op.reject(shopWrap(SHOP_ERR_TRANSACTION_FAILED, "request products", err))
	}
	return op
}

// RemoveAllPurchasesLocally drops every configured entitlement without
// contacting the platform.
func (s *Shop) RemoveAllPurchasesLocally() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, id := range s.ProductIDs() {
		if err := s.store.Delete(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PurchaseAllLocally grants one of every configured product without
// contacting the platform.
func (s *Shop) PurchaseAllLocally() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, id := range s.ProductIDs() {
		if err := s.store.Set(id, 1); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func without(ops []*Op, op *Op) []*Op {
	out := ops[:0]
	for _, o := range ops {
		if o != op {
			out = append(out, o)
		}
	}
	return out
}
