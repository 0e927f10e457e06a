package shop

import (
	"github.com/pipacs/shop/platform"
)

// observer adapts platform events onto the shop.
type observer struct{ s *Shop }

func (o observer) TransactionsUpdated(txs []platform.Transaction) {
	o.s.transactionsUpdated(txs)
}

func (o observer) RestoreFinished() { o.s.restoreFinished() }

func (o observer) RestoreFailed(err error) { o.s.restoreFailed(err) }

func (o observer) ProductsReceived(products []platform.Product, invalidIDs []string) {
	o.s.productsReceived(products, invalidIDs)
}

func (o observer) RequestFailed(kind platform.RequestKind, err error) {
	o.s.requestFailed(kind, err)
}

func (o observer) RequestFinished(kind platform.RequestKind) { o.s.requestFinished(kind) }

func (s *Shop) transactionsUpdated(txs []platform.Transaction) {
	var acks []platform.Transaction
	s.mu.Lock()
	for _, tx := range txs {
		if s.applyLocked(tx) {
			acks = append(acks, tx)
		}
	}
	s.mu.Unlock()
	for _, tx := range acks {
		if err := s.platform.FinishTransaction(tx); err != nil {
			s.logger.Warn("finish transaction failed", "product_id", tx.ProductID, "tx", tx.ID, "error", err)
		}
	}
}

// applyLocked applies one transaction to its pending purchase and reports
// whether the transaction must be acknowledged.
func (s *Shop) applyLocked(tx platform.Transaction) bool {
	id := tx.ProductID
	op, ok := s.pendingPurchases[id]
	if !ok || op.State() != OpPending {
		s.logger.Debug("transaction ignored", "product_id", id, "state", tx.State.String(), "tx", tx.ID)
		return false
	}
	qty := tx.Quantity
	if qty <= 0 {
		qty = 1
	}
	switch tx.State {
	case platform.StatePurchasing:
		s.logger.Info("purchasing", "product_id", id, "tx", tx.ID)
		return false
	case platform.StateDeferred:
		s.logger.Info("deferred", "product_id", id, "tx", tx.ID)
		s.settleLocked(id, op, nil)
		return false
	case platform.StateFailed:
		s.logger.Warn("transaction failed", "product_id", id, "tx", tx.ID, "error", tx.Err)
		err := tx.Err
		if err == nil {
			err = shopErr(SHOP_ERR_TRANSACTION_FAILED, id)
		}
		s.settleLocked(id, op, err)
	case platform.StatePurchased:
		if !s.receiptBacks(id) {
			s.settleLocked(id, op, shopErr(SHOP_ERR_RECEIPT_INVALID, id))
			break
		}
		n := 1
		if !s.nonConsumable[id] {
			n = s.countLocked(id) + qty
		}
		if err := s.setLocked(id, n); err != nil {
			s.settleLocked(id, op, err)
			break
		}
		s.settleLocked(id, op, nil)
		s.logger.Info("purchased", "product_id", id, "tx", tx.ID, "count", n)
	case platform.StateRestored:
		if !s.receiptBacks(id) {
			if err := s.store.Set(id, 0); err != nil {
				s.logger.Warn("entitlement write failed", "product_id", id, "error", err)
			}
			s.settleLocked(id, op, shopErr(SHOP_ERR_RECEIPT_INVALID, id))
			break
		}
		if err := s.setLocked(id, qty); err != nil {
			s.settleLocked(id, op, err)
			break
		}
		s.settleLocked(id, op, nil)
		s.logger.Info("restored", "product_id", id, "tx", tx.ID, "count", qty)
	default:
		s.logger.Warn("unknown transaction state", "product_id", id, "state", tx.State.String())
		return false
	}
	return true
}

func (s *Shop) receiptBacks(productID string) bool {
	if s.verifier == nil {
		return true
	}
	if s.verifier.Verify(productID) {
		return true
	}
	s.logger.Warn("receipt does not back transaction", "product_id", productID)
	return false
}

func (s *Shop) setLocked(productID string, n int) error {
	if err := s.store.Set(productID, n); err != nil {
		return shopWrap(SHOP_ERR_TRANSACTION_FAILED, "update entitlement", err)
	}
	return nil
}

// settleLocked resolves op and retires its ledger entry.
func (s *Shop) settleLocked(productID string, op *Op, err error) {
	if err != nil {
		op.reject(err)
	} else {
		op.fulfill()
	}
	if s.pendingPurchases[productID] == op {
		delete(s.pendingPurchases, productID)
	}
}

func (s *Shop) restoreFinished() {
	s.mu.Lock()
	ops := s.pendingRestores
	s.pendingRestores = nil
	s.mu.Unlock()
	s.logger.Info("restore finished", "pending", len(ops))
	for _, op := range ops {
		op.fulfill()
	}
}

func (s *Shop) restoreFailed(err error) {
	if err == nil {
		err = shopErr(SHOP_ERR_TRANSACTION_FAILED, "restore")
	}
	s.mu.Lock()
	ops := s.pendingRestores
	s.pendingRestores = nil
	s.mu.Unlock()
	s.logger.Warn("restore failed", "pending", len(ops), "error", err)
	for _, op := range ops {
		op.reject(err)
	}
}

func (s *Shop) productsReceived(products []platform.Product, invalidIDs []string) {
	s.mu.Lock()
	for _, p := range products {
		s.logger.Info("valid product", "product_id", p.ID)
		s.products[p.ID] = p
	}
	ops := s.pendingCatalog
	s.pendingCatalog = nil
	s.mu.Unlock()
	for _, id := range invalidIDs {
		s.logger.Warn("invalid product", "product_id", id)
	}
	for _, op := range ops {
		op.fulfill()
	}
}

func (s *Shop) requestFailed(kind platform.RequestKind, err error) {
	if err == nil {
		err = shopErr(SHOP_ERR_TRANSACTION_FAILED, kind.String()+" request")
	}
	s.logger.Warn("request failed", "kind", kind.String(), "error", err)
	var ops []*Op
	s.mu.Lock()
	switch kind {
	case platform.RequestProducts:
		clear(s.products)
		ops = s.pendingCatalog
		s.pendingCatalog = nil
	case platform.RequestReceiptRefresh:
		ops = s.pendingRefreshes
		s.pendingRefreshes = nil
	}
	s.mu.Unlock()
	for _, op := range ops {
		op.reject(err)
	}
}

func (s *Shop) requestFinished(kind platform.RequestKind) {
	var ops []*Op
	s.mu.Lock()
	switch kind {
	case platform.RequestProducts:
		ops = s.pendingCatalog
		s.pendingCatalog = nil
	case platform.RequestReceiptRefresh:
		ops = s.pendingRefreshes
		s.pendingRefreshes = nil
	}
	s.mu.Unlock()
	s.logger.Debug("request finished", "kind", kind.String(), "pending", len(ops))
	for _, op := range ops {
		op.fulfill()
	}
}
