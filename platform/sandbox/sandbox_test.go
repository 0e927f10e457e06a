package sandbox

import (
	"errors"
	"sync"
	"testing"

	"github.com/pipacs/shop/platform"
)

type recorder struct {
	mu       sync.Mutex
	txs      []platform.Transaction
	restored int
	failed   []error
	products []platform.Product
	invalid  []string
	reqFail  []platform.RequestKind
	reqDone  []platform.RequestKind
}

func (r *recorder) TransactionsUpdated(txs []platform.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, txs...)
}

func (r *recorder) RestoreFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored++
}

func (r *recorder) RestoreFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) ProductsReceived(products []platform.Product, invalid []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products = append(r.products, products...)
	r.invalid = append(r.invalid, invalid...)
}

func (r *recorder) RequestFailed(kind platform.RequestKind, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqFail = append(r.reqFail, kind)
}

func (r *recorder) RequestFinished(kind platform.RequestKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqDone = append(r.reqDone, kind)
}

var catalog = []platform.Product{
	{ID: "foo", Title: "Foo", Price: "0.99"},
	{ID: "bar", Title: "Bar", Price: "1.99"},
}

func TestSandbox_AutoPayment(t *testing.T) {
	s := New(Options{Catalog: catalog, Auto: true})
	defer s.Close()
	r := &recorder{}
	if _, err := s.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	boom := errors.New("card declined")
	s.Script("bar", Outcome{State: platform.StateFailed, Err: boom})

	if err := s.AddPayment("foo", 2); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if err := s.AddPayment("bar", 1); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	s.Flush()

	if len(r.txs) != 4 {
		t.Fatalf("txs=%d, want 4", len(r.txs))
	}
	if r.txs[0].State != platform.StatePurchasing || r.txs[1].State != platform.StatePurchased || r.txs[1].Quantity != 2 {
		t.Fatalf("foo sequence: %+v", r.txs[:2])
	}
	if r.txs[0].ID != r.txs[1].ID || r.txs[0].ID == "" {
		t.Fatalf("transaction ids: %q %q", r.txs[0].ID, r.txs[1].ID)
	}
	if r.txs[3].State != platform.StateFailed || !errors.Is(r.txs[3].Err, boom) {
		t.Fatalf("bar outcome: %+v", r.txs[3])
	}
	if got := len(s.CallsOf("add_payment")); got != 2 {
		t.Fatalf("add_payment calls=%d", got)
	}
}

func TestSandbox_AutoRestoreProductsRefresh(t *testing.T) {
	refreshed := 0
	s := New(Options{
		Catalog:   catalog,
		Auto:      true,
		OnRefresh: func() error { refreshed++; return nil },
	})
	defer s.Close()
	r := &recorder{}
	_, _ = s.Register(r)

	_ = s.RestoreCompletedTransactions()
	_ = s.RequestProducts([]string{"foo", "nope"})
	_ = s.RefreshReceipt()
	s.Flush()

	if len(r.txs) != 0 {
		t.Fatalf("restore txs: %+v", r.txs)
	}
	if r.restored != 1 {
		t.Fatalf("restored=%d", r.restored)
	}
	if len(r.products) != 1 || r.products[0].ID != "foo" || len(r.invalid) != 1 || r.invalid[0] != "nope" {
		t.Fatalf("products=%+v invalid=%v", r.products, r.invalid)
	}
	if refreshed != 1 || len(r.reqDone) != 2 {
		t.Fatalf("refreshed=%d reqDone=%v", refreshed, r.reqDone)
	}

	s.FailRestores(errors.New("offline"))
	s.FailProducts(errors.New("offline"))
	_ = s.RestoreCompletedTransactions()
	_ = s.RequestProducts([]string{"foo"})
	s.Flush()
	if len(r.failed) != 1 || len(r.reqFail) != 1 || r.reqFail[0] != platform.RequestProducts {
		t.Fatalf("failed=%v reqFail=%v", r.failed, r.reqFail)
	}
}

func TestSandbox_ManualAndRegistration(t *testing.T) {
	s := New(Options{Catalog: catalog})
	r := &recorder{}
	reg, err := s.Register(r)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.AddPayment("foo", 1); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	s.Flush()
	if len(r.txs) != 0 {
		t.Fatalf("manual mode must not answer commands")
	}
	s.UpdateTransactions(Tx("foo", platform.StatePurchased, 1))
	s.ReceiveProducts("bar")
	s.FinishRequest(platform.RequestReceiptRefresh)
	if len(r.txs) != 1 || len(r.products) != 1 || len(r.reqDone) != 1 {
		t.Fatalf("injected events not delivered: %+v", r)
	}

	tx := r.txs[0]
	_ = s.FinishTransaction(tx)
	if f := s.Finished(); len(f) != 1 || f[0].ID != tx.ID {
		t.Fatalf("finished=%+v", f)
	}

	if s.Observers() != 1 {
		t.Fatalf("observers=%d", s.Observers())
	}
	_ = reg.Close()
	_ = reg.Close()
	if s.Observers() != 0 {
		t.Fatalf("observer not removed")
	}
	s.FinishRestore()
	if r.restored != 0 {
		t.Fatalf("event delivered after unregister")
	}

	_ = s.Close()
	if err := s.AddPayment("foo", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close: err=%v", err)
	}
	if _, err := s.Register(r); !errors.Is(err, ErrClosed) {
		t.Fatalf("register after close: err=%v", err)
	}
}
