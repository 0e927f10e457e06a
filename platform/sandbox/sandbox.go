// Package sandbox is an in-memory store front. In manual mode commands are
// only recorded and tests inject events; in auto mode every command is
// answered with scripted events on a dispatcher goroutine.
package sandbox

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pipacs/shop/platform"
)

var ErrClosed = errors.New("sandbox: closed")

// Outcome scripts the final state of the next payment for a product.
type Outcome struct {
	State platform.TransactionState
	Err   error
}

type Options struct {
	Catalog []platform.Product
	// Auto answers commands with events instead of waiting for injection.
	Auto bool
	// OnRefresh runs when a receipt refresh is requested in auto mode. A
	// non-nil error is reported as a failed request.
	OnRefresh func() error
	Logger    *slog.Logger
}

// Call is a recorded command.
type Call struct {
	Command    string
	ProductID  string
	Quantity   int
	ProductIDs []string
	TxID       string
}

type Sandbox struct {
	mu        sync.Mutex
	opts      Options
	catalog   map[string]platform.Product
	observers map[uint64]platform.Observer
	nextObs   uint64
	outcomes  map[string][]Outcome
	restErr   error
	prodErr   error
	calls     []Call
	finished  []platform.Transaction
	closed    bool

	qmu     sync.Mutex
	idle    *sync.Cond
	queue   []func()
	pending int
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

func New(opts Options) *Sandbox {
	s := &Sandbox{
		opts:      opts,
		catalog:   make(map[string]platform.Product, len(opts.Catalog)),
		observers: make(map[uint64]platform.Observer),
		outcomes:  make(map[string][]Outcome),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.idle = sync.NewCond(&s.qmu)
	for _, p := range opts.Catalog {
		s.catalog[p.ID] = p
	}
	go s.dispatch()
	return s
}

// Close stops the dispatcher after delivering queued events.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.Flush()
	close(s.stop)
	<-s.stopped
	return nil
}

// Flush waits until every queued event has been delivered.
func (s *Sandbox) Flush() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	for s.pending > 0 {
		s.idle.Wait()
	}
}

// Script queues outcomes for the next payments of productID.
func (s *Sandbox) Script(productID string, outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[productID] = append(s.outcomes[productID], outcomes...)
}

// FailRestores makes auto mode restores fail with err (nil clears it).
func (s *Sandbox) FailRestores(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restErr = err
}

// FailProducts makes auto mode products requests fail with err (nil clears it).
func (s *Sandbox) FailProducts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prodErr = err
}

// Calls returns the recorded commands.
func (s *Sandbox) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf returns the recorded commands named cmd.
func (s *Sandbox) CallsOf(cmd string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Command == cmd {
			out = append(out, c)
		}
	}
	return out
}

// Finished returns the acknowledged transactions.
func (s *Sandbox) Finished() []platform.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]platform.Transaction(nil), s.finished...)
}

// Observers reports how many observers are registered.
func (s *Sandbox) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

type registration struct {
	s    *Sandbox
	id   uint64
	once sync.Once
}

func (r *registration) Close() error {
	r.once.Do(func() {
		r.s.mu.Lock()
		delete(r.s.observers, r.id)
		r.s.mu.Unlock()
	})
	return nil
}

func (s *Sandbox) Register(o platform.Observer) (platform.Registration, error) {
	if o == nil {
		return nil, errors.New("sandbox: nil observer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.nextObs++
	s.observers[s.nextObs] = o
	return &registration{s: s, id: s.nextObs}, nil
}

func (s *Sandbox) record(c Call) (Options, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Options{}, ErrClosed
	}
	s.calls = append(s.calls, c)
	s.logger.Debug("sandbox command", "command", c.Command, "product_id", c.ProductID)
	return s.opts, nil
}

func (s *Sandbox) AddPayment(productID string, quantity int) error {
	opts, err := s.record(Call{Command: "add_payment", ProductID: productID, Quantity: quantity})
	if err != nil {
		return err
	}
	if !opts.Auto {
		return nil
	}
	out := s.nextOutcome(productID)
	id := uuid.NewString()
	final := platform.Transaction{ID: id, ProductID: productID, State: out.State, Quantity: quantity, Err: out.Err}
	s.enqueue(func() {
		s.deliver(func(o platform.Observer) {
			o.TransactionsUpdated([]platform.Transaction{{ID: id, ProductID: productID, State: platform.StatePurchasing, Quantity: quantity}})
		})
	})
	s.enqueue(func() {
		s.deliver(func(o platform.Observer) { o.TransactionsUpdated([]platform.Transaction{final}) })
	})
	return nil
}

func (s *Sandbox) nextOutcome(productID string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.outcomes[productID]
	if len(q) == 0 {
		return Outcome{State: platform.StatePurchased}
	}
	s.outcomes[productID] = q[1:]
	return q[0]
}

func (s *Sandbox) FinishTransaction(tx platform.Transaction) error {
	if _, err := s.record(Call{Command: "finish_transaction", ProductID: tx.ProductID, TxID: tx.ID}); err != nil {
		return err
	}
	s.mu.Lock()
	s.finished = append(s.finished, tx)
	s.mu.Unlock()
	return nil
}

func (s *Sandbox) RestoreCompletedTransactions() error {
	opts, err := s.record(Call{Command: "restore"})
	if err != nil {
		return err
	}
	if !opts.Auto {
		return nil
	}
	s.mu.Lock()
	restErr := s.restErr
	s.mu.Unlock()
	if restErr != nil {
		s.enqueue(func() { s.deliver(func(o platform.Observer) { o.RestoreFailed(restErr) }) })
		return nil
	}
	s.enqueue(func() { s.deliver(func(o platform.Observer) { o.RestoreFinished() }) })
	return nil
}

func (s *Sandbox) RequestProducts(productIDs []string) error {
	opts, err := s.record(Call{Command: "request_products", ProductIDs: append([]string(nil), productIDs...)})
	if err != nil {
		return err
	}
	if !opts.Auto {
		return nil
	}
	s.mu.Lock()
	prodErr := s.prodErr
	s.mu.Unlock()
	if prodErr != nil {
		s.enqueue(func() { s.deliver(func(o platform.Observer) { o.RequestFailed(platform.RequestProducts, prodErr) }) })
		return nil
	}
	products, invalid := s.Lookup(productIDs)
	s.enqueue(func() {
		s.deliver(func(o platform.Observer) {
			o.ProductsReceived(products, invalid)
			o.RequestFinished(platform.RequestProducts)
		})
	})
	return nil
}

// Lookup splits productIDs into catalog products and unknown ids.
func (s *Sandbox) Lookup(productIDs []string) ([]platform.Product, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var products []platform.Product
	var invalid []string
	for _, id := range productIDs {
		if p, ok := s.catalog[id]; ok {
			products = append(products, p)
		} else {
			invalid = append(invalid, id)
		}
	}
	return products, invalid
}

func (s *Sandbox) RefreshReceipt() error {
	opts, err := s.record(Call{Command: "refresh_receipt"})
	if err != nil {
		return err
	}
	if !opts.Auto {
		return nil
	}
	s.enqueue(func() {
		var err error
		if opts.OnRefresh != nil {
			err = opts.OnRefresh()
		}
		if err != nil {
			s.deliver(func(o platform.Observer) { o.RequestFailed(platform.RequestReceiptRefresh, err) })
			return
		}
		s.deliver(func(o platform.Observer) { o.RequestFinished(platform.RequestReceiptRefresh) })
	})
	return nil
}

// Tx builds a transaction with a fresh identifier.
func Tx(productID string, state platform.TransactionState, quantity int) platform.Transaction {
	return platform.Transaction{ID: uuid.NewString(), ProductID: productID, State: state, Quantity: quantity}
}

// The methods below inject events synchronously on the calling goroutine.

func (s *Sandbox) UpdateTransactions(txs ...platform.Transaction) {
	s.deliver(func(o platform.Observer) { o.TransactionsUpdated(txs) })
}

func (s *Sandbox) FinishRestore() {
	s.deliver(func(o platform.Observer) { o.RestoreFinished() })
}

func (s *Sandbox) FailRestore(err error) {
	s.deliver(func(o platform.Observer) { o.RestoreFailed(err) })
}

// ReceiveProducts answers a products request from the catalog.
func (s *Sandbox) ReceiveProducts(productIDs ...string) {
	products, invalid := s.Lookup(productIDs)
	s.deliver(func(o platform.Observer) { o.ProductsReceived(products, invalid) })
}

func (s *Sandbox) FailRequest(kind platform.RequestKind, err error) {
	s.deliver(func(o platform.Observer) { o.RequestFailed(kind, err) })
}

func (s *Sandbox) FinishRequest(kind platform.RequestKind) {
	s.deliver(func(o platform.Observer) { o.RequestFinished(kind) })
}

func (s *Sandbox) deliver(fn func(platform.Observer)) {
	s.mu.Lock()
	obs := make([]platform.Observer, 0, len(s.observers))
	for _, o := range s.observers {
		obs = append(obs, o)
	}
	s.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

func (s *Sandbox) enqueue(fn func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.pending++
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sandbox) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			fn()
			s.qmu.Lock()
			s.pending--
			if s.pending == 0 {
				s.idle.Broadcast()
			}
			s.qmu.Unlock()
		}
	}
}
