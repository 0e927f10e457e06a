package shop

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type OpState uint8

const (
	OpPending OpState = iota
	OpFulfilled
	OpRejected
)

func (s OpState) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpFulfilled:
		return "fulfilled"
	case OpRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Op is a pending operation that resolves exactly once.
type Op struct {
	id   uuid.UUID
	mu   sync.Mutex
	st   OpState
	err  error
	done chan struct{}
}

func newOp() *Op {
	return &Op{id: uuid.New(), done: make(chan struct{})}
}

func rejectedOp(err error) *Op {
	o := newOp()
	o.reject(err)
	return o
}

func fulfilledOp() *Op {
	o := newOp()
	o.fulfill()
	return o
}

func (o *Op) ID() string { return o.id.String() }

func (o *Op) State() OpState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st
}

// Done is closed once the operation is resolved.
func (o *Op) Done() <-chan struct{} { return o.done }

// Err is the rejection error; nil while pending or when fulfilled.
func (o *Op) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Wait blocks until the operation resolves or ctx ends. Abandoning the wait
// does not cancel the operation.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Op) fulfill() bool {
	return o.resolve(OpFulfilled, nil)
}

func (o *Op) reject(err error) bool {
	if err == nil {
		err = ErrTransactionFailed
	}
	return o.resolve(OpRejected, err)
}

// resolve reports false when the operation was already terminal.
func (o *Op) resolve(st OpState, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st != OpPending {
		return false
	}
	o.st = st
	o.err = err
	close(o.done)
	return true
}
