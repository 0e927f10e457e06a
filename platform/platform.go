// Package platform describes the store-front collaborator the reconciler
// drives: the commands it issues and the events it observes.
package platform

import "fmt"

type TransactionState uint8

const (
	StatePurchasing TransactionState = iota
	StatePurchased
	StateFailed
	StateRestored
	StateDeferred
)

func (s TransactionState) String() string {
	switch s {
	case StatePurchasing:
		return "purchasing"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	case StateDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState is the inverse of TransactionState.String.
func ParseState(s string) (TransactionState, error) {
	for st := StatePurchasing; st <= StateDeferred; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction state %q", s)
}

type Transaction struct {
	ID        string
	ProductID string
	State     TransactionState
	// Quantity is 0 when the platform does not report one.
	Quantity int
	// Err is set on failed transactions when the platform supplies a reason.
	Err error
}

// Product is a catalog entry returned by a products request.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Currency    string `json:"currency,omitempty"`
}

type RequestKind uint8

const (
	RequestProducts RequestKind = iota
	RequestReceiptRefresh
)

func (k RequestKind) String() string {
	switch k {
	case RequestProducts:
		return "products"
	case RequestReceiptRefresh:
		return "receipt_refresh"
	default:
		return fmt.Sprintf("request(%d)", uint8(k))
	}
}

// Observer receives platform events. Calls may arrive on any goroutine.
type Observer interface {
	TransactionsUpdated(txs []Transaction)
	RestoreFinished()
	RestoreFailed(err error)
	ProductsReceived(products []Product, invalidIDs []string)
	RequestFailed(kind RequestKind, err error)
	RequestFinished(kind RequestKind)
}

// Registration is the handle returned by Register. Close detaches the
// observer; further events are not delivered to it.
type Registration interface {
	Close() error
}

// Platform is the command side of the store front. Commands return once the
// request is queued; outcomes arrive as Observer events.
type Platform interface {
	Register(o Observer) (Registration, error)
	AddPayment(productID string, quantity int) error
	FinishTransaction(tx Transaction) error
	RestoreCompletedTransactions() error
	RequestProducts(productIDs []string) error
	RefreshReceipt() error
}
