package receipt

import (
	"errors"
	"time"

	"github.com/pipacs/shop/der"
)

// Purchase record attribute codes.
const (
	attrQuantity               = 1701
	attrProductID              = 1702
	attrTransactionID          = 1703
	attrPurchaseDate           = 1704
	attrOriginalTransactionID  = 1705
	attrOriginalPurchaseDate   = 1706
	attrSubscriptionExpiration = 1708
	attrWebOrderLineItemID     = 1711
	attrCancellationDate       = 1712
)

// PurchaseRecord is one in-app purchase entry of a receipt.
type PurchaseRecord struct {
	Quantity               int        `json:"quantity"`
	ProductID              string     `json:"product_id"`
	TransactionID          string     `json:"transaction_id"`
	OriginalTransactionID  string     `json:"original_transaction_id"`
	PurchaseDate           time.Time  `json:"purchase_date"`
	OriginalPurchaseDate   time.Time  `json:"original_purchase_date"`
	SubscriptionExpiration *time.Time `json:"subscription_expiration,omitempty"`
	Cancellation           *time.Time `json:"cancellation,omitempty"`
	WebOrderLineItemID     *int64     `json:"web_order_line_item_id,omitempty"`
}

// decodePurchase decodes the nested SET of a type 17 attribute. Members
// that fail to decode are skipped; the first such error is returned along
// with everything that did decode.
func decodePurchase(b []byte) (PurchaseRecord, error) {
	var p PurchaseRecord
	var firstErr error
	note := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	err := walkAttributes(b, func(a attribute) {
		if err := p.apply(a); err != nil {
			note(err)
		}
	}, func(_ int, err error) { note(err) })
	if err != nil {
		return p, err
	}
	return p, firstErr
}

func (p *PurchaseRecord) apply(a attribute) error {
	switch a.Type {
	case attrQuantity:
		n, err := nestedInt(a.Value)
		if err != nil {
			return err
		}
		if n < 0 || n > int64(^uint32(0)>>1) {
			return &der.Error{Code: der.DER_ERR_MALFORMED, Msg: "quantity out of range", Offset: a.Offset}
		}
		p.Quantity = int(n)
	case attrProductID:
		return setString(&p.ProductID, a.Value)
	case attrTransactionID:
		return setString(&p.TransactionID, a.Value)
	case attrOriginalTransactionID:
		return setString(&p.OriginalTransactionID, a.Value)
	case attrPurchaseDate:
		return setTime(&p.PurchaseDate, a.Value)
	case attrOriginalPurchaseDate:
		return setTime(&p.OriginalPurchaseDate, a.Value)
	case attrSubscriptionExpiration:
		t, err := nestedDate(a.Value)
		if err != nil {
			return err
		}
		p.SubscriptionExpiration = t
	case attrCancellationDate:
		t, err := nestedDate(a.Value)
		if err != nil {
			return err
		}
		p.Cancellation = t
	case attrWebOrderLineItemID:
		n, err := nestedInt(a.Value)
		if err != nil {
			return err
		}
		p.WebOrderLineItemID = &n
	}
	return nil
}

func setString(dst *string, b []byte) error {
	s, err := nestedString(b)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func setTime(dst *time.Time, b []byte) error {
	t, err := nestedDate(b)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.New("empty date")
	}
	*dst = *t
	return nil
}
