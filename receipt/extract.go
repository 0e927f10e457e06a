package receipt

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipacs/shop/der"
)

// Receipt attribute codes.
const (
	attrBundleID      = 2
	attrBundleVersion = 3
	attrOpaque        = 4
	attrHash          = 5
	attrPurchase      = 17
	attrExpiration    = 21
)

const dateLayout = "2006-01-02T15:04:05Z"

type attribute struct {
	Type    int64
	Version int64
	// Value is the OCTET STRING content; it aliases the payload.
	Value  []byte
	Offset int
}

// readAttribute decodes e as SEQUENCE { INTEGER type, INTEGER version,
// OCTET STRING value }.
func readAttribute(set *der.Reader, e der.Element) (attribute, error) {
	if !e.Is(der.TagSequence) || !e.Constructed {
		return attribute{}, &der.Error{Code: der.DER_ERR_MALFORMED, Msg: fmt.Sprintf("expected SEQUENCE, got class %d tag %d", e.Class, e.Tag), Offset: e.Offset}
	}
	seq := set.Sub(e)
	typ, err := seq.ReadInt()
	if err != nil {
		return attribute{}, err
	}
	ver, err := seq.ReadInt()
	if err != nil {
		return attribute{}, err
	}
	val, err := seq.ReadOctets()
	if err != nil {
		return attribute{}, err
	}
	if !seq.Empty() {
		return attribute{}, &der.Error{Code: der.DER_ERR_MALFORMED, Msg: "trailing data in attribute", Offset: seq.Offset()}
	}
	return attribute{Type: typ, Version: ver, Value: val, Offset: e.Offset}, nil
}

// walkAttributes iterates the outer SET of payload. A member that does not
// decode as an attribute triple goes to skip and the walk moves on to the
// next member. Only a broken SET header or member framing that cannot be
// stepped over stops the walk.
func walkAttributes(payload []byte, fn func(attribute), skip func(off int, err error)) error {
	r := der.NewReader(payload)
	set, err := r.Enter(der.TagSet)
	if err != nil {
		return err
	}
	for !set.Empty() {
		e, err := set.ReadElement()
		if err != nil {
			return err
		}
		a, err := readAttribute(set, e)
		if err != nil {
			skip(e.Offset, err)
			continue
		}
		fn(a)
	}
	return nil
}

// extract walks payload into a receipt candidate. Broken or undecodable
// attributes are left out; the binding check decides whether what remains
// is usable.
func extract(payload []byte, logger *slog.Logger) (*Receipt, error) {
	rc := &Receipt{}
	err := walkAttributes(payload, func(a attribute) {
		if err := rc.apply(a); err != nil {
			logger.Debug("receipt attribute skipped", "type", a.Type, "offset", a.Offset, "error", err)
		}
	}, func(off int, err error) {
		logger.Debug("receipt attribute skipped", "offset", off, "error", err)
	})
	if err != nil {
		return nil, rwrap(RECEIPT_ERR_MALFORMED, "receipt payload", err)
	}
	return rc, nil
}

func (rc *Receipt) apply(a attribute) error {
	switch a.Type {
	case attrBundleID:
		rc.BundleIDRaw = bytes.Clone(a.Value)
		s, err := nestedString(a.Value)
		if err != nil {
			return err
		}
		rc.BundleID = s
	case attrBundleVersion:
		s, err := nestedString(a.Value)
		if err != nil {
			return err
		}
		rc.BundleVersion = s
	case attrOpaque:
		rc.Opaque = bytes.Clone(a.Value)
	case attrHash:
		rc.Hash = bytes.Clone(a.Value)
	case attrPurchase:
		p, err := decodePurchase(a.Value)
		rc.Purchases = append(rc.Purchases, p)
		if err != nil {
			return err
		}
	case attrExpiration:
		t, err := nestedDate(a.Value)
		if err != nil {
			return err
		}
		rc.Expiration = t
	}
	return nil
}

func nestedString(b []byte) (string, error) {
	return der.NewReader(b).ReadString()
}

func nestedInt(b []byte) (int64, error) {
	return der.NewReader(b).ReadInt()
}

// nestedDate parses a nested string date; an empty string means absent.
func nestedDate(b []byte) (*time.Time, error) {
	s, err := nestedString(b)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
