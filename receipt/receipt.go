// Package receipt decodes and authenticates device-bound App Store style
// receipts: a PKCS#7 signed container whose payload is a SET of
// (type, version, OCTET STRING) attribute sequences.
package receipt

import (
	"log/slog"
	"time"
)

// Receipt is only ever returned by Parse after the envelope signature, the
// bundle identifier and the device hash have all been checked.
type Receipt struct {
	BundleID      string           `json:"bundle_id"`
	BundleIDRaw   []byte           `json:"bundle_id_raw"`
	BundleVersion string           `json:"bundle_version"`
	Opaque        []byte           `json:"opaque"`
	Hash          []byte           `json:"hash"`
	Expiration    *time.Time       `json:"expiration,omitempty"`
	Purchases     []PurchaseRecord `json:"purchases"`
}

// ContainsProduct reports whether any purchase record names productID.
func (r *Receipt) ContainsProduct(productID string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Purchases {
		if p.ProductID == productID {
			return true
		}
	}
	return false
}

// Params are the trust inputs for Parse.
type Params struct {
	// RootCert is the DER encoded trusted root certificate.
	RootCert []byte
	// BundleID is the expected application identifier.
	BundleID string
	// DeviceID is the 16 byte per-install identifier.
	DeviceID []byte
	Logger   *slog.Logger
}

// Parse verifies container against p and returns the decoded receipt. Any
// failure yields a nil receipt.
func Parse(container []byte, p Params) (*Receipt, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(p.DeviceID) != DeviceIDSize {
		return nil, rerr(RECEIPT_ERR_DEVICE_ID, "device identifier must be 16 bytes")
	}
	payload, err := VerifyEnvelope(container, p.RootCert)
	if err != nil {
		return nil, err
	}
	candidate, err := extract(payload, logger)
	if err != nil {
		return nil, err
	}
	if err := candidate.checkBinding(p.BundleID, p.DeviceID); err != nil {
		return nil, err
	}
	return candidate, nil
}
