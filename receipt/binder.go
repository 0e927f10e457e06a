package receipt

import (
	"crypto/sha1" // #nosec G505 -- the receipt format fixes SHA-1 for the device binding digest.
	"crypto/subtle"
)

const (
	DeviceIDSize = 16
	HashSize     = sha1.Size
)

// DeviceHash computes SHA1(deviceID || opaque || bundleIDRaw).
func DeviceHash(deviceID, opaque, bundleIDRaw []byte) [HashSize]byte {
	h := sha1.New() // #nosec G401
	_, _ = h.Write(deviceID)
	_, _ = h.Write(opaque)
	_, _ = h.Write(bundleIDRaw)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// checkBinding is the validity gate: the bundle identifier must match and the
// recomputed device digest must equal the embedded hash.
func (r *Receipt) checkBinding(bundleID string, deviceID []byte) error {
	switch {
	case r.BundleIDRaw == nil || r.BundleID == "":
		return rerr(RECEIPT_ERR_MISSING_FIELD, "bundle identifier")
	case r.Opaque == nil:
		return rerr(RECEIPT_ERR_MISSING_FIELD, "opaque value")
	case r.Hash == nil:
		return rerr(RECEIPT_ERR_MISSING_FIELD, "hash")
	}
	if r.BundleID != bundleID {
		return rerr(RECEIPT_ERR_BUNDLE_MISMATCH, "got "+r.BundleID)
	}
	if len(deviceID) != DeviceIDSize {
		return rerr(RECEIPT_ERR_DEVICE_ID, "device identifier must be 16 bytes")
	}
	sum := DeviceHash(deviceID, r.Opaque, r.BundleIDRaw)
	if len(r.Hash) != HashSize || subtle.ConstantTimeCompare(sum[:], r.Hash) != 1 {
		return rerr(RECEIPT_ERR_HASH_MISMATCH, "device hash does not match")
	}
	return nil
}
