package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/pipacs/shop/receipt/receipttest"
)

const testBundleID = "com.example.shop"

var testDevice = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

func newAuthority(t *testing.T) *receipttest.Authority {
	t.Helper()
	a, err := receipttest.NewAuthority("Test")
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a
}

func basePayload() receipttest.Payload {
	purchased := time.Date(2018, 5, 15, 10, 30, 0, 0, time.UTC)
	expires := time.Date(2019, 5, 15, 10, 30, 0, 0, time.UTC)
	return receipttest.Payload{
		BundleID:      testBundleID,
		BundleVersion: "1.2.3",
		Opaque:        []byte("opaque-salt-value"),
		DeviceID:      testDevice,
		Purchases: []receipttest.Purchase{
			{
				Quantity:               1,
				ProductID:              "foo",
				TransactionID:          "1000000001",
				OriginalTransactionID:  "1000000000",
				PurchaseDate:           purchased,
				OriginalPurchaseDate:   purchased.Add(-time.Hour),
				SubscriptionExpiration: &expires,
				WebOrderLineItemID:     1000000042,
			},
			{
				Quantity:              3,
				ProductID:             "coins",
				TransactionID:         "1000000002",
				OriginalTransactionID: "1000000002",
				PurchaseDate:          purchased,
				OriginalPurchaseDate:  purchased,
			},
		},
	}
}

func signedFixture(t *testing.T, a *receipttest.Authority, p receipttest.Payload) []byte {
	t.Helper()
	b, err := a.Signed(p)
	if err != nil {
		t.Fatalf("Signed: %v", err)
	}
	return b
}

func params(a *receipttest.Authority) Params {
	return Params{RootCert: a.RootDER, BundleID: testBundleID, DeviceID: testDevice}
}

func mustCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := CodeOf(err); got != want {
		t.Fatalf("code=%s, want %s (err=%v)", got, want, err)
	}
}

func TestError_Formatting(t *testing.T) {
	var e *Error
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("nil receiver: %q", got)
	}
	e = &Error{Code: RECEIPT_ERR_HASH_MISMATCH}
	if got := e.Error(); got != "RECEIPT_ERR_HASH_MISMATCH" {
		t.Fatalf("empty msg: %q", got)
	}
	e = &Error{Code: RECEIPT_ERR_MALFORMED, Msg: "payload", Err: bytes.ErrTooLarge}
	if got := e.Error(); got != "RECEIPT_ERR_MALFORMED: payload: bytes.Buffer: too large" {
		t.Fatalf("wrapped: %q", got)
	}
	if CodeOf(nil) != "" {
		t.Fatalf("CodeOf(nil) must be empty")
	}
}

func TestParse_ValidReceipt(t *testing.T) {
	a := newAuthority(t)
	p := basePayload()
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Expiration = &exp

	r, err := Parse(signedFixture(t, a, p), params(a))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !r.ContainsProduct("foo") || !r.ContainsProduct("coins") {
		t.Fatalf("expected foo and coins in %+v", r.Purchases)
	}
	if r.ContainsProduct("bar") {
		t.Fatalf("bar must not be contained")
	}
	if r.BundleID != testBundleID || r.BundleVersion != "1.2.3" {
		t.Fatalf("bundle fields: id=%q version=%q", r.BundleID, r.BundleVersion)
	}
	if !bytes.Equal(r.BundleIDRaw, p.BundleIDRaw()) {
		t.Fatalf("raw bundle id mismatch")
	}
	if r.Expiration == nil || !r.Expiration.Equal(exp) {
		t.Fatalf("expiration=%v, want %v", r.Expiration, exp)
	}
	if len(r.Purchases) != 2 {
		t.Fatalf("purchases=%d, want 2", len(r.Purchases))
	}
	foo := r.Purchases[0]
	want := p.Purchases[0]
	if foo.Quantity != 1 || foo.TransactionID != want.TransactionID || foo.OriginalTransactionID != want.OriginalTransactionID {
		t.Fatalf("foo record mismatch: %+v", foo)
	}
	if !foo.PurchaseDate.Equal(want.PurchaseDate) || !foo.OriginalPurchaseDate.Equal(want.OriginalPurchaseDate) {
		t.Fatalf("foo dates mismatch: %+v", foo)
	}
	if foo.SubscriptionExpiration == nil || !foo.SubscriptionExpiration.Equal(*want.SubscriptionExpiration) {
		t.Fatalf("subscription expiration=%v", foo.SubscriptionExpiration)
	}
	if foo.WebOrderLineItemID == nil || *foo.WebOrderLineItemID != 1000000042 {
		t.Fatalf("web order line item id=%v", foo.WebOrderLineItemID)
	}
	if foo.Cancellation != nil {
		t.Fatalf("cancellation must be absent")
	}
	if r.Purchases[1].Quantity != 3 || r.Purchases[1].WebOrderLineItemID != nil {
		t.Fatalf("coins record mismatch: %+v", r.Purchases[1])
	}
}

func TestParse_MalformedTrailingAttributeKeepsReceipt(t *testing.T) {
	a := newAuthority(t)
	p := basePayload()
	// SEQUENCE { INTEGER 19, INTEGER 1, NULL carrying two bytes }
	p.RawMembers = [][]byte{{0x30, 0x0a, 0x02, 0x01, 0x13, 0x02, 0x01, 0x01, 0x05, 0x02, 0xab, 0xcd}}

	r, err := Parse(signedFixture(t, a, p), params(a))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !r.ContainsProduct("foo") || !r.ContainsProduct("coins") {
		t.Fatalf("expected foo and coins in %+v", r.Purchases)
	}
}

func TestParse_AnyHashByteAlteredIsRejected(t *testing.T) {
	a := newAuthority(t)
	good := basePayload().DigestFor()
	for i := range good {
		p := basePayload()
		p.Hash = append([]byte(nil), good...)
		p.Hash[i] ^= 0x01
		r, err := Parse(signedFixture(t, a, p), params(a))
		if r != nil {
			t.Fatalf("byte %d: receipt returned for altered hash", i)
		}
		mustCode(t, err, RECEIPT_ERR_HASH_MISMATCH)
	}
}

func TestParse_ShortHashIsRejected(t *testing.T) {
	a := newAuthority(t)
	p := basePayload()
	p.Hash = p.DigestFor()[:19]
	_, err := Parse(signedFixture(t, a, p), params(a))
	mustCode(t, err, RECEIPT_ERR_HASH_MISMATCH)
}

func TestParse_OtherDeviceIsRejected(t *testing.T) {
	a := newAuthority(t)
	container := signedFixture(t, a, basePayload())
	pr := params(a)
	pr.DeviceID = bytes.Repeat([]byte{0xee}, DeviceIDSize)
	_, err := Parse(container, pr)
	mustCode(t, err, RECEIPT_ERR_HASH_MISMATCH)

	pr.DeviceID = []byte{1, 2, 3}
	_, err = Parse(container, pr)
	mustCode(t, err, RECEIPT_ERR_DEVICE_ID)
}

func TestParse_BundleMismatch(t *testing.T) {
	a := newAuthority(t)
	pr := params(a)
	pr.BundleID = "com.example.other"
	r, err := Parse(signedFixture(t, a, basePayload()), pr)
	if r != nil {
		t.Fatalf("receipt returned for foreign bundle")
	}
	mustCode(t, err, RECEIPT_ERR_BUNDLE_MISMATCH)
}

func TestParse_MissingRequiredFields(t *testing.T) {
	a := newAuthority(t)
	for _, typ := range []int64{attrBundleID, attrOpaque, attrHash} {
		p := basePayload()
		p.Omit = []int64{typ}
		_, err := Parse(signedFixture(t, a, p), params(a))
		mustCode(t, err, RECEIPT_ERR_MISSING_FIELD)
	}
}

func TestParse_UntrustedRoot(t *testing.T) {
	a := newAuthority(t)
	other := newAuthority(t)
	_, err := Parse(signedFixture(t, a, basePayload()), params(other))
	mustCode(t, err, RECEIPT_ERR_SIGNATURE_INVALID)
}

func TestParse_BadRootCertificate(t *testing.T) {
	a := newAuthority(t)
	pr := params(a)
	pr.RootCert = []byte("not a certificate")
	_, err := Parse(signedFixture(t, a, basePayload()), pr)
	mustCode(t, err, RECEIPT_ERR_SIGNATURE_INVALID)
}

func TestParse_TamperedPayload(t *testing.T) {
	a := newAuthority(t)
	p := basePayload()
	container := signedFixture(t, a, p)
	i := bytes.Index(container, p.Opaque)
	if i < 0 {
		t.Fatalf("opaque value not found in container")
	}
	container[i] ^= 0x20
	r, err := Parse(container, params(a))
	if r != nil {
		t.Fatalf("receipt returned for tampered payload")
	}
	mustCode(t, err, RECEIPT_ERR_SIGNATURE_INVALID)
}

func TestParse_NonDataContentType(t *testing.T) {
	a := newAuthority(t)
	payload, err := basePayload().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	container, err := a.SignWithContentType(payload, oidSignedData)
	if err != nil {
		t.Fatalf("SignWithContentType: %v", err)
	}
	_, err = Parse(container, params(a))
	mustCode(t, err, RECEIPT_ERR_SIGNATURE_INVALID)
}

func TestParse_Garbage(t *testing.T) {
	a := newAuthority(t)
	for _, in := range [][]byte{nil, {0x30}, []byte("hello receipt"), {0x30, 0x03, 0x02, 0x01, 0x01}} {
		r, err := Parse(in, params(a))
		if r != nil {
			t.Fatalf("receipt returned for %x", in)
		}
		mustCode(t, err, RECEIPT_ERR_MALFORMED)
	}
}

func TestParse_PayloadNotASet(t *testing.T) {
	a := newAuthority(t)
	container, err := a.Sign(receipttest.UTF8("just a string"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, err = Parse(container, params(a))
	mustCode(t, err, RECEIPT_ERR_MALFORMED)
}
