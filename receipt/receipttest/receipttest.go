// Package receipttest builds signed receipt fixtures: a throwaway root CA,
// a DER payload encoder and a PKCS#7 signer.
package receipttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	encasn1 "encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/smallstep/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const dateLayout = "2006-01-02T15:04:05Z"

// Authority is a root CA plus a signing leaf issued by it.
type Authority struct {
	Root    *x509.Certificate
	RootDER []byte
	Leaf    *x509.Certificate
	leafKey *ecdsa.PrivateKey
}

func NewAuthority(name string) (*Authority, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name + " Root CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: name + " Receipt Signing"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(5 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf: %w", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, err
	}
	return &Authority{Root: root, RootDER: rootDER, Leaf: leaf, leafKey: leafKey}, nil
}

// Sign wraps payload in a PKCS#7 signed-data container of content type data.
func (a *Authority) Sign(payload []byte) ([]byte, error) {
	return a.sign(payload, nil)
}

// SignWithContentType signs payload but declares a different content type.
func (a *Authority) SignWithContentType(payload []byte, ct encasn1.ObjectIdentifier) ([]byte, error) {
	return a.sign(payload, ct)
}

func (a *Authority) sign(payload []byte, ct encasn1.ObjectIdentifier) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(payload)
	if err != nil {
		return nil, err
	}
	if ct != nil {
		// Set before AddSigner so the signed content-type attribute agrees.
		sd.GetSignedData().ContentInfo.ContentType = ct
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(a.Leaf, a.leafKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	return sd.Finish()
}

// Purchase describes one purchase record to encode.
type Purchase struct {
	Quantity               int64
	ProductID              string
	TransactionID          string
	OriginalTransactionID  string
	PurchaseDate           time.Time
	OriginalPurchaseDate   time.Time
	SubscriptionExpiration *time.Time
	Cancellation           *time.Time
	WebOrderLineItemID     int64
}

// Attribute is a raw (type, version, value) triple for unusual fixtures.
type Attribute struct {
	Type    int64
	Version int64
	Value   []byte
}

// Payload describes a receipt payload. Hash is computed from DeviceID when
// left nil.
type Payload struct {
	BundleID      string
	BundleVersion string
	Opaque        []byte
	DeviceID      []byte
	Hash          []byte
	Expiration    *time.Time
	Purchases     []Purchase
	Extra         []Attribute
	// RawMembers are appended to the outer SET verbatim, after Extra.
	RawMembers [][]byte
	// Omit lists top-level attribute types to leave out.
	Omit []int64
}

// BundleIDRaw is the encoded value of the bundle identifier attribute.
func (p Payload) BundleIDRaw() []byte {
	return UTF8(p.BundleID)
}

// DigestFor is the binding hash the payload should carry for p.DeviceID.
func (p Payload) DigestFor() []byte {
	h := sha1.New()
	h.Write(p.DeviceID)
	h.Write(p.Opaque)
	h.Write(p.BundleIDRaw())
	return h.Sum(nil)
}

// Encode renders the payload as SET OF SEQUENCE attributes.
func (p Payload) Encode() ([]byte, error) {
	hash := p.Hash
	if hash == nil {
		hash = p.DigestFor()
	}
	omitted := func(typ int64) bool {
		for _, o := range p.Omit {
			if o == typ {
				return true
			}
		}
		return false
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SET, func(set *cryptobyte.Builder) {
		add := func(typ int64, value []byte) {
			if !omitted(typ) {
				addAttr(set, typ, 1, value)
			}
		}
		add(2, p.BundleIDRaw())
		add(3, UTF8(p.BundleVersion))
		add(4, p.Opaque)
		add(5, hash)
		if p.Expiration != nil {
			add(21, IA5(p.Expiration.UTC().Format(dateLayout)))
		}
		for _, pur := range p.Purchases {
			add(17, encodePurchase(pur))
		}
		for _, a := range p.Extra {
			addAttr(set, a.Type, a.Version, a.Value)
		}
		for _, m := range p.RawMembers {
			set.AddBytes(m)
		}
	})
	return b.Bytes()
}

func encodePurchase(p Purchase) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SET, func(set *cryptobyte.Builder) {
		addAttr(set, 1701, 1, Int(p.Quantity))
		addAttr(set, 1702, 1, UTF8(p.ProductID))
		addAttr(set, 1703, 1, UTF8(p.TransactionID))
		addAttr(set, 1704, 1, IA5(p.PurchaseDate.UTC().Format(dateLayout)))
		addAttr(set, 1705, 1, UTF8(p.OriginalTransactionID))
		addAttr(set, 1706, 1, IA5(p.OriginalPurchaseDate.UTC().Format(dateLayout)))
		if p.SubscriptionExpiration != nil {
			addAttr(set, 1708, 1, IA5(p.SubscriptionExpiration.UTC().Format(dateLayout)))
		}
		if p.WebOrderLineItemID != 0 {
			addAttr(set, 1711, 1, Int(p.WebOrderLineItemID))
		}
		if p.Cancellation != nil {
			addAttr(set, 1712, 1, IA5(p.Cancellation.UTC().Format(dateLayout)))
		}
		// Unknown codes must be ignored by decoders.
		addAttr(set, 1799, 1, UTF8("ignored"))
	})
	return b.BytesOrPanic()
}

func addAttr(b *cryptobyte.Builder, typ, ver int64, value []byte) {
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddASN1Int64(typ)
		seq.AddASN1Int64(ver)
		seq.AddASN1OctetString(value)
	})
}

// UTF8 encodes s as a DER UTF8String.
func UTF8(s string) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.UTF8String, func(c *cryptobyte.Builder) { c.AddBytes([]byte(s)) })
	return b.BytesOrPanic()
}

// IA5 encodes s as a DER IA5String.
func IA5(s string) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.IA5String, func(c *cryptobyte.Builder) { c.AddBytes([]byte(s)) })
	return b.BytesOrPanic()
}

// Int encodes v as a DER INTEGER.
func Int(v int64) []byte {
	var b cryptobyte.Builder
	b.AddASN1Int64(v)
	return b.BytesOrPanic()
}

// Signed encodes p and signs it with a.
func (a *Authority) Signed(p Payload) ([]byte, error) {
	payload, err := p.Encode()
	if err != nil {
		return nil, err
	}
	return a.Sign(payload)
}
