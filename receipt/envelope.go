package receipt

import (
	"crypto/x509"
	encasn1 "encoding/asn1"
	"errors"

	"github.com/smallstep/pkcs7"
	"golang.org/x/crypto/cryptobyte"

	"github.com/pipacs/shop/der"
)

var (
	oidSignedData = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidData       = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
)

// VerifyEnvelope checks that container is a PKCS#7 signed-data structure
// whose signer chains to rootCert (DER) and whose encapsulated content is
// plain data, and returns that content. No payload is returned on any
// failure.
func VerifyEnvelope(container, rootCert []byte) ([]byte, error) {
	if len(container) == 0 {
		return nil, rerr(RECEIPT_ERR_MALFORMED, "empty container")
	}
	root, err := x509.ParseCertificate(rootCert)
	if err != nil {
		return nil, rwrap(RECEIPT_ERR_SIGNATURE_INVALID, "parse root certificate", err)
	}
	ct, err := encapsulatedContentType(container)
	if err != nil {
		return nil, rwrap(RECEIPT_ERR_MALFORMED, "signed-data structure", err)
	}
	if !ct.Equal(oidData) {
		return nil, rerr(RECEIPT_ERR_SIGNATURE_INVALID, "unexpected content type "+ct.String())
	}
	p7, err := pkcs7.Parse(container)
	if err != nil {
		return nil, rwrap(RECEIPT_ERR_MALFORMED, "parse container", err)
	}
	trust := x509.NewCertPool()
	trust.AddCert(root)
	if err := p7.VerifyWithChain(trust); err != nil {
		return nil, rwrap(RECEIPT_ERR_SIGNATURE_INVALID, "verify signature", err)
	}
	if len(p7.Content) == 0 {
		return nil, rerr(RECEIPT_ERR_MALFORMED, "empty signed content")
	}
	return append([]byte(nil), p7.Content...), nil
}

// encapsulatedContentType walks
//
//	ContentInfo SEQUENCE { contentType OID, [0] SignedData SEQUENCE {
//	  version INTEGER, digestAlgorithms SET, encapContentInfo SEQUENCE {
//	    eContentType OID, ... } ... } }
//
// and returns eContentType.
func encapsulatedContentType(container []byte) (encasn1.ObjectIdentifier, error) {
	r := der.NewReader(container)
	ci, err := r.Descend(der.ClassUniversal, der.TagSequence)
	if err != nil {
		return nil, err
	}
	outer, err := readOID(ci)
	if err != nil {
		return nil, err
	}
	if !outer.Equal(oidSignedData) {
		return nil, errors.New("content is not signed-data: " + outer.String())
	}
	explicit, err := ci.Descend(der.ClassContextSpecific, 0)
	if err != nil {
		return nil, err
	}
	sd, err := explicit.Descend(der.ClassUniversal, der.TagSequence)
	if err != nil {
		return nil, err
	}
	if _, err := sd.ReadInt(); err != nil {
		return nil, err
	}
	if _, err := sd.Expect(der.TagSet); err != nil {
		return nil, err
	}
	eci, err := sd.Descend(der.ClassUniversal, der.TagSequence)
	if err != nil {
		return nil, err
	}
	return readOID(eci)
}

func readOID(r *der.Reader) (encasn1.ObjectIdentifier, error) {
	e, err := r.Expect(der.TagOID)
	if err != nil {
		return nil, err
	}
	var oid encasn1.ObjectIdentifier
	s := cryptobyte.String(e.Raw(r))
	if !s.ReadASN1ObjectIdentifier(&oid) || !s.Empty() {
		return nil, errors.New("invalid object identifier")
	}
	return oid, nil
}
