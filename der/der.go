// Package der reads tag-length-value encoded ASN.1 data from untrusted
// buffers. Every read is bounds-checked against the reader's window; nothing
// outside that window is ever touched.
package der

// Class is the two-bit tag class of an identifier octet.
type Class uint8

const (
	ClassUniversal       Class = 0
	ClassApplication     Class = 1
	ClassContextSpecific Class = 2
	ClassPrivate         Class = 3
)

// Universal tag numbers understood by the typed readers.
const (
	TagInteger     = 2
	TagOctetString = 4
	TagOID         = 6
	TagUTF8String  = 12
	TagSequence    = 16
	TagSet         = 17
	TagIA5String   = 22
)

const (
	maxLengthOctets = 4
	maxTagOctets    = 4
)

// Header describes one decoded identifier + length prefix.
type Header struct {
	Class       Class
	Tag         int
	Constructed bool
	// Offset is the absolute offset of the identifier octet.
	Offset int
	// ContentOffset is the absolute offset of the first content byte.
	ContentOffset int
	// Length is the content length; -1 when Indefinite.
	Length     int
	Indefinite bool
}

// Is reports whether h carries the given universal tag.
func (h Header) Is(tag int) bool {
	return h.Class == ClassUniversal && h.Tag == tag
}

// End is the absolute offset one past the content. Only meaningful for
// definite lengths.
func (h Header) End() int {
	return h.ContentOffset + h.Length
}

func tagName(tag int) string {
	switch tag {
	case TagInteger:
		return "INTEGER"
	case TagOctetString:
		return "OCTET STRING"
	case TagOID:
		return "OBJECT IDENTIFIER"
	case TagUTF8String:
		return "UTF8String"
	case TagSequence:
		return "SEQUENCE"
	case TagSet:
		return "SET"
	case TagIA5String:
		return "IA5String"
	default:
		return "tag"
	}
}
