package der

import (
	"fmt"
	"unicode/utf8"
)

// Reader is a cursor over a window [off, end) of an owned byte slice.
// Offsets reported in headers and errors are absolute positions in the
// slice passed to NewReader, which keeps nested readers comparable.
type Reader struct {
	buf []byte
	off int
	end int
}

// Element is a fully bounded TLV: header plus content view.
type Element struct {
	Header
	// Content aliases the reader's buffer.
	Content []byte
}

// Raw returns the encoded element including its header.
func (e Element) Raw(r *Reader) []byte {
	return r.buf[e.Offset:e.End()]
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b, off: 0, end: len(b)}
}

// Offset is the absolute position of the cursor.
func (r *Reader) Offset() int { return r.off }

// Remaining is the number of unread bytes left in the window.
func (r *Reader) Remaining() int {
	if r.off >= r.end {
		return 0
	}
	return r.end - r.off
}

func (r *Reader) Empty() bool { return r.Remaining() == 0 }

func (r *Reader) readU8() (byte, error) {
	if r.off+1 > r.end {
		return 0, malformed(r.off, "unexpected EOF (u8)")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// ReadHeader decodes one identifier and length prefix and leaves the cursor
// at the first content byte. Indefinite lengths are reported, not rejected,
// so that BER containers can be descended; callers that need the content
// bounds must use ReadElement.
func (r *Reader) ReadHeader() (Header, error) {
	start := r.off
	h, err := r.readHeader()
	if err != nil {
		r.off = start
		return Header{}, err
	}
	return h, nil
}

func (r *Reader) readHeader() (Header, error) {
	h := Header{Offset: r.off}
	id, err := r.readU8()
	if err != nil {
		return Header{}, err
	}
	h.Class = Class(id >> 6)
	h.Constructed = id&0x20 != 0
	h.Tag = int(id & 0x1f)
	if h.Tag == 0x1f {
		tag, err := r.readHighTag()
		if err != nil {
			return Header{}, err
		}
		h.Tag = tag
	}

	lb, err := r.readU8()
	if err != nil {
		return Header{}, err
	}
	switch {
	case lb < 0x80:
		h.Length = int(lb)
	case lb == 0x80:
		if !h.Constructed {
			return Header{}, malformed(h.Offset, "indefinite length on primitive")
		}
		h.Indefinite = true
		h.Length = -1
	case lb == 0xff:
		return Header{}, malformed(h.Offset, "reserved length octet")
	default:
		n := int(lb & 0x7f)
		if n > maxLengthOctets {
			return Header{}, malformed(h.Offset, fmt.Sprintf("length uses %d octets", n))
		}
		length := 0
		for i := 0; i < n; i++ {
			b, err := r.readU8()
			if err != nil {
				return Header{}, err
			}
			length = length<<8 | int(b)
		}
		if length < 0 {
			return Header{}, malformed(h.Offset, "negative length")
		}
		h.Length = length
	}
	h.ContentOffset = r.off
	if !h.Indefinite && h.Length > r.end-r.off {
		return Header{}, malformed(h.Offset, fmt.Sprintf("length %d exceeds remaining %d", h.Length, r.end-r.off))
	}
	return h, nil
}

func (r *Reader) readHighTag() (int, error) {
	tag := 0
	for i := 0; i < maxTagOctets; i++ {
		b, err := r.readU8()
		if err != nil {
			return 0, err
		}
		if i == 0 && b == 0x80 {
			return 0, malformed(r.off-1, "non-minimal tag number")
		}
		tag = tag<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			if tag < 0x1f {
				return 0, malformed(r.off-1, "high tag form for low tag number")
			}
			return tag, nil
		}
	}
	return 0, malformed(r.off, "tag number too large")
}

// ReadElement reads one definite-length element and advances past its content.
func (r *Reader) ReadElement() (Element, error) {
	start := r.off
	h, err := r.readHeader()
	if err != nil {
		r.off = start
		return Element{}, err
	}
	if h.Indefinite {
		r.off = start
		return Element{}, malformed(h.Offset, "indefinite length not allowed here")
	}
	r.off = h.End()
	return Element{Header: h, Content: r.buf[h.ContentOffset:h.End()]}, nil
}

// Expect reads one element and requires the given universal tag. The cursor
// does not move when the tag does not match.
func (r *Reader) Expect(tag int) (Element, error) {
	start := r.off
	e, err := r.ReadElement()
	if err != nil {
		return Element{}, err
	}
	if !e.Is(tag) {
		r.off = start
		return Element{}, malformed(e.Offset, fmt.Sprintf("expected %s, got class %d tag %d", tagName(tag), e.Class, e.Tag))
	}
	return e, nil
}

// Sub returns a reader confined to the content of e.
func (r *Reader) Sub(e Element) *Reader {
	return &Reader{buf: r.buf, off: e.ContentOffset, end: e.End()}
}

// Enter reads a constructed SET or SEQUENCE and returns a reader over its
// members.
func (r *Reader) Enter(tag int) (*Reader, error) {
	start := r.off
	e, err := r.Expect(tag)
	if err != nil {
		return nil, err
	}
	if !e.Constructed {
		r.off = start
		return nil, malformed(e.Offset, tagName(tag)+" must be constructed")
	}
	return r.Sub(e), nil
}

// Descend enters a constructed element of any class, tolerating an
// indefinite length. For indefinite elements the child window runs to the end
// of the parent window and the parent is considered consumed.
func (r *Reader) Descend(class Class, tag int) (*Reader, error) {
	start := r.off
	h, err := r.readHeader()
	if err != nil {
		r.off = start
		return nil, err
	}
	if h.Class != class || h.Tag != tag || !h.Constructed {
		r.off = start
		return nil, malformed(h.Offset, fmt.Sprintf("expected constructed class %d tag %d, got class %d tag %d", class, tag, h.Class, h.Tag))
	}
	if h.Indefinite {
		r.off = r.end
		return &Reader{buf: r.buf, off: h.ContentOffset, end: r.end}, nil
	}
	r.off = h.End()
	return &Reader{buf: r.buf, off: h.ContentOffset, end: h.End()}, nil
}

// ReadInt reads an INTEGER as a signed 64-bit value from its big-endian
// two's-complement content.
func (r *Reader) ReadInt() (int64, error) {
	start := r.off
	e, err := r.Expect(TagInteger)
	if err != nil {
		return 0, err
	}
	v, err := decodeInt(e)
	if err != nil {
		r.off = start
		return 0, err
	}
	return v, nil
}

func decodeInt(e Element) (int64, error) {
	if e.Constructed {
		return 0, malformed(e.Offset, "constructed integer")
	}
	c := e.Content
	if len(c) == 0 {
		return 0, malformed(e.Offset, "empty integer")
	}
	if len(c) > 8 {
		return 0, malformed(e.Offset, fmt.Sprintf("integer of %d bytes overflows int64", len(c)))
	}
	v := int64(int8(c[0]))
	for _, b := range c[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// ReadString reads a UTF8String or IA5String. Content that is not valid for
// the tag is an error; nothing is replaced.
func (r *Reader) ReadString() (string, error) {
	start := r.off
	e, err := r.ReadElement()
	if err != nil {
		return "", err
	}
	s, err := decodeString(e)
	if err != nil {
		r.off = start
		return "", err
	}
	return s, nil
}

func decodeString(e Element) (string, error) {
	if e.Constructed {
		return "", malformed(e.Offset, "constructed string")
	}
	switch {
	case e.Is(TagUTF8String):
		if !utf8.Valid(e.Content) {
			return "", malformed(e.Offset, "invalid UTF-8 in UTF8String")
		}
	case e.Is(TagIA5String):
		for i, b := range e.Content {
			if b >= 0x80 {
				return "", malformed(e.ContentOffset+i, "non-ASCII byte in IA5String")
			}
		}
	default:
		return "", malformed(e.Offset, fmt.Sprintf("expected string, got class %d tag %d", e.Class, e.Tag))
	}
	return string(e.Content), nil
}

// ReadOctets reads an OCTET STRING. The returned slice aliases the buffer.
func (r *Reader) ReadOctets() ([]byte, error) {
	start := r.off
	e, err := r.Expect(TagOctetString)
	if err != nil {
		return nil, err
	}
	if e.Constructed {
		r.off = start
		return nil, malformed(e.Offset, "constructed OCTET STRING")
	}
	return e.Content, nil
}
