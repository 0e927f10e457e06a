package receipt

import (
	"os"

	"github.com/pipacs/shop/internal/safeio"
)

// Source yields the raw receipt container.
type Source interface {
	// Exists reports whether a receipt is present and readable.
	Exists() bool
	Read() ([]byte, error)
}

// FileSource reads the receipt from a file path.
type FileSource string

func (f FileSource) Exists() bool {
	if f == "" {
		return false
	}
	st, err := os.Stat(string(f))
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

func (f FileSource) Read() ([]byte, error) {
	if f == "" {
		return nil, rerr(RECEIPT_ERR_UNAVAILABLE, "no receipt path configured")
	}
	b, err := safeio.ReadFileByPath(string(f))
	if err != nil {
		return nil, rwrap(RECEIPT_ERR_UNAVAILABLE, "read receipt", err)
	}
	return b, nil
}

// StaticSource serves an in-memory receipt.
type StaticSource []byte

func (s StaticSource) Exists() bool { return len(s) > 0 }

func (s StaticSource) Read() ([]byte, error) {
	if len(s) == 0 {
		return nil, rerr(RECEIPT_ERR_UNAVAILABLE, "empty receipt")
	}
	return append([]byte(nil), s...), nil
}
