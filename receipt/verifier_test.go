package receipt

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifier_VerifyAndPredicate(t *testing.T) {
	a := newAuthority(t)
	src := StaticSource(signedFixture(t, a, basePayload()))
	v := NewVerifier(src, params(a))
	if !v.Available() {
		t.Fatalf("static source should be available")
	}
	if !v.Verify("foo") {
		t.Fatalf("foo should verify")
	}
	if v.Verify("bar") {
		t.Fatalf("bar must not verify")
	}

	never := NewVerifier(src, params(a), WithPredicate(func(*Receipt, string) bool { return false }))
	if never.Verify("foo") {
		t.Fatalf("predicate must be honoured")
	}
}

func TestVerifier_FailsClosed(t *testing.T) {
	a := newAuthority(t)
	other := newAuthority(t)
	v := NewVerifier(StaticSource(signedFixture(t, a, basePayload())), params(other))
	if v.Verify("foo") {
		t.Fatalf("untrusted receipt must not verify")
	}
	empty := NewVerifier(StaticSource(nil), params(a))
	if empty.Available() || empty.Verify("foo") {
		t.Fatalf("empty source must be unavailable and unverified")
	}
	if _, err := NewVerifier(nil, params(a)).Load(); CodeOf(err) != RECEIPT_ERR_UNAVAILABLE {
		t.Fatalf("nil source: err=%v", err)
	}
}

func TestFileSource(t *testing.T) {
	a := newAuthority(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt")
	src := FileSource(path)
	if src.Exists() {
		t.Fatalf("missing file reported as existing")
	}
	if _, err := src.Read(); CodeOf(err) != RECEIPT_ERR_UNAVAILABLE {
		t.Fatalf("read missing: err=%v", err)
	}
	if err := os.WriteFile(path, signedFixture(t, a, basePayload()), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !src.Exists() {
		t.Fatalf("written file not found")
	}
	if !NewVerifier(src, params(a)).Verify("coins") {
		t.Fatalf("coins should verify from file")
	}
	if FileSource("").Exists() {
		t.Fatalf("empty path must not exist")
	}
	if FileSource(dir).Exists() {
		t.Fatalf("directory must not count as receipt")
	}
}
