package receipt

import "testing"

func FuzzExtract(f *testing.F) {
	p := basePayload()
	if b, err := p.Encode(); err == nil {
		f.Add(b)
	}
	f.Add([]byte{0x31, 0x00})
	f.Add([]byte{0x31, 0x05, 0x30, 0x03, 0x02, 0x01, 0x11})
	f.Fuzz(func(t *testing.T, b []byte) {
		rc, err := extract(b, quiet)
		if err != nil && rc != nil {
			t.Fatalf("receipt returned with error %v", err)
		}
		if rc != nil {
			_ = rc.checkBinding(testBundleID, testDevice)
		}
	})
}
