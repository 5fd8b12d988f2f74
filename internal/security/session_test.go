package security

import "testing"

func TestMakeSessionKeyVariesAcrossCalls(t *testing.T) {
	dev := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	a := MakeSessionKey(dev)
	b := MakeSessionKey(dev)
	if a == b {
		t.Fatal("successive session keys should differ (time/rand component)")
	}
}
