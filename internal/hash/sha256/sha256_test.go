// Package sha256 includes tests for the URL fingerprint helpers.
package sha256

import "testing"

// TestFingerprintDeterministic ensures repeated hashing yields the same digest.
func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	got := Fingerprint("hello world")
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := Fingerprint("hello world"); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestFingerprintDistinguishesQuery guards against keys that ignore the query string.
func TestFingerprintDistinguishesQuery(t *testing.T) {
	t.Parallel()

	a := Fingerprint("https://shop.example/orders?orderFilter=year-2020")
	b := Fingerprint("https://shop.example/orders?orderFilter=year-2021")
	if a == b {
		t.Fatal("expected different fingerprints for different years")
	}
}
