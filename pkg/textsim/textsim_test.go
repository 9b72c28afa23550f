package textsim

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("the supplier shall deliver all goods within thirty days")
	b := Fingerprint("the supplier shall deliver all goods within thirty days")
	if a != b {
		t.Fatalf("same input produced %016x and %016x", a, b)
	}
	if a == 0 {
		t.Fatal("non-empty input must not produce the reserved zero fingerprint")
	}
}

func TestFingerprintEmpty(t *testing.T) {
	if Fingerprint("") != 0 {
		t.Error("empty input should map to the zero fingerprint")
	}
	if Fingerprint("   \t\n") != 0 {
		t.Error("whitespace-only input should map to the zero fingerprint")
	}
}

func TestSimilarityOrdersTexts(t *testing.T) {
	base := Fingerprint("the supplier shall deliver all goods within thirty days of the purchase order and shall maintain insurance coverage for the duration of the agreement and shall notify the buyer in writing of any delay that affects the agreed delivery schedule")
	nearDup := Fingerprint("the supplier must deliver all goods within thirty days of the purchase order and shall maintain insurance coverage for the duration of the agreement and shall notify the buyer in writing of any delay that affects the agreed delivery schedule")
	unrelated := Fingerprint("this privacy policy describes how the mobile application collects stores and processes personal data provided by end users in the european union")

	if got := Similarity(base, base); got != 1.0 {
		t.Errorf("self similarity should be 1.0, got %v", got)
	}
	near := Similarity(base, nearDup)
	far := Similarity(base, unrelated)
	if near <= far {
		t.Errorf("near-duplicate (%v) should outscore unrelated text (%v)", near, far)
	}
	if near <= 0.75 {
		t.Errorf("one changed word in a long clause should stay close, got %v", near)
	}
}

func TestSimilarityBounds(t *testing.T) {
	if got := Similarity(0, ^uint64(0)); got != 0 {
		t.Errorf("opposite fingerprints should score 0, got %v", got)
	}
	if got := Similarity(42, 42); got != 1 {
		t.Errorf("equal fingerprints should score 1, got %v", got)
	}
}
