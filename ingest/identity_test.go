package ingest

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Smart Meter", "smart_meter"},
		{"  Smart   Meter  ", "smart_meter"},
		{"ALLCAPS", "allcaps"},
		{"already_joined", "already_joined"},
		{"tabs\tand\nnewlines", "tabs_and_newlines"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDocumentIDDeterministic(t *testing.T) {
	a := DocumentID("Drip Irrigation Controller", "Jane Doe")
	b := DocumentID("drip irrigation   controller", "JANE DOE")
	if a != b {
		t.Fatalf("ids differ for same identity: %q vs %q", a, b)
	}
	if a != "drip_irrigation_controller_jane_doe" {
		t.Fatalf("id = %q", a)
	}
}

func TestDocumentIDDistinguishesOwners(t *testing.T) {
	if DocumentID("Title", "alice") == DocumentID("Title", "bob") {
		t.Fatal("different owners must derive different ids")
	}
}
