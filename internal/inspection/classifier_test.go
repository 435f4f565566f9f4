package inspection

import "testing"

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	cases := []struct {
		in    string
		kind  Kind
		views int
	}{
		{"Inspection Completed, thank you", KindComplete, 0},
		{"Good image. Inspection completed.", KindComplete, 0},
		{"That's a GOOD IMAGE of the front tyre", KindCapture, 0},
		{"Photo captured", KindCapture, 0},
		{"Now show me the front tire please", KindAssertView, 1},
		{"the back tyer looks worn", KindAssertView, 1},
		{"front and rear tyre both visible", KindAssertView, 2},
		{"please move closer", KindNone, 0},
		{"", KindNone, 0},
	}
	for _, tc := range cases {
		got := c.Classify(tc.in)
		if got.Kind != tc.kind || len(got.Views) != tc.views {
			t.Fatalf("Classify(%q) = %v/%d views, want %v/%d", tc.in, got.Kind, len(got.Views), tc.kind, tc.views)
		}
	}
}

func TestKeywordClassifierViews(t *testing.T) {
	got := NewKeywordClassifier().Classify("front tyre and back tyre")
	if got.Views[0] != (View{Section: "front", Item: "tyre"}) || got.Views[1] != (View{Section: "back", Item: "tyre"}) {
		t.Fatalf("views = %+v", got.Views)
	}
}

func TestKindString(t *testing.T) {
	if KindCapture.String() != "capture" || Kind(99).String() != "none" {
		t.Fatalf("unexpected kind names")
	}
}
