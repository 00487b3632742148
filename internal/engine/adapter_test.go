package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestEstimateFootprintGrowsWithInputs(t *testing.T) {
	small := estimateFootprint(4, 0)
	if small < fixedOverheadMin {
		t.Fatalf("estimateFootprint(4, 0) = %d, must include the fixed overhead", small)
	}
	if larger := estimateFootprint(400, 0); larger <= small {
		t.Fatalf("a longer pattern must estimate larger: %d <= %d", larger, small)
	}
	if withCaptures := estimateFootprint(4, 8); withCaptures <= small {
		t.Fatalf("capture groups must add to the estimate: %d <= %d", withCaptures, small)
	}
}

func TestClassifyCompileErrorBuckets(t *testing.T) {
	cases := []struct {
		msg  string
		want CompileReason
	}{
		{"compiled program size exceeds limit", ReasonTooLarge},
		{"pattern too large for DFA", ReasonTooLarge},
		{"unsupported construct: lookbehind", ReasonUnsupported},
		{"missing closing )", ReasonSyntax},
	}
	for _, tc := range cases {
		got := classifyCompileError(errors.New(tc.msg), []byte("x"))
		if got.Reason != tc.want {
			t.Errorf("classifyCompileError(%q).Reason = %s, want %s", tc.msg, got.Reason, tc.want)
		}
	}
}

func TestCompileErrorExcerptIsBounded(t *testing.T) {
	long := strings.Repeat("a", 500)
	ce := newCompileError(ReasonSyntax, "bad", []byte(long))
	if len(ce.Excerpt) > maxExcerptLen+len("…") {
		t.Fatalf("excerpt length %d exceeds the bound", len(ce.Excerpt))
	}
	if !strings.HasSuffix(ce.Excerpt, "…") {
		t.Fatal("a truncated excerpt must be marked as truncated")
	}

	short := newCompileError(ReasonSyntax, "bad", []byte("ab("))
	if short.Excerpt != "ab(" {
		t.Fatalf("a short pattern must pass through untruncated, got %q", short.Excerpt)
	}
}

func TestMatchMatched(t *testing.T) {
	var nilMatch *Match
	if nilMatch.Matched() {
		t.Fatal("a nil match must report not-matched")
	}
	if (&Match{}).Matched() {
		t.Fatal("a match with no groups must report not-matched")
	}
	if (&Match{Groups: []Span{{Start: -1, End: -1}}}).Matched() {
		t.Fatal("a sentinel no-match span must report not-matched")
	}
	if !(&Match{Groups: []Span{{Start: 0, End: 3}}}).Matched() {
		t.Fatal("a zero-based span is a real match")
	}
}

func TestFakeProgramLifecycle(t *testing.T) {
	p := NewFakeProgram("state", 128)
	if !FakeProgramLive(p) {
		t.Fatal("a fresh fake program must be live")
	}
	if p.FootprintBytes() != 128 {
		t.Fatalf("FootprintBytes() = %d, want 128", p.FootprintBytes())
	}
	if FakeProgramState(p) != "state" {
		t.Fatalf("FakeProgramState() = %v, want the stored state", FakeProgramState(p))
	}
	FakeProgramDestroy(p)
	if FakeProgramLive(p) {
		t.Fatal("a destroyed fake program must not report live")
	}
}
