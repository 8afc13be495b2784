package workflow

import "testing"

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Verdict
		wantErr bool
	}{
		{in: "true_positive", want: VerdictTruePositive},
		{in: "True Positive", want: VerdictTruePositive},
		{in: "  FALSE POSITIVE ", want: VerdictFalsePositive},
		{in: "benign", want: VerdictBenign},
		{in: "Suspicious", want: VerdictSuspicious},
		{in: "unknown", want: VerdictUnknown},
		{in: "maybe", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseVerdict(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVerdict(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVerdict(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFinalVerdict_RejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := ParseFinalVerdict("Unknown"); err == nil {
		t.Error("expected unknown to be rejected as a final verdict")
	}
	if v, err := ParseFinalVerdict("Benign"); err != nil || v != VerdictBenign {
		t.Errorf("ParseFinalVerdict(Benign) = %q, %v", v, err)
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"P1", "p2", " P3 ", "P4", "p5"} {
		if _, err := ParsePriority(in); err != nil {
			t.Errorf("ParsePriority(%q): %v", in, err)
		}
	}
	for _, in := range []string{"P0", "P6", "high", ""} {
		if _, err := ParsePriority(in); err == nil {
			t.Errorf("ParsePriority(%q) should fail", in)
		}
	}
}

func TestParseResponseStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]ResponseStatus{
		"COMPLETED":   ResponseCompleted,
		"in progress": ResponseInProgress,
		"in-progress": ResponseInProgress,
		"Escalated":   ResponseEscalated,
	}
	for in, want := range tests {
		got, err := ParseResponseStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseResponseStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseResponseStatus("DONE"); err == nil {
		t.Error("expected DONE to be rejected")
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusNew, StatusTriaging, StatusInvestigating, StatusDeciding, StatusResponding} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStageTitle(t *testing.T) {
	t.Parallel()

	if got := StageTriage.Title(); got != "Triage" {
		t.Errorf("Title() = %q", got)
	}
	if got := StageInvestigation.Title(); got != "Investigation" {
		t.Errorf("Title() = %q", got)
	}
}
