package moderation

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeDetector struct {
	labels []Label
	err    error
	calls  int
}

func (f *fakeDetector) DetectLabels(_ context.Context, _ []byte, _ float64) ([]Label, error) {
	f.calls++
	return f.labels, f.err
}

func newTestService(detector LabelDetector, cfg Config) *Service {
	return NewService(detector, cfg, zap.NewNop())
}

func TestScoreTextFlagsProfanity(t *testing.T) {
	svc := newTestService(nil, Config{TextEnabled: true})

	verdict := svc.ScoreText("Selling a FUCK awful couch")
	if !verdict.Flagged {
		t.Fatal("expected case-insensitive match")
	}
	if verdict.Confidence != 85 {
		t.Fatalf("confidence = %v, want 85", verdict.Confidence)
	}
	if verdict.Reason != ReasonInappropriateLanguage {
		t.Fatalf("reason = %q", verdict.Reason)
	}
}

func TestScoreTextIgnoresSubstrings(t *testing.T) {
	svc := newTestService(nil, Config{TextEnabled: true})

	// "class" and "Scunthorpe" contain blocked substrings but are clean words.
	verdict := svc.ScoreText("Yoga class near Scunthorpe town hall")
	if verdict.Flagged {
		t.Fatal("whole-word matching should not flag substrings")
	}
}

func TestScoreTextDisabled(t *testing.T) {
	svc := newTestService(nil, Config{TextEnabled: false})

	if svc.ScoreText("fuck").Flagged {
		t.Fatal("disabled text moderation must not flag")
	}
}

func TestScoreImageThresholdFilter(t *testing.T) {
	detector := &fakeDetector{labels: []Label{
		{Name: "Weapons", Confidence: 65},
		{Name: "Violence", Confidence: 72},
		{Name: "Gore", Confidence: 88},
	}}
	svc := newTestService(detector, Config{ImageEnabled: true, ConfidenceThreshold: 70})

	verdict := svc.ScoreImage(context.Background(), []byte("img"))
	if !verdict.Flagged {
		t.Fatal("expected flagged verdict")
	}
	if len(verdict.Labels) != 2 {
		t.Fatalf("kept %d labels, want 2", len(verdict.Labels))
	}
	if verdict.Confidence != 88 {
		t.Fatalf("confidence = %v, want max surviving 88", verdict.Confidence)
	}
	if verdict.Reason != ReasonInappropriateContent {
		t.Fatalf("reason = %q", verdict.Reason)
	}
}

func TestScoreImageAllBelowThreshold(t *testing.T) {
	detector := &fakeDetector{labels: []Label{{Name: "Weapons", Confidence: 50}}}
	svc := newTestService(detector, Config{ImageEnabled: true, ConfidenceThreshold: 70})

	if svc.ScoreImage(context.Background(), []byte("img")).Flagged {
		t.Fatal("labels below threshold must not flag")
	}
}

func TestScoreImageProviderFailureDegrades(t *testing.T) {
	detector := &fakeDetector{err: errors.New("connection refused")}
	svc := newTestService(detector, Config{ImageEnabled: true, ConfidenceThreshold: 70})

	verdict := svc.ScoreImage(context.Background(), []byte("img"))
	if verdict.Flagged {
		t.Fatal("provider failure must not flag the image")
	}
	if verdict.Reason != ReasonServiceUnavailable {
		t.Fatalf("reason = %q, want %q", verdict.Reason, ReasonServiceUnavailable)
	}
}

func TestScoreImageDisabledSkipsProvider(t *testing.T) {
	detector := &fakeDetector{labels: []Label{{Name: "Gore", Confidence: 99}}}
	svc := newTestService(detector, Config{ImageEnabled: false})

	if svc.ScoreImage(context.Background(), []byte("img")).Flagged {
		t.Fatal("disabled image moderation must not flag")
	}
	if detector.calls != 0 {
		t.Fatalf("provider called %d times, want 0", detector.calls)
	}
}

func TestScoreSubmissionAggregates(t *testing.T) {
	detector := &fakeDetector{labels: []Label{{Name: "Violence", Confidence: 80}}}
	svc := newTestService(detector, Config{
		TextEnabled:         true,
		ImageEnabled:        true,
		ConfidenceThreshold: 70,
	})

	verdict := svc.ScoreSubmission(context.Background(), "free shit", "pickup today",
		[][]byte{[]byte("a"), []byte("b")})
	if !verdict.Flagged {
		t.Fatal("expected aggregate flag")
	}
	if !verdict.Text.Flagged {
		t.Fatal("expected text flag")
	}
	if len(verdict.Images) != 2 {
		t.Fatalf("image verdicts = %d, want 2", len(verdict.Images))
	}

	want := map[string]bool{
		"inappropriate_language":        true,
		"image_0_inappropriate_content": true,
		"image_1_inappropriate_content": true,
	}
	if len(verdict.FlaggedReasons) != len(want) {
		t.Fatalf("reasons = %v", verdict.FlaggedReasons)
	}
	for _, reason := range verdict.FlaggedReasons {
		if !want[reason] {
			t.Fatalf("unexpected reason %q in %v", reason, verdict.FlaggedReasons)
		}
	}
}

func TestScoreSubmissionCleanContent(t *testing.T) {
	detector := &fakeDetector{}
	svc := newTestService(detector, Config{
		TextEnabled:         true,
		ImageEnabled:        true,
		ConfidenceThreshold: 70,
	})

	verdict := svc.ScoreSubmission(context.Background(), "Garage sale", "Saturday 9am", nil)
	if verdict.Flagged {
		t.Fatalf("clean submission flagged: %v", verdict.FlaggedReasons)
	}
	if len(verdict.FlaggedReasons) != 0 {
		t.Fatalf("reasons = %v, want none", verdict.FlaggedReasons)
	}
}

func TestShouldAutoRejectCutoffIsStrict(t *testing.T) {
	svc := newTestService(nil, Config{Action: "flag", AutoRejectCutoff: 90})

	atBoundary := SubmissionVerdict{
		Flagged: true,
		Images:  []Verdict{{Flagged: true, Confidence: 90}},
	}
	if svc.ShouldAutoReject(atBoundary) {
		t.Fatal("confidence exactly at cutoff must go to manual review")
	}

	aboveBoundary := SubmissionVerdict{
		Flagged: true,
		Images:  []Verdict{{Flagged: true, Confidence: 90.001}},
	}
	if !svc.ShouldAutoReject(aboveBoundary) {
		t.Fatal("confidence above cutoff must auto-reject")
	}
}

func TestShouldAutoRejectBlockAction(t *testing.T) {
	svc := newTestService(nil, Config{Action: "block", AutoRejectCutoff: 90})

	verdict := SubmissionVerdict{
		Flagged: true,
		Images:  []Verdict{{Flagged: true, Confidence: 71}},
	}
	if !svc.ShouldAutoReject(verdict) {
		t.Fatal("block action must reject any flagged submission")
	}

	if svc.ShouldAutoReject(SubmissionVerdict{}) {
		t.Fatal("non-flagged submission must never auto-reject")
	}
}

func TestShouldAutoRejectTextConfidence(t *testing.T) {
	svc := newTestService(nil, Config{Action: "flag", AutoRejectCutoff: 80})

	verdict := SubmissionVerdict{
		Flagged: true,
		Text:    Verdict{Flagged: true, Confidence: 85},
	}
	if !svc.ShouldAutoReject(verdict) {
		t.Fatal("text confidence above cutoff must auto-reject")
	}
}

func TestShouldAutoRejectImageSingle(t *testing.T) {
	svc := newTestService(nil, Config{Action: "flag", AutoRejectCutoff: 90})

	if svc.ShouldAutoRejectImage(Verdict{Flagged: true, Confidence: 90}) {
		t.Fatal("exactly at cutoff must not auto-reject")
	}
	if !svc.ShouldAutoRejectImage(Verdict{Flagged: true, Confidence: 95}) {
		t.Fatal("above cutoff must auto-reject")
	}
	if svc.ShouldAutoRejectImage(Verdict{Flagged: false, Confidence: 99}) {
		t.Fatal("non-flagged verdict must not auto-reject")
	}
}
