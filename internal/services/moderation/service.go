package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	// Confidence assigned to lexicon hits. The wordlist matcher is binary,
	// so flagged text gets one fixed high score below the auto-reject cutoff.
	textFlagConfidence = 85.0

	ReasonInappropriateLanguage = "inappropriate_language"
	ReasonInappropriateContent  = "inappropriate_content"
	ReasonServiceUnavailable    = "service_unavailable"
)

type Label struct {
	Name       string
	Confidence float64
	ParentName string
}

type Verdict struct {
	Flagged    bool
	Confidence float64
	Reason     string
	Labels     []Label
}

type SubmissionVerdict struct {
	Flagged        bool
	Text           Verdict
	Images         []Verdict
	FlaggedReasons []string
}

// LabelDetector is the image moderation provider contract.
type LabelDetector interface {
	DetectLabels(ctx context.Context, image []byte, minConfidence float64) ([]Label, error)
}

type Config struct {
	TextEnabled         bool
	ImageEnabled        bool
	Action              string
	ConfidenceThreshold float64
	AutoRejectCutoff    float64
}

type Service struct {
	detector LabelDetector
	cfg      Config
	logger   *zap.Logger
}

func NewService(detector LabelDetector, cfg Config, logger *zap.Logger) *Service {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 70
	}
	if cfg.AutoRejectCutoff <= 0 {
		cfg.AutoRejectCutoff = 90
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// ScoreText runs lexical policy detection over free text. With text
// moderation disabled the verdict always passes.
func (s *Service) ScoreText(text string) Verdict {
	if !s.cfg.TextEnabled {
		return Verdict{}
	}

	if containsProfanity(text) {
		s.logger.Warn("text content flagged", zap.Float64("confidence", textFlagConfidence))
		return Verdict{
			Flagged:    true,
			Confidence: textFlagConfidence,
			Reason:     ReasonInappropriateLanguage,
		}
	}

	return Verdict{}
}

// ScoreImage submits raw image bytes to the label-detection provider and
// keeps labels at or above the configured threshold. Provider failures
// degrade to a non-flagged service-unavailable verdict.
func (s *Service) ScoreImage(ctx context.Context, image []byte) Verdict {
	if !s.cfg.ImageEnabled {
		return Verdict{}
	}
	if s.detector == nil {
		s.logger.Warn("image moderation provider not configured, skipping")
		return Verdict{Reason: ReasonServiceUnavailable}
	}

	labels, err := s.detector.DetectLabels(ctx, image, 50)
	if err != nil {
		s.logger.Error("image moderation provider failed", zap.Error(err))
		return Verdict{Reason: ReasonServiceUnavailable}
	}

	var flagged []Label
	maxConfidence := 0.0
	for _, label := range labels {
		if label.Confidence >= s.cfg.ConfidenceThreshold {
			flagged = append(flagged, label)
			if label.Confidence > maxConfidence {
				maxConfidence = label.Confidence
			}
		}
	}

	if len(flagged) == 0 {
		return Verdict{}
	}

	names := make([]string, 0, len(flagged))
	for _, label := range flagged {
		names = append(names, label.Name)
	}
	s.logger.Warn("image content flagged", zap.Strings("labels", names))

	return Verdict{
		Flagged:    true,
		Confidence: maxConfidence,
		Reason:     ReasonInappropriateContent,
		Labels:     flagged,
	}
}

// ScoreSubmission aggregates text and per-image verdicts for one submission.
func (s *Service) ScoreSubmission(ctx context.Context, title, description string, images [][]byte) SubmissionVerdict {
	verdict := SubmissionVerdict{}

	combined := strings.TrimSpace(title + " " + description)
	if combined != "" {
		verdict.Text = s.ScoreText(combined)
		if verdict.Text.Flagged {
			verdict.Flagged = true
			verdict.FlaggedReasons = append(verdict.FlaggedReasons, verdict.Text.Reason)
		}
	}

	for i, image := range images {
		imageVerdict := s.ScoreImage(ctx, image)
		verdict.Images = append(verdict.Images, imageVerdict)
		if imageVerdict.Flagged {
			verdict.Flagged = true
			verdict.FlaggedReasons = append(verdict.FlaggedReasons,
				fmt.Sprintf("image_%d_%s", i, imageVerdict.Reason))
		}
	}

	verdict.FlaggedReasons = dedupe(verdict.FlaggedReasons)
	return verdict
}

// ShouldAutoReject decides whether a flagged submission is rejected outright
// instead of being held for manual review. The cutoff is a strict
// greater-than so a verdict exactly at the boundary still passes to review.
func (s *Service) ShouldAutoReject(verdict SubmissionVerdict) bool {
	if !verdict.Flagged {
		return false
	}

	if s.cfg.Action == "block" {
		return true
	}

	if verdict.Text.Confidence > s.cfg.AutoRejectCutoff {
		return true
	}
	for _, imageVerdict := range verdict.Images {
		if imageVerdict.Confidence > s.cfg.AutoRejectCutoff {
			return true
		}
	}

	return false
}

// ShouldAutoRejectImage applies the same cutoff to a single image verdict.
func (s *Service) ShouldAutoRejectImage(verdict Verdict) bool {
	if !verdict.Flagged {
		return false
	}
	if s.cfg.Action == "block" {
		return true
	}
	return verdict.Confidence > s.cfg.AutoRejectCutoff
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
