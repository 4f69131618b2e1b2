package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider failures. These never escape the service; callers see a nil
// result instead.
var (
	ErrTimeout            = errors.New("geocoder timed out")
	ErrQuotaExceeded      = errors.New("geocoder quota exceeded")
	ErrServiceUnavailable = errors.New("geocoder temporarily unavailable")
	ErrService            = errors.New("geocoder service error")
)

const (
	metersPerDegree = 111320.0
	earthRadiusKM   = 6371.0
	maxBackoff      = 10 * time.Second
)

type Point struct {
	Lat float64
	Lng float64
}

type Result struct {
	Lat              float64
	Lng              float64
	Address          string
	FormattedAddress string
	Confidence       float64
	PlaceType        string
	Neighborhood     string
	City             string
	State            string
	Country          string
	PostalCode       string
}

type Validation struct {
	IsValid      bool
	ErrorMessage string
	Warnings     []string
	Suggested    *Point
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Result, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*Result, error)
}

type Config struct {
	MaxRetries        int
	MaxRadiusKM       float64
	PrivacyFuzzMeters float64
}

type Service struct {
	geocoder Geocoder
	cfg      Config
	logger   *zap.Logger
	sleep    func(time.Duration)
	randUnit func() float64
}

func NewService(geocoder Geocoder, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		geocoder: geocoder,
		cfg:      cfg,
		logger:   logger,
		sleep:    time.Sleep,
		randUnit: rand.Float64,
	}
}

// Geocode resolves a free-text address to coordinates. All provider failures
// degrade to nil after logging; transient timeouts are retried with backoff.
func (s *Service) Geocode(ctx context.Context, address string) *Result {
	address = strings.TrimSpace(address)
	if address == "" || s.geocoder == nil {
		return nil
	}

	result := s.withRetry(ctx, "geocode", func() (*Result, error) {
		return s.geocoder.Geocode(ctx, address)
	})
	if result == nil {
		s.logger.Warn("no geocoding result", zap.String("address", truncate(address, 50)))
		return nil
	}

	s.logger.Info("geocoded address",
		zap.String("address", truncate(address, 50)),
		zap.Float64("lat", result.Lat),
		zap.Float64("lng", result.Lng))
	return result
}

// ReverseGeocode resolves coordinates to an address with the same
// retry/degradation policy as Geocode.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lng float64) *Result {
	if !validCoordinates(lat, lng) || s.geocoder == nil {
		return nil
	}

	result := s.withRetry(ctx, "reverse geocode", func() (*Result, error) {
		return s.geocoder.ReverseGeocode(ctx, lat, lng)
	})
	if result == nil {
		s.logger.Warn("no reverse geocoding result", zap.Float64("lat", lat), zap.Float64("lng", lng))
	}
	return result
}

// Validate checks coordinates against bounds and business rules. Suspicious
// but technically valid points only warn; a reference point further away
// than the configured radius fails and proposes a closer coordinate.
func (s *Service) Validate(lat, lng float64, reference *Point) Validation {
	if !validCoordinates(lat, lng) {
		return Validation{
			IsValid:      false,
			ErrorMessage: "invalid coordinates: latitude must be between -90 and 90, longitude between -180 and 180",
		}
	}

	var warnings []string
	if lat == 0 && lng == 0 {
		warnings = append(warnings, "coordinates appear to be null island (0,0)")
	} else if math.Abs(lat) > 85 {
		warnings = append(warnings, "location is very close to polar regions")
	}

	if reference != nil && s.cfg.MaxRadiusKM > 0 {
		distanceKM := s.Distance(lat, lng, reference.Lat, reference.Lng)
		if distanceKM > s.cfg.MaxRadiusKM {
			return Validation{
				IsValid: false,
				ErrorMessage: fmt.Sprintf("location is too far (%.1f km), maximum allowed distance is %.1f km",
					distanceKM, s.cfg.MaxRadiusKM),
				Suggested: s.suggestCloser(lat, lng, *reference, distanceKM),
			}
		}
	}

	return Validation{IsValid: true, Warnings: warnings}
}

// ApplyPrivacyFuzz displaces coordinates by a bounded random offset before
// they are used for display. The unfuzzed point stays in the record for
// indexing. A zero fuzz radius passes coordinates through unchanged.
func (s *Service) ApplyPrivacyFuzz(lat, lng float64) (float64, float64) {
	if s.cfg.PrivacyFuzzMeters <= 0 {
		return lat, lng
	}

	offset := s.cfg.PrivacyFuzzMeters / metersPerDegree
	fuzzedLat := lat + (s.randUnit()*2-1)*offset
	fuzzedLng := lng + (s.randUnit()*2-1)*offset

	fuzzedLat = clamp(fuzzedLat, -90, 90)
	fuzzedLng = clamp(fuzzedLng, -180, 180)

	return fuzzedLat, fuzzedLng
}

// Distance returns the great-circle distance in kilometers, or +Inf when the
// inputs cannot be computed on.
func (s *Service) Distance(lat1, lng1, lat2, lng2 float64) float64 {
	for _, v := range []float64{lat1, lng1, lat2, lng2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}
	return haversineKM(lat1, lng1, lat2, lng2)
}

func (s *Service) withRetry(ctx context.Context, op string, call func() (*Result, error)) *Result {
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		result, err := call()
		if err == nil {
			return result
		}

		retryable := errors.Is(err, ErrTimeout) || errors.Is(err, ErrServiceUnavailable)
		if !retryable || attempt == s.cfg.MaxRetries-1 {
			s.logger.Error("geocoder call failed",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return nil
		}

		wait := backoff(attempt)
		s.logger.Warn("geocoder call failed, retrying",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.cfg.MaxRetries),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.sleep(wait)
	}
	return nil
}

func (s *Service) suggestCloser(lat, lng float64, reference Point, currentKM float64) *Point {
	if currentKM <= s.cfg.MaxRadiusKM || math.IsInf(currentKM, 1) || currentKM == 0 {
		return nil
	}

	// Interpolate from the reference toward the target until within radius.
	ratio := s.cfg.MaxRadiusKM / currentKM
	return &Point{
		Lat: reference.Lat + (lat-reference.Lat)*ratio,
		Lng: reference.Lng + (lng-reference.Lng)*ratio,
	}
}

func backoff(attempt int) time.Duration {
	wait := time.Duration(1<<uint(attempt)) * time.Second
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(v float64) float64 { return v * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
