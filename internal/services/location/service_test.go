package location

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"
)

type fakeGeocoder struct {
	results []*Result
	errs    []error
	calls   int
}

func (f *fakeGeocoder) Geocode(_ context.Context, _ string) (*Result, error) {
	return f.next()
}

func (f *fakeGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (*Result, error) {
	return f.next()
}

func (f *fakeGeocoder) next() (*Result, error) {
	i := f.calls
	f.calls++
	var result *Result
	var err error
	if i < len(f.results) {
		result = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return result, err
}

func newTestService(geocoder Geocoder, cfg Config) (*Service, *[]time.Duration) {
	svc := NewService(geocoder, cfg, nil)
	var waits []time.Duration
	svc.sleep = func(d time.Duration) { waits = append(waits, d) }
	return svc, &waits
}

func TestValidateRejectsOutOfBoundsWithoutProviderCall(t *testing.T) {
	geocoder := &fakeGeocoder{}
	svc, _ := newTestService(geocoder, Config{})

	tests := []struct {
		name string
		lat  float64
		lng  float64
	}{
		{name: "lat too high", lat: 91, lng: 0},
		{name: "lat too low", lat: -90.5, lng: 0},
		{name: "lng too high", lat: 0, lng: 181},
		{name: "lng too low", lat: 0, lng: -180.1},
		{name: "nan lat", lat: math.NaN(), lng: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := svc.Validate(tt.lat, tt.lng, nil)
			if v.IsValid {
				t.Fatalf("expected invalid for (%v, %v)", tt.lat, tt.lng)
			}
		})
	}

	if geocoder.calls != 0 {
		t.Fatalf("validate must not call the provider, got %d calls", geocoder.calls)
	}
}

func TestValidateWarnsOnSuspiciousCoordinates(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{})

	v := svc.Validate(0, 0, nil)
	if !v.IsValid {
		t.Fatalf("null island should be valid with a warning: %s", v.ErrorMessage)
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("expected one warning for null island, got %v", v.Warnings)
	}

	v = svc.Validate(87.5, 10, nil)
	if !v.IsValid || len(v.Warnings) != 1 {
		t.Fatalf("near-polar point should be valid with a warning: %+v", v)
	}

	v = svc.Validate(47.6, -122.3, nil)
	if !v.IsValid || len(v.Warnings) != 0 {
		t.Fatalf("ordinary point should have no warnings: %+v", v)
	}
}

func TestValidateFailsBeyondRadiusAndSuggests(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{MaxRadiusKM: 3.218})

	ref := &Point{Lat: 47.6062, Lng: -122.3321}
	// Roughly 12 km north of the reference.
	v := svc.Validate(47.7141, -122.3321, ref)
	if v.IsValid {
		t.Fatalf("point outside radius should fail")
	}
	if v.Suggested == nil {
		t.Fatalf("expected a suggested coordinate")
	}

	d := svc.Distance(v.Suggested.Lat, v.Suggested.Lng, ref.Lat, ref.Lng)
	if d > 3.218+0.01 {
		t.Fatalf("suggested point should be within radius, distance %.3f km", d)
	}

	// Inside the radius passes untouched.
	v = svc.Validate(47.6097, -122.3331, ref)
	if !v.IsValid {
		t.Fatalf("point within radius should pass: %s", v.ErrorMessage)
	}
}

func TestApplyPrivacyFuzzStaysWithinRadius(t *testing.T) {
	const fuzzMeters = 100.0
	svc, _ := newTestService(&fakeGeocoder{}, Config{PrivacyFuzzMeters: fuzzMeters})

	lat, lng := 47.6062, -122.3321
	for i := 0; i < 200; i++ {
		fLat, fLng := svc.ApplyPrivacyFuzz(lat, lng)
		if fLat < -90 || fLat > 90 || fLng < -180 || fLng > 180 {
			t.Fatalf("fuzzed point out of bounds: (%v, %v)", fLat, fLng)
		}

		// Per-axis offsets are bounded, so the displacement along each axis
		// must stay within the configured radius in degrees.
		maxDeg := fuzzMeters / metersPerDegree
		if math.Abs(fLat-lat) > maxDeg || math.Abs(fLng-lng) > maxDeg {
			t.Fatalf("fuzz offset exceeds bound: dLat=%v dLng=%v max=%v", fLat-lat, fLng-lng, maxDeg)
		}
	}
}

func TestApplyPrivacyFuzzZeroRadiusPassesThrough(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{PrivacyFuzzMeters: 0})

	lat, lng := 47.6062, -122.3321
	fLat, fLng := svc.ApplyPrivacyFuzz(lat, lng)
	if fLat != lat || fLng != lng {
		t.Fatalf("zero fuzz radius must pass through: got (%v, %v)", fLat, fLng)
	}
}

func TestApplyPrivacyFuzzClampsAtBounds(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{PrivacyFuzzMeters: 500})
	svc.randUnit = func() float64 { return 1 } // maximum positive offset

	fLat, fLng := svc.ApplyPrivacyFuzz(89.9999, 179.9999)
	if fLat > 90 || fLng > 180 {
		t.Fatalf("fuzzed point must be re-clamped: (%v, %v)", fLat, fLng)
	}
}

func TestDistanceSeattle(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{})

	d := svc.Distance(47.6062, -122.3321, 47.6097, -122.3331)
	if math.Abs(d-0.39) > 0.05 {
		t.Fatalf("unexpected distance: got %.4f km, want ~0.39", d)
	}
}

func TestDistanceSentinelOnBadInput(t *testing.T) {
	svc, _ := newTestService(&fakeGeocoder{}, Config{})

	if d := svc.Distance(math.NaN(), 0, 0, 0); !math.IsInf(d, 1) {
		t.Fatalf("expected +Inf sentinel, got %v", d)
	}
}

func TestGeocodeRetriesTimeoutsWithBackoff(t *testing.T) {
	geocoder := &fakeGeocoder{
		errs:    []error{ErrTimeout, ErrTimeout, nil},
		results: []*Result{nil, nil, {Lat: 47.6, Lng: -122.3, Address: "Seattle"}},
	}
	svc, waits := newTestService(geocoder, Config{MaxRetries: 3})

	result := svc.Geocode(context.Background(), "somewhere in Seattle")
	if result == nil {
		t.Fatalf("expected result after retries")
	}
	if geocoder.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", geocoder.calls)
	}
	if len(*waits) != 2 || (*waits)[0] != 1*time.Second || (*waits)[1] != 2*time.Second {
		t.Fatalf("unexpected backoff waits: %v", *waits)
	}
}

func TestGeocodeBackoffIsCapped(t *testing.T) {
	if got := backoff(6); got != maxBackoff {
		t.Fatalf("backoff should cap at %s, got %s", maxBackoff, got)
	}
}

func TestGeocodeQuotaExceededDoesNotRetry(t *testing.T) {
	geocoder := &fakeGeocoder{errs: []error{fmt.Errorf("wrapped: %w", ErrQuotaExceeded)}}
	svc, waits := newTestService(geocoder, Config{MaxRetries: 3})

	if result := svc.Geocode(context.Background(), "anywhere"); result != nil {
		t.Fatalf("expected degraded nil result")
	}
	if geocoder.calls != 1 {
		t.Fatalf("quota errors must abort immediately, got %d calls", geocoder.calls)
	}
	if len(*waits) != 0 {
		t.Fatalf("no backoff expected, got %v", *waits)
	}
}

func TestGeocodeDegradesToNilAfterExhaustedRetries(t *testing.T) {
	geocoder := &fakeGeocoder{errs: []error{ErrTimeout, ErrTimeout, ErrTimeout}}
	svc, _ := newTestService(geocoder, Config{MaxRetries: 3})

	if result := svc.Geocode(context.Background(), "anywhere"); result != nil {
		t.Fatalf("expected nil after retries exhausted")
	}
	if geocoder.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", geocoder.calls)
	}
}

func TestGeocodeEmptyAddress(t *testing.T) {
	geocoder := &fakeGeocoder{}
	svc, _ := newTestService(geocoder, Config{})

	if result := svc.Geocode(context.Background(), "   "); result != nil {
		t.Fatalf("blank address should resolve to nil")
	}
	if geocoder.calls != 0 {
		t.Fatalf("blank address must not reach the provider")
	}
}

func TestReverseGeocodeRejectsInvalidCoordinatesLocally(t *testing.T) {
	geocoder := &fakeGeocoder{}
	svc, _ := newTestService(geocoder, Config{})

	if result := svc.ReverseGeocode(context.Background(), 120, 0); result != nil {
		t.Fatalf("out-of-range coordinates should resolve to nil")
	}
	if geocoder.calls != 0 {
		t.Fatalf("invalid coordinates must not reach the provider")
	}
}
