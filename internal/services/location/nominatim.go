package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
)

// NominatimClient implements Geocoder against a Nominatim-compatible HTTP API.
type NominatimClient struct {
	http    *resty.Client
	baseURL string
}

type nominatimPlace struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Type        string            `json:"type"`
	Importance  float64           `json:"importance"`
	PlaceRank   int               `json:"place_rank"`
	Address     map[string]string `json:"address"`
}

func NewNominatimClient(http *resty.Client, baseURL string) *NominatimClient {
	return &NominatimClient{
		http:    http,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *NominatimClient) Geocode(ctx context.Context, address string) (*Result, error) {
	if c.http == nil {
		return nil, fmt.Errorf("%w: http client is nil", ErrService)
	}

	var places []nominatimPlace
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":              address,
			"format":         "jsonv2",
			"limit":          "1",
			"addressdetails": "1",
		}).
		SetResult(&places).
		Get(c.baseURL + "/search")
	if err := classifyError(resp, err); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}

	return parsePlace(places[0])
}

func (c *NominatimClient) ReverseGeocode(ctx context.Context, lat, lng float64) (*Result, error) {
	if c.http == nil {
		return nil, fmt.Errorf("%w: http client is nil", ErrService)
	}

	var place nominatimPlace
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":            strconv.FormatFloat(lat, 'f', -1, 64),
			"lon":            strconv.FormatFloat(lng, 'f', -1, 64),
			"format":         "jsonv2",
			"addressdetails": "1",
		}).
		SetResult(&place).
		Get(c.baseURL + "/reverse")
	if err := classifyError(resp, err); err != nil {
		return nil, err
	}
	if place.Lat == "" && place.Lon == "" {
		return nil, nil
	}

	return parsePlace(place)
}

func classifyError(resp *resty.Response, err error) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrService, err)
	}
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrService)
	}

	switch {
	case resp.StatusCode() == 429:
		return fmt.Errorf("%w: status %d", ErrQuotaExceeded, resp.StatusCode())
	case resp.StatusCode() == 503:
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode())
	case resp.StatusCode() >= 400:
		return fmt.Errorf("%w: status %d", ErrService, resp.StatusCode())
	}

	return nil
}

func parsePlace(place nominatimPlace) (*Result, error) {
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parse lat %q", ErrService, place.Lat)
	}
	lng, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parse lon %q", ErrService, place.Lon)
	}

	addr := place.Address
	result := &Result{
		Lat:          lat,
		Lng:          lng,
		Address:      place.DisplayName,
		Confidence:   confidenceFrom(place.Importance, place.PlaceRank),
		PlaceType:    place.Type,
		Neighborhood: firstOf(addr, "neighbourhood", "suburb", "district", "quarter"),
		City:         firstOf(addr, "city", "town", "village", "municipality"),
		State:        firstOf(addr, "state", "province", "region"),
		Country:      firstOf(addr, "country", "country_code"),
		PostalCode:   addr["postcode"],
	}
	result.FormattedAddress = formatAddress(addr, result.City, result.State, place.DisplayName)

	return result, nil
}

func confidenceFrom(importance float64, placeRank int) float64 {
	if importance == 0 {
		importance = 0.5
	}
	if placeRank == 0 {
		placeRank = 30
	}
	confidence := importance * (1 - float64(placeRank)/50)
	return math.Max(0.1, math.Min(1.0, confidence))
}

func formatAddress(addr map[string]string, city, state, fallback string) string {
	var components []string

	switch {
	case addr["house_number"] != "" && addr["road"] != "":
		components = append(components, addr["house_number"]+" "+addr["road"])
	case addr["road"] != "":
		components = append(components, addr["road"])
	}
	if city != "" {
		components = append(components, city)
	}
	if state != "" {
		components = append(components, state)
	}

	if len(components) == 0 {
		return fallback
	}
	return strings.Join(components, ", ")
}

func firstOf(addr map[string]string, keys ...string) string {
	for _, key := range keys {
		if addr[key] != "" {
			return addr[key]
		}
	}
	return ""
}
