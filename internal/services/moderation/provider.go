package moderation

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// RESTDetector calls an external label-detection API over HTTP. The wire
// contract mirrors common vision moderation providers: base64 image in,
// scored labels out.
type RESTDetector struct {
	client *resty.Client
	apiKey string
}

func NewRESTDetector(client *resty.Client, baseURL, apiKey string) *RESTDetector {
	return &RESTDetector{
		client: client.SetBaseURL(baseURL),
		apiKey: apiKey,
	}
}

type detectRequest struct {
	Image         string  `json:"image"`
	MinConfidence float64 `json:"min_confidence"`
}

type detectResponse struct {
	Labels []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
		ParentName string  `json:"parent_name"`
	} `json:"labels"`
}

func (d *RESTDetector) DetectLabels(ctx context.Context, image []byte, minConfidence float64) ([]Label, error) {
	var parsed detectResponse

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+d.apiKey).
		SetBody(detectRequest{
			Image:         base64.StdEncoding.EncodeToString(image),
			MinConfidence: minConfidence,
		}).
		SetResult(&parsed).
		Post("/v1/moderation/labels")
	if err != nil {
		return nil, fmt.Errorf("detect labels: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("detect labels: unexpected status %d", resp.StatusCode())
	}

	labels := make([]Label, 0, len(parsed.Labels))
	for _, l := range parsed.Labels {
		labels = append(labels, Label{
			Name:       l.Name,
			Confidence: l.Confidence,
			ParentName: l.ParentName,
		})
	}
	return labels, nil
}
