package labeling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

type annotateRequest struct {
	ImageURL string `json:"imageUrl"`
	ImageRef string `json:"imageRef,omitempty"`
}

type labelAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type annotateResponse struct {
	LabelAnnotations []labelAnnotation `json:"labelAnnotations"`
	Error            *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPClassifier calls a label-detection endpoint over HTTP
type HTTPClassifier struct {
	httpClient *resty.Client
}

// NewHTTPClassifier creates a classifier against baseURL. A non-empty apiKey
// is sent as the key query parameter.
func NewHTTPClassifier(baseURL, apiKey string, timeout time.Duration) *HTTPClassifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetQueryParam("key", apiKey)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &HTTPClassifier{httpClient: client}
}

var _ providers.Classifier = (*HTTPClassifier)(nil)

// Classify posts the image URL and returns the detected labels, lowercased
func (c *HTTPClassifier) Classify(ctx context.Context, req providers.ClassifyRequest) ([]entities.LabelScore, error) {
	if req.ImageURL == "" {
		return nil, apperrors.NewValidationError("image URL is required for classification")
	}

	var response annotateResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(annotateRequest{ImageURL: req.ImageURL, ImageRef: req.ImageRef}).
		SetResult(&response).
		SetError(&response).
		Post("/annotate")
	if err != nil {
		log.Error().Err(err).Str("image_ref", req.ImageRef).Msg("Labeling API call failed")
		return nil, apperrors.NewUpstreamError("labeling service unavailable", err)
	}

	if resp.IsError() {
		msg := resp.Status()
		if response.Error != nil && response.Error.Message != "" {
			msg = response.Error.Message
		}
		log.Error().Int("status_code", resp.StatusCode()).Str("image_ref", req.ImageRef).Msg("Labeling API returned error")
		return nil, apperrors.NewUpstreamError(fmt.Sprintf("labeling service error: %s", msg), nil)
	}

	labels := make([]entities.LabelScore, 0, len(response.LabelAnnotations))
	for _, a := range response.LabelAnnotations {
		if a.Description == "" {
			continue
		}
		labels = append(labels, entities.LabelScore{
			Label:      strings.ToLower(a.Description),
			Confidence: clamp(a.Score),
		})
	}
	return labels, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
