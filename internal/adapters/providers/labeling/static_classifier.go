package labeling

import (
	"context"
	"strings"
	"sync"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// StaticClassifier returns preset labels for development and tests. Labels
// set for an image reference take precedence over the defaults.
type StaticClassifier struct {
	mu       sync.RWMutex
	defaults []entities.LabelScore
	byRef    map[string][]entities.LabelScore
	failures map[string]error
}

// NewStaticClassifier creates a classifier that answers with defaults
func NewStaticClassifier(defaults ...entities.LabelScore) *StaticClassifier {
	if len(defaults) == 0 {
		defaults = []entities.LabelScore{
			{Label: "skin", Confidence: 0.97},
			{Label: "mole", Confidence: 0.88},
		}
	}
	return &StaticClassifier{
		defaults: defaults,
		byRef:    make(map[string][]entities.LabelScore),
		failures: make(map[string]error),
	}
}

var _ providers.Classifier = (*StaticClassifier)(nil)

// Set fixes the labels returned for imageRef
func (c *StaticClassifier) Set(imageRef string, labels ...entities.LabelScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byRef[imageRef] = labels
	delete(c.failures, imageRef)
}

// Fail makes classification of imageRef return err
func (c *StaticClassifier) Fail(imageRef string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[imageRef] = err
}

func (c *StaticClassifier) Classify(ctx context.Context, req providers.ClassifyRequest) ([]entities.LabelScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewUpstreamError("classification cancelled", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err, ok := c.failures[req.ImageRef]; ok {
		return nil, apperrors.NewUpstreamError("labeling service unavailable", err)
	}
	labels, ok := c.byRef[req.ImageRef]
	if !ok {
		labels = c.defaults
	}

	out := make([]entities.LabelScore, len(labels))
	for i, l := range labels {
		out[i] = entities.LabelScore{Label: strings.ToLower(l.Label), Confidence: l.Confidence}
	}
	return out, nil
}
