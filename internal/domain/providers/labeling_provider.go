package providers

import (
	"context"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

// ClassifyRequest identifies the image to label
type ClassifyRequest struct {
	ImageRef string
	ImageURL string
}

// Classifier is the image-labeling collaborator
type Classifier interface {
	// Classify returns label scores for the image or an upstream error
	Classify(ctx context.Context, req ClassifyRequest) ([]entities.LabelScore, error)
}
