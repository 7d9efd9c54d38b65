package labeling

import (
	"time"

	"github.com/zatekoja/dermascan/internal/domain/entities"
)

const (
	LabelSuspiciousLesion = "Suspicious Lesion (Possible Melanoma)"
	LabelKeratosis        = "Seborrheic Keratosis"
	LabelBenignNevus      = "Benign Nevus (Mole)"
)

var narratives = map[string]string{
	LabelSuspiciousLesion: "The lesion shows characteristics that warrant further investigation by a dermatologist. Asymmetry or irregular borders can be warning signs.",
	LabelKeratosis:        "This is a common, non-cancerous skin growth. They often appear in middle-aged or older adults.",
	LabelBenignNevus:      "This appears to be a common mole. These are typically harmless but should be monitored for changes.",
}

// Interpret maps detected labels to an automated result. Melanoma, or a
// lesion with asymmetry or irregular borders, is suspicious; keratosis is
// seborrheic keratosis; anything else is read as a benign nevus.
//
// Confidence sits in a fixed band per outcome, scaled by the strongest
// supporting label score.
func Interpret(labels []entities.LabelScore, analyzedAt time.Time) *entities.AutomatedResult {
	scores := make(map[string]float64, len(labels))
	var top float64
	for _, l := range labels {
		if l.Confidence > scores[l.Label] {
			scores[l.Label] = l.Confidence
		}
		if l.Confidence > top {
			top = l.Confidence
		}
	}
	has := func(label string) bool {
		_, ok := scores[label]
		return ok
	}
	strongest := func(names ...string) float64 {
		var best float64
		for _, n := range names {
			if scores[n] > best {
				best = scores[n]
			}
		}
		return best
	}

	result := &entities.AutomatedResult{
		Labels:     labels,
		AnalyzedAt: analyzedAt,
	}

	switch {
	case has("melanoma") || (has("lesion") && (has("asymmetry") || has("irregular"))):
		result.Label = LabelSuspiciousLesion
		result.Severity = entities.SeverityHigh
		result.Malignant = true
		result.Confidence = 0.75 + 0.1*strongest("melanoma", "asymmetry", "irregular", "lesion")
	case has("keratosis"):
		result.Label = LabelKeratosis
		result.Severity = entities.SeverityLow
		result.Confidence = 0.90 + 0.05*scores["keratosis"]
	default:
		result.Label = LabelBenignNevus
		result.Severity = entities.SeverityLow
		result.Confidence = 0.85 + 0.1*top
	}
	result.Narrative = narratives[result.Label]
	return result
}
