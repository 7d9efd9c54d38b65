// Command seed registers demo identities and walks a few scans through the
// review lifecycle so a fresh environment has something to look at.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/adapters/providers/labeling"
	"github.com/zatekoja/dermascan/internal/app"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/visibility"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	"github.com/zatekoja/dermascan/pkg/config"
)

// 1x1 transparent PNG
var samplePNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type demoScan struct {
	labels   []entities.LabelScore
	correct  *services.CorrectionInput
	escalate bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.App.ServiceName+"-seed", cfg.App.Env)
	ctx := context.Background()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer stores.Close()

	if os.Getenv("RESET_DB") == "true" {
		log.Warn().Msg("RESET_DB=true detected, truncating tables before seeding")
		if err := stores.Truncate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset tables")
		}
	}

	redisClient, err := app.OpenRedis(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	blobs, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}
	provider, err := app.IdentityProvider(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize identity provider")
	}
	liveBus := app.OpenLiveBus(cfg, redisClient)
	defer liveBus.Close()
	transitions := app.OpenTransitionLog(cfg, redisClient)
	defer transitions.Close()

	identities := services.NewIdentityService(stores.Identities, provider, services.NewPatientDirectory(stores.Identities))
	scans := services.NewScanService(stores.Scans, stores.Identities, blobs, liveBus, transitions, nil, services.ScanConfig{
		RequireSignoff: cfg.Review.RequireSignoff,
		StoragePrefix:  cfg.Storage.Prefix,
	})
	sessions := services.NewSessionStore(stores.Identities)
	classifier := labeling.NewStaticClassifier()
	pipeline := services.NewAnalysisPipeline(services.AnalysisConfig{Workers: 1}, scans, stores.Scans, blobs, classifier, labeling.Interpret, nil)

	register := func(name, email string, role entities.Role) (entities.Principal, string) {
		identity, token, err := identities.Register(ctx, services.RegisterRequest{DisplayName: name, Email: email, Role: role})
		if err != nil {
			log.Fatal().Err(err).Str("email", email).Msg("Failed to register identity")
		}
		principal, err := entities.AsPrincipal(identity)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build principal")
		}
		fmt.Printf("%-10s %-22s id=%s token=%s\n", role, name, identity.ID, token)
		return principal, token
	}

	clinician, _ := register("Dr. Amaka Eze", "amaka.eze@example.com", entities.RoleClinician)

	plan := map[string][]demoScan{
		"Ada Obi": {
			{labels: []entities.LabelScore{{Label: "mole", Confidence: 0.91}}},
			{labels: []entities.LabelScore{{Label: "melanoma", Confidence: 0.74}}, escalate: true},
		},
		"Bola Ade": {
			{labels: []entities.LabelScore{{Label: "keratosis", Confidence: 0.82}}},
			{labels: []entities.LabelScore{{Label: "skin", Confidence: 0.95}}, correct: &services.CorrectionInput{
				Label:     labeling.LabelKeratosis,
				Severity:  entities.SeverityLow,
				Narrative: "Clinically consistent with seborrheic keratosis; no follow-up needed.",
			}},
		},
		"Chidi Okafor": {
			{},
		},
	}

	count := 0
	for _, name := range []string{"Ada Obi", "Bola Ade", "Chidi Okafor"} {
		patient, _ := register(name, emailFor(name), entities.RolePatient)
		viewer := visibility.NewViewer(patient, nil)
		if _, err := sessions.Select(ctx, "seed", clinician, patient.Profile().ID); err != nil {
			log.Fatal().Err(err).Str("patient", name).Msg("Failed to select patient")
		}
		chart := sessions.Viewer("seed", clinician)

		for _, demo := range plan[name] {
			record, err := scans.Upload(ctx, viewer, "", samplePNG, "image/png")
			if err != nil {
				log.Fatal().Err(err).Str("patient", name).Msg("Failed to upload scan")
			}
			count++
			if demo.labels == nil {
				// Left awaiting analysis.
				continue
			}
			classifier.Set(record.ImageRef, demo.labels...)
			if err := pipeline.Process(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("record_id", record.ID).Msg("Failed to analyze scan")
				continue
			}
			if demo.correct != nil {
				if _, err := scans.Correct(ctx, chart, record.ID, *demo.correct); err != nil {
					log.Error().Err(err).Str("record_id", record.ID).Msg("Failed to correct scan")
				}
			}
			if demo.escalate {
				if _, err := scans.Escalate(ctx, chart, record.ID); err != nil {
					log.Error().Err(err).Str("record_id", record.ID).Msg("Failed to escalate scan")
				}
			}
		}
	}

	log.Info().Int("scans", count).Msg("Seeding completed successfully")
}

func emailFor(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			out = append(out, '.')
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, r)
		}
	}
	return string(out) + "@example.com"
}
