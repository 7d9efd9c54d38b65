package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/entities"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

// Interpreter turns raw label scores into an automated result
type Interpreter func(labels []entities.LabelScore, analyzedAt time.Time) *entities.AutomatedResult

// AnalysisConfig sizes the worker pool
type AnalysisConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

// AnalysisPipeline classifies newly created records on a bounded worker
// pool. A failed classification leaves the record awaiting analysis.
type AnalysisPipeline struct {
	scans      *ScanService
	repo       repositories.ScanRepository
	blobs      providers.BlobStore
	classifier providers.Classifier
	interpret  Interpreter
	metrics    *observability.Metrics
	cfg        AnalysisConfig
	queue      chan string
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewAnalysisPipeline creates a pipeline and registers it with scans
func NewAnalysisPipeline(
	cfg AnalysisConfig,
	scans *ScanService,
	repo repositories.ScanRepository,
	blobs providers.BlobStore,
	classifier providers.Classifier,
	interpret Interpreter,
	metrics *observability.Metrics,
) *AnalysisPipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Queue < 1 {
		cfg.Queue = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &AnalysisPipeline{
		scans:      scans,
		repo:       repo,
		blobs:      blobs,
		classifier: classifier,
		interpret:  interpret,
		metrics:    metrics,
		cfg:        cfg,
		queue:      make(chan string, cfg.Queue),
		now:        func() time.Time { return time.Now().UTC() },
	}
	scans.SetAnalysisQueue(p)
	return p
}

// Enqueue schedules recordID without blocking and reports whether it fit
func (p *AnalysisPipeline) Enqueue(recordID string) bool {
	select {
	case p.queue <- recordID:
		return true
	default:
		return false
	}
}

// Start launches the workers; they stop when ctx is cancelled
func (p *AnalysisPipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-p.queue:
					p.process(ctx, id)
				}
			}
		}()
	}
	log.Info().Int("workers", p.cfg.Workers).Msg("Analysis pipeline started")
}

// Wait blocks until all workers have exited
func (p *AnalysisPipeline) Wait() {
	p.wg.Wait()
}

// Process classifies one record synchronously
func (p *AnalysisPipeline) Process(ctx context.Context, recordID string) error {
	ctx, span := observability.StartSpan(ctx, "AnalysisPipeline.Process")
	defer span.End()
	logger := observability.LoggerFromContext(ctx).With().Str("record_id", recordID).Logger()

	record, err := p.repo.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	if record.AutomatedResult != nil {
		return apperrors.NewAlreadyAnalyzedError(recordID)
	}

	url, err := p.blobs.URL(ctx, record.ImageRef)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve image URL for analysis")
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	started := time.Now()
	labels, err := p.classifier.Classify(callCtx, providers.ClassifyRequest{ImageRef: record.ImageRef, ImageURL: url})
	cancel()
	observability.RecordAnalysis(ctx, p.metrics, time.Since(started), err == nil)
	if err != nil {
		observability.RecordError(span, err)
		logger.Warn().Err(err).Msg("Classification failed, record left awaiting analysis")
		return err
	}

	result := p.interpret(labels, p.now())
	if _, err := p.scans.AttachAutomatedResult(ctx, recordID, result); err != nil {
		return err
	}
	logger.Info().Str("label", result.Label).Float64("confidence", result.Confidence).Msg("Automated result attached")
	return nil
}

func (p *AnalysisPipeline) process(ctx context.Context, recordID string) {
	err := p.Process(ctx, recordID)
	switch {
	case err == nil:
	case apperrors.IsType(err, apperrors.ErrorTypeAlreadyAnalyzed):
		log.Debug().Str("record_id", recordID).Msg("Record already analyzed, skipping")
	default:
		log.Error().Err(err).Str("record_id", recordID).Msg("Analysis failed")
	}
}

// Recover re-enqueues records created more than olderThan ago that still have
// no automated result. That includes records a clinician resolved before the
// classifier ever succeeded.
func (p *AnalysisPipeline) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	records, err := p.repo.List(ctx, repositories.ScanFilter{Unanalyzed: true})
	if err != nil {
		return 0, err
	}

	cutoff := p.now().Add(-olderThan)
	queued := 0
	for _, r := range records {
		if r.AutomatedResult != nil || r.CreatedAt.After(cutoff) {
			continue
		}
		if !p.Enqueue(r.ID) {
			log.Warn().Int("queued", queued).Msg("Analysis queue full during recovery")
			break
		}
		queued++
	}
	log.Info().Int("queued", queued).Dur("older_than", olderThan).Msg("Recovered stuck analyses")
	return queued, nil
}
