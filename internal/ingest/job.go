package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/logger"
	"github.com/arturp39/factcheck-collector/pkg/metrics"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/internal/extractor"
	"github.com/arturp39/factcheck-collector/internal/fetcher"
	"github.com/arturp39/factcheck-collector/internal/robots"
)

// blockReason classifies why an endpoint's articles stopped being usable.
type blockReason string

const (
	reasonRobots     blockReason = "ROBOTS_DISALLOWED"
	reasonBlocked    blockReason = "BLOCKED_OR_CAPTCHA"
	reasonExtraction blockReason = "EXTRACTION_FAILED"
)

type jobStore interface {
	CompleteLog(ctx context.Context, log *domain.IngestionLog) error
	RecordEndpointSuccess(ctx context.Context, endpointID int64) error
	RecordEndpointFailure(ctx context.Context, endpointID int64) error
	RecordBlockSignal(ctx context.Context, endpointID int64, threshold int, duration time.Duration) error
	ClearEndpointBlockState(ctx context.Context, endpointID int64) error
	MarkEndpointRobotsDisallowed(ctx context.Context, endpointID int64) error
}

// EndpointJob runs the full pipeline for one endpoint within a run: fetch,
// discover, enrich, and index every article, then complete the log and update
// the endpoint's health bookkeeping.
type EndpointJob struct {
	cfg        config.IngestionConfig
	store      jobStore
	fetchers   *fetcher.Registry
	robots     *robots.Cache
	discovery  *Discovery
	enrichment *Enrichment
	indexer    *Indexer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewEndpointJob creates an EndpointJob.
func NewEndpointJob(
	cfg config.IngestionConfig,
	store jobStore,
	fetchers *fetcher.Registry,
	robotsCache *robots.Cache,
	discovery *Discovery,
	enrichment *Enrichment,
	indexer *Indexer,
	m *metrics.Metrics,
) *EndpointJob {
	return &EndpointJob{
		cfg:        cfg,
		store:      store,
		fetchers:   fetchers,
		robots:     robotsCache,
		discovery:  discovery,
		enrichment: enrichment,
		indexer:    indexer,
		metrics:    m,
		logger:     logger.WithComponent("endpoint-job"),
	}
}

// Run processes one endpoint task end to end. The log row always ends in a
// terminal status; a non-nil error means even that bookkeeping failed.
func (j *EndpointJob) Run(ctx context.Context, endpoint *domain.SourceEndpoint, logRow *domain.IngestionLog) error {
	now := time.Now().UTC()

	if endpoint.RobotsDisallowed {
		return j.completeLog(ctx, logRow, domain.LogSkipped, 0, 0, 0,
			"Robots.txt disallows scraping for this source")
	}
	if endpoint.Blocked(now) {
		return j.completeLog(ctx, logRow, domain.LogSkipped, 0, 0, 0,
			fmt.Sprintf("Source blocked until %s", endpoint.BlockedUntil.UTC().Format(time.RFC3339)))
	}

	f := j.fetchers.For(endpoint)
	if f == nil {
		if err := j.store.RecordEndpointFailure(ctx, endpoint.ID); err != nil {
			j.logger.Error("recording endpoint failure", "endpoint_id", endpoint.ID, "error", err)
		}
		return j.completeLog(ctx, logRow, domain.LogFailed, 0, 0, 0,
			fmt.Sprintf("Fetch error: no fetcher supports endpoint kind %s", endpoint.Kind))
	}

	raws, err := f.Fetch(ctx, endpoint)
	if err != nil {
		j.logger.Error("fetch failed", "endpoint_id", endpoint.ID, "error", err)
		if recErr := j.store.RecordEndpointFailure(ctx, endpoint.ID); recErr != nil {
			j.logger.Error("recording endpoint failure", "endpoint_id", endpoint.ID, "error", recErr)
		}
		return j.completeLog(ctx, logRow, domain.LogFailed, 0, 0, 0, "Fetch error: "+err.Error())
	}
	if j.metrics != nil {
		j.metrics.ArticlesFetchedTotal.
			WithLabelValues(strings.ToLower(string(endpoint.Kind))).Add(float64(len(raws)))
	}

	// One robots probe on the first page saves the per-article rejections
	// when the whole site refuses us.
	if sample := firstCrawlableURL(raws); sample != "" && !j.robots.Allowed(ctx, sample) {
		if err := j.store.MarkEndpointRobotsDisallowed(ctx, endpoint.ID); err != nil {
			j.logger.Error("marking robots disallowed", "endpoint_id", endpoint.ID, "error", err)
		}
		return j.completeLog(ctx, logRow, domain.LogSkipped, len(raws), 0, 0,
			"Robots.txt disallows scraping for this source")
	}

	fetched := len(raws)
	processed := 0
	failed := 0
	var lastReason blockReason

	for _, raw := range raws {
		if j.discovery.ShouldSkip(raw) {
			continue
		}
		res, err := j.discovery.Discover(ctx, endpoint, raw)
		if err != nil {
			j.logger.Error("discovery failed", "endpoint_id", endpoint.ID, "url", raw.URL, "error", err)
			failed++
			continue
		}
		if res == nil || !res.IsNew {
			continue
		}

		enr, err := j.enrichment.Enrich(ctx, res.Article, raw)
		if err != nil {
			j.logger.Error("enrichment failed", "article_id", res.Article.ID, "error", err)
			failed++
			continue
		}
		if !enr.Success {
			failed++
			if j.metrics != nil {
				j.metrics.ArticlesFailedTotal.Inc()
			}
			reason := classifyBlockReason(enr.Fetch)
			if reason != "" {
				lastReason = reason
			}
			if reason == reasonRobots {
				if err := j.store.MarkEndpointRobotsDisallowed(ctx, endpoint.ID); err != nil {
					j.logger.Error("marking robots disallowed", "endpoint_id", endpoint.ID, "error", err)
				}
				break
			}
			if reason == reasonBlocked {
				break
			}
			continue
		}

		if j.indexer.Index(ctx, res.Article, enr.Text) {
			processed++
		} else {
			failed++
			if j.metrics != nil {
				j.metrics.ArticlesFailedTotal.Inc()
			}
		}
	}

	status := domain.LogSuccess
	if failed > 0 {
		if processed > 0 {
			status = domain.LogPartial
		} else {
			status = domain.LogFailed
		}
	}

	j.updateEndpointState(ctx, endpoint, processed, failed, lastReason)
	return j.completeLog(ctx, logRow, status, fetched, processed, failed, "")
}

// updateEndpointState applies the endpoint health bookkeeping for one task
// outcome. Captcha walls and all-articles-unextractable outcomes count as
// block signals; a clean task clears failure and block state.
func (j *EndpointJob) updateEndpointState(ctx context.Context, endpoint *domain.SourceEndpoint, processed, failed int, reason blockReason) {
	hadSuccess := processed > 0
	blockSignal := reason != "" && reason != reasonRobots &&
		(reason == reasonBlocked || (!hadSuccess && reason == reasonExtraction))

	var err error
	switch {
	case blockSignal:
		err = j.store.RecordBlockSignal(ctx, endpoint.ID, j.cfg.BlockThreshold, j.cfg.BlockDuration)
		if err == nil && endpoint.BlockCount+1 >= j.cfg.BlockThreshold {
			j.logger.Warn("endpoint blocked",
				"endpoint_id", endpoint.ID, "reason", string(reason), "duration", j.cfg.BlockDuration)
			if j.metrics != nil {
				j.metrics.EndpointBlocksTotal.Inc()
			}
		}
	case failed == 0:
		err = j.store.RecordEndpointSuccess(ctx, endpoint.ID)
	default:
		err = j.store.RecordEndpointFailure(ctx, endpoint.ID)
		if err == nil && hadSuccess {
			err = j.store.ClearEndpointBlockState(ctx, endpoint.ID)
		}
	}
	if err != nil {
		j.logger.Error("updating endpoint state", "endpoint_id", endpoint.ID, "error", err)
	}
}

func (j *EndpointJob) completeLog(ctx context.Context, logRow *domain.IngestionLog, status domain.LogStatus, fetched, processed, failed int, details string) error {
	logRow.Status = status
	logRow.ArticlesFound = fetched
	logRow.ArticlesNew = processed
	logRow.ArticlesFailed = failed
	logRow.ErrorDetails = details
	if err := j.store.CompleteLog(ctx, logRow); err != nil {
		return fmt.Errorf("completing log run=%d endpoint=%d: %w", logRow.RunID, logRow.EndpointID, err)
	}
	if j.metrics != nil {
		j.metrics.TasksProcessedTotal.WithLabelValues(string(status)).Inc()
	}
	j.logger.Info("endpoint task completed",
		"run_id", logRow.RunID, "endpoint_id", logRow.EndpointID, "status", string(status),
		"fetched", fetched, "processed", processed, "failed", failed)
	return nil
}

// classifyBlockReason maps a failed fetch-and-extract outcome to the block
// reason driving endpoint bookkeeping.
func classifyBlockReason(fetch *extractor.Result) blockReason {
	if fetch == nil {
		return ""
	}
	if fetch.BlockedSuspected {
		return reasonBlocked
	}
	if fetch.RobotsDisallowed || strings.Contains(strings.ToLower(fetch.FetchError), "robots.txt") {
		return reasonRobots
	}
	if strings.Contains(strings.ToLower(fetch.ExtractionError), "low-quality extraction") {
		return reasonExtraction
	}
	return ""
}

// firstCrawlableURL returns the first article URL of the batch, used to probe
// robots.txt once before crawling, or "" when no article carries a URL.
func firstCrawlableURL(raws []domain.RawArticle) string {
	for _, raw := range raws {
		if strings.TrimSpace(raw.URL) != "" {
			return raw.URL
		}
	}
	return ""
}
