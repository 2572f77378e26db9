package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/fetcher"
	"github.com/Pragya1904/HTTP-Inventory/internal/repository"
)

// Outcome is the processor's verdict for one delivery. The consumer loop maps
// it to the broker acknowledgement.
type Outcome int

const (
	// OutcomeCompleted: terminal success persisted (or stale redelivery of a
	// terminal record). ACK.
	OutcomeCompleted Outcome = iota
	// OutcomeRetryableFailure: transient failure persisted, attempts remain.
	// NACK with requeue.
	OutcomeRetryableFailure
	// OutcomePermanentFailure: terminal failure persisted. ACK.
	OutcomePermanentFailure
	// OutcomeMalformed: unusable message. ACK, never requeue poison.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	case OutcomePermanentFailure:
		return "permanent_failure"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Fetcher is the metadata fetch port; failures carry retryable/permanent
// classification via fetcher.IsRetryable.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*domain.FetchResult, error)
}

// Processor converts one delivery into a deterministic record transition and
// an acknowledgement decision. It touches only the document store; broker
// acks belong to the consumer loop.
type Processor struct {
	repo          repository.MetadataRepository
	fetcher       Fetcher
	maxRetries    int
	maxPageSource int
	log           zerolog.Logger
}

func NewProcessor(repo repository.MetadataRepository, f Fetcher, maxRetries, maxPageSourceLength int, log zerolog.Logger) *Processor {
	return &Processor{
		repo:          repo,
		fetcher:       f,
		maxRetries:    maxRetries,
		maxPageSource: maxPageSourceLength,
		log:           log.With().Str("component", "processor").Logger(),
	}
}

// Process handles one raw delivery body.
//
// An error return means an infrastructure write failed mid-transition; the
// consumer requeues the delivery and the idempotent upserts absorb the redo.
func (p *Processor) Process(ctx context.Context, body []byte) (Outcome, error) {
	env, ok := parseEnvelope(body)
	if !ok {
		p.log.Warn().
			Str("event", "message_malformed").
			Str("body", truncateForLog(body)).
			Msg("dropping malformed message")
		return OutcomeMalformed, nil
	}

	log := p.log.With().
		Str("url", env.URL).
		Str("request_id", env.RequestID).
		Logger()
	log.Info().Str("event", "message_received").Msg("processing delivery")

	if err := p.repo.EnsurePending(ctx, env.URL, env.RequestID); err != nil {
		return 0, err
	}

	attempt, terminal, err := p.repo.MarkInProgress(ctx, env.URL, env.RequestID)
	if err != nil {
		return 0, err
	}
	if terminal {
		// Stale redelivery of a record that already reached COMPLETED or
		// FAILED_PERMANENT: ack without re-fetching.
		log.Info().
			Str("event", "terminal_redelivery_skipped").
			Int("attempt_number", attempt).
			Msg("record already terminal")
		return OutcomeCompleted, nil
	}

	result, err := p.fetcher.Fetch(ctx, env.URL)
	if err == nil {
		meta := p.buildMetadata(result)
		if err := p.repo.MarkCompleted(ctx, env.URL, env.RequestID, attempt, meta); err != nil {
			return 0, err
		}
		log.Info().
			Str("event", "metadata_persisted").
			Int("attempt_number", attempt).
			Int("status_code", result.StatusCode).
			Msg("metadata persisted")
		return OutcomeCompleted, nil
	}

	errMsg := err.Error()

	if fetcher.IsRetryable(err) && attempt < p.maxRetries {
		if err := p.repo.MarkRetryableFailure(ctx, env.URL, env.RequestID, attempt, errMsg); err != nil {
			return 0, err
		}
		log.Warn().
			Str("event", "metadata_retryable_failure").
			Int("attempt_number", attempt).
			Str("reason", errMsg).
			Msg("retryable fetch failure")
		return OutcomeRetryableFailure, nil
	}

	// Permanent error, or retries exhausted.
	if err := p.repo.MarkPermanentFailure(ctx, env.URL, env.RequestID, attempt, errMsg); err != nil {
		return 0, err
	}
	log.Warn().
		Str("event", "metadata_permanent_failure").
		Int("attempt_number", attempt).
		Str("reason", errMsg).
		Msg("permanent fetch failure")
	return OutcomePermanentFailure, nil
}

// buildMetadata truncates the page source to the configured limit, recording
// the original length when truncation happens.
func (p *Processor) buildMetadata(result *domain.FetchResult) domain.Metadata {
	meta := domain.Metadata{
		Headers:    result.Headers,
		Cookies:    result.Cookies,
		PageSource: result.PageSource,
		StatusCode: result.StatusCode,
		FinalURL:   result.FinalURL,
	}
	if meta.Headers == nil {
		meta.Headers = map[string]string{}
	}
	if meta.Cookies == nil {
		meta.Cookies = map[string]string{}
	}
	if p.maxPageSource > 0 && len(meta.PageSource) > p.maxPageSource {
		meta.AdditionalDetails = map[string]any{
			"truncated":       true,
			"original_length": len(meta.PageSource),
		}
		meta.PageSource = meta.PageSource[:p.maxPageSource]
	}
	return meta
}

func parseEnvelope(body []byte) (domain.Envelope, bool) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, false
	}
	env.URL = strings.TrimSpace(env.URL)
	if env.URL == "" {
		return env, false
	}
	return env, true
}

func truncateForLog(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
