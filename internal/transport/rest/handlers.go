package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/Pragya1904/HTTP-Inventory/internal/domain"
	"github.com/Pragya1904/HTTP-Inventory/internal/logger"
	"github.com/Pragya1904/HTTP-Inventory/internal/messaging"
	appCtx "github.com/Pragya1904/HTTP-Inventory/internal/pkg/context"
	"github.com/Pragya1904/HTTP-Inventory/internal/repository"
	"github.com/Pragya1904/HTTP-Inventory/internal/transport/rest/response"
)

type Handler struct {
	pub              messaging.Publisher
	repo             repository.MetadataRepository
	readinessTimeout time.Duration
}

func NewHandler(pub messaging.Publisher, repo repository.MetadataRepository, readinessTimeout time.Duration) *Handler {
	return &Handler{pub: pub, repo: repo, readinessTimeout: readinessTimeout}
}

// SubmitMetadata accepts {"url": "..."} and enqueues a fetch request. The
// store is only touched after the broker has confirmed the message.
func (h *Handler) SubmitMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "request.invalid", "invalid body", nil)
		return
	}

	url, err := domain.NormalizeURL(req.URL)
	if err != nil {
		fail(w, r, http.StatusUnprocessableEntity, "url.invalid", "invalid url", map[string]string{
			"url": "must be an absolute http or https url",
		})
		return
	}

	h.enqueue(w, r, url)
}

// GetMetadata returns the stored record for ?url=..., enqueueing a fetch when
// no terminal record exists yet.
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		fail(w, r, http.StatusBadRequest, "url.required", "url query parameter is required", nil)
		return
	}
	url, err := domain.NormalizeURL(raw)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "url.invalid", "invalid url", map[string]string{
			"url": "must be an absolute http or https url",
		})
		return
	}

	rec, err := h.repo.Get(r.Context(), url)
	if err != nil {
		log := logger.WithCtx(r.Context())
		log.Error().Err(err).Str("url", url).Msg("store read failed")
		fail(w, r, http.StatusServiceUnavailable, "store.unavailable", "document store unavailable", nil)
		return
	}
	if rec == nil {
		h.enqueue(w, r, url)
		return
	}

	switch rec.Status {
	case domain.StatusCompleted:
		response.JSON(w, http.StatusOK, map[string]any{
			"status":   rec.Status,
			"url":      rec.URL,
			"metadata": rec.Metadata,
		})
	case domain.StatusFailedPermanent:
		response.JSON(w, http.StatusOK, map[string]any{
			"status":         rec.Status,
			"url":            rec.URL,
			"error_msg":      rec.Processing.ErrorMsg,
			"attempt_number": rec.Processing.AttemptNumber,
		})
	default:
		if rec.Status.InFlight() {
			// Queued or mid-processing: report progress without re-enqueueing.
			response.JSON(w, http.StatusAccepted, map[string]any{
				"status":     domain.StatusInProgress,
				"url":        rec.URL,
				"request_id": rec.Processing.LastRequestID,
			})
			return
		}
		// Unrecognized status value in the store: re-enqueue rather than
		// report something unknown.
		h.enqueue(w, r, url)
	}
}

// enqueue publishes a fetch envelope and answers 202 on broker confirm.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, url string) {
	requestID := appCtx.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	env := domain.Envelope{
		URL:         url,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
		RequestID:   requestID,
	}
	if err := h.pub.Publish(r.Context(), env); err != nil {
		code, msg := publishError(err)
		fail(w, r, http.StatusServiceUnavailable, code, msg, nil)
		return
	}

	// Best-effort placeholder so a follow-up GET sees PENDING instead of a
	// duplicate enqueue. Publish already succeeded, so failure here only
	// loses the early visibility.
	if err := h.repo.EnsurePending(r.Context(), url, requestID); err != nil {
		log := logger.WithCtx(r.Context())
		log.Warn().Err(err).Str("url", url).Msg("pending placeholder write failed")
	}

	response.JSON(w, http.StatusAccepted, map[string]any{
		"status":     domain.StatusQueued,
		"url":        url,
		"request_id": requestID,
	})
}

func publishError(err error) (code, message string) {
	switch {
	case errors.Is(err, messaging.ErrQueueRejected):
		return "queue.full", "queue is at capacity"
	case errors.Is(err, messaging.ErrPublisherNotReady):
		return "publisher.not_ready", "publisher is reconnecting"
	case errors.Is(err, messaging.ErrPublishTimeout):
		return "publish.timeout", "broker did not confirm in time"
	default:
		return "publish.failed", "failed to enqueue request"
	}
}

// Live is process liveness only.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports readiness: publisher in READY state and store reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.pub.Ready() {
		log := logger.WithCtx(r.Context())
		log.Warn().
			Str("event", "readiness_failed").
			Str("publisher_state", h.pub.State().String()).
			Msg("publisher not ready")
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "publisher " + h.pub.State().String(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.readinessTimeout)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		log := logger.WithCtx(r.Context())
		log.Warn().Err(err).
			Str("event", "readiness_failed").
			Msg("store ping failed")
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "store unreachable",
		})
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
