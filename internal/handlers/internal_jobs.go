package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/platform/requestctx"
	"github.com/nilemarket/storefront/internal/services"
)

const maxPushBodySize = 64 * 1024

// InternalJobHandlers receives Pub/Sub push deliveries for background work.
type InternalJobHandlers struct {
	orders services.OrderService
}

// NewInternalJobHandlers constructs internal job handlers.
func NewInternalJobHandlers(orders services.OrderService) *InternalJobHandlers {
	return &InternalJobHandlers{orders: orders}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/order-cleanup", h.orderCleanup)
}

type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// orderCleanup finishes the deferred steps of an order. Any non-2xx answer makes Pub/Sub redeliver
// the message, so permanent failures are acknowledged with 200.
func (h *InternalJobHandlers) orderCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	var envelope pushEnvelope
	if err := decodeJSONBody(r, maxPushBodySize, &envelope); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message data is not base64", http.StatusBadRequest))
		return
	}
	var job services.CleanupJobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message data is not a cleanup job", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(job.OrderID) == "" {
		job.OrderID = envelope.Message.Attributes["orderId"]
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("orderId", job.OrderID),
		zap.String("messageId", envelope.Message.MessageID),
		zap.Int("attempt", job.Attempt),
	)
	_, err = h.orders.CompleteCleanup(ctx, job.OrderID)
	switch {
	case err == nil:
		logger.Info("job.order_cleanup.completed")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderInvalidInput):
		logger.Warn("job.order_cleanup.dropped", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "dropped"})
	default:
		logger.Warn("job.order_cleanup.retry", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_pending", "order cleanup will be retried", http.StatusServiceUnavailable))
	}
}
