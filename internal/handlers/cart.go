package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nilemarket/storefront/internal/platform/httpx"
	"github.com/nilemarket/storefront/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the session cart.
type CartHandlers struct {
	sessions SessionIssuer
	carts    services.CartService
}

// NewCartHandlers constructs cart handlers. Mutations issue a session when the caller has none.
func NewCartHandlers(sessions SessionIssuer, carts services.CartService) *CartHandlers {
	return &CartHandlers{sessions: sessions, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items", h.setQuantity)
	r.Delete("/items", h.removeItem)
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Color     string `json:"color"`
	Quantity  *int   `json:"quantity"`
}

type cartLinePayload struct {
	ProductID   string `json:"productId"`
	Color       string `json:"color"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Total       int64  `json:"total"`
	ProductName string `json:"productName,omitempty"`
	ImageRef    string `json:"imageRef,omitempty"`
	StoreID     string `json:"storeId"`
	StoreName   string `json:"storeName,omitempty"`
}

type cartGroupPayload struct {
	StoreID   string            `json:"storeId"`
	StoreName string            `json:"storeName,omitempty"`
	Items     []cartLinePayload `json:"items"`
	Subtotal  int64             `json:"subtotal"`
}

type cartResponse struct {
	Success   bool               `json:"success"`
	Error     string             `json:"error,omitempty"`
	Items     []cartLinePayload  `json:"items"`
	Groups    []cartGroupPayload `json:"groups"`
	Subtotal  int64              `json:"subtotal"`
	ItemCount int                `json:"itemCount"`
	UpdatedAt string             `json:"updatedAt,omitempty"`

	Outcome      string `json:"outcome,omitempty"`
	LimitReached bool   `json:"limitReached,omitempty"`
	Adjusted     bool   `json:"adjusted,omitempty"`
	Max          *int   `json:"max,omitempty"`
	Existing     *int   `json:"existing,omitempty"`
	Added        *int   `json:"added,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartServiceUnavailable(ctx, w)
		return
	}
	view, err := h.carts.Read(ctx, currentSession(ctx))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartServiceUnavailable(ctx, w)
		return
	}
	var req cartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	sessionID, ok := ensureSession(w, r, h.sessions)
	if !ok {
		return
	}

	result, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		SessionID: sessionID,
		ProductID: req.ProductID,
		Color:     req.Color,
		Quantity:  quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartServiceUnavailable(ctx, w)
		return
	}
	var req cartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	sessionID, ok := ensureSession(w, r, h.sessions)
	if !ok {
		return
	}

	result, err := h.carts.SetQuantity(ctx, services.SetCartQuantityCommand{
		SessionID: sessionID,
		ProductID: req.ProductID,
		Color:     req.Color,
		Quantity:  *req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartServiceUnavailable(ctx, w)
		return
	}
	var req cartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	// Without a session there is no cart to remove from.
	sessionID := currentSession(ctx)
	if sessionID == "" {
		resp := buildCartResponse(services.CartView{})
		resp.Outcome = string(services.CartOutcomeRemoved)
		writeJSONResponse(w, http.StatusOK, resp)
		return
	}

	result, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		SessionID: sessionID,
		ProductID: req.ProductID,
		Color:     req.Color,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartServiceUnavailable(ctx, w)
		return
	}
	if sessionID := currentSession(ctx); sessionID != "" {
		if err := h.carts.Clear(ctx, sessionID); err != nil {
			writeCartError(ctx, w, err)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(services.CartView{}))
}

func buildCartResponse(view services.CartView) cartResponse {
	resp := cartResponse{
		Success:   true,
		Items:     make([]cartLinePayload, 0, len(view.Lines)),
		Groups:    make([]cartGroupPayload, 0, len(view.Groups)),
		Subtotal:  view.Subtotal,
		ItemCount: view.ItemCount,
		UpdatedAt: formatTime(view.UpdatedAt),
	}
	for _, line := range view.Lines {
		resp.Items = append(resp.Items, buildCartLine(line))
	}
	for _, group := range view.Groups {
		payload := cartGroupPayload{
			StoreID:   group.StoreID,
			StoreName: group.StoreName,
			Items:     make([]cartLinePayload, 0, len(group.Lines)),
			Subtotal:  group.Subtotal,
		}
		for _, line := range group.Lines {
			payload.Items = append(payload.Items, buildCartLine(line))
		}
		resp.Groups = append(resp.Groups, payload)
	}
	return resp
}

func buildMutationResponse(result services.CartMutationResult) cartResponse {
	resp := buildCartResponse(result.Cart)
	resp.Outcome = string(result.Outcome)
	switch result.Outcome {
	case services.CartOutcomeLimitReached:
		resp.Success = false
		resp.Error = "limit_reached"
		resp.LimitReached = true
	case services.CartOutcomeAdjusted:
		resp.Adjusted = true
	}
	if adj := result.Adjustment; adj != nil {
		resp.Max = &adj.Max
		resp.Existing = &adj.Existing
		resp.Added = &adj.Added
	}
	return resp
}

func buildCartLine(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		ProductID:   line.ProductID,
		Color:       line.Color,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		Total:       line.Total(),
		ProductName: strings.TrimSpace(line.ProductName),
		ImageRef:    line.ImageRef,
		StoreID:     line.StoreID,
		StoreName:   line.StoreName,
	}
}

func writeCartServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "color variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		writeCartServiceUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart request failed", http.StatusInternalServerError))
	}
}
