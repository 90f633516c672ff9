/**
 * @description
 * This file contains the HTTP handlers for the investment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ideainvest/investment-service/internal/app"
	"github.com/ideainvest/investment-service/internal/domain"
	"github.com/ideainvest/investment-service/internal/store"
)

// InvestmentHandlers holds the services that handlers will use.
type InvestmentHandlers struct {
	service  *app.Service
	sessions *app.SessionManager
}

// NewInvestmentHandlers creates a new instance of InvestmentHandlers.
func NewInvestmentHandlers(service *app.Service, sessions *app.SessionManager) *InvestmentHandlers {
	return &InvestmentHandlers{service: service, sessions: sessions}
}

// successEnvelope mirrors the response shape the web client expects on a
// successful payment: a nested success object carrying status and message.
type successEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// orderSubmissionResponse is returned when an order reaches the completed state.
type orderSubmissionResponse struct {
	Success      successEnvelope     `json:"success"`
	Order        *domain.Order       `json:"order"`
	Transaction  *domain.Transaction `json:"transaction"`
	ProviderTxID string              `json:"provider_tx_id"`
	Resumed      bool                `json:"resumed,omitempty"`
}

// SubmitOrderHandler handles investment order submissions.
func (h *InvestmentHandlers) SubmitOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_order outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ProjectID == uuid.Nil {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}

	log.Printf("level=info component=api endpoint=submit_order outcome=accepted user_id=%s project_id=%s amount=%d reference_id=%s", userID, req.ProjectID, req.Amount, req.ReferenceID)

	result, err := h.service.SubmitOrder(r.Context(), userID, req)
	if err != nil {
		h.writeOrderError(w, userID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, orderSubmissionResponse{
		Success:      successEnvelope{StatusCode: http.StatusCreated, Message: "Payment successful"},
		Order:        result.Order,
		Transaction:  result.Transaction,
		ProviderTxID: result.ProviderTxID,
		Resumed:      result.Resumed,
	})
}

// writeOrderError maps order submission failures onto HTTP statuses.
func (h *InvestmentHandlers) writeOrderError(w http.ResponseWriter, userID uuid.UUID, err error) {
	log.Printf("level=warn component=api endpoint=submit_order outcome=failed user_id=%s err=%v", userID, err)

	var capErr *store.CapacityExceededError
	var rateErr *app.RateLimitedError
	var gwErr *app.GatewayError

	switch {
	case errors.As(err, &capErr):
		// The message carries the exact remaining amount so the client can
		// offer it to the user.
		h.writeError(w, http.StatusBadRequest, capErr.Error())
	case errors.Is(err, store.ErrCapacityExhausted):
		h.writeError(w, http.StatusBadRequest, "Fund is already fulfilled")
	case errors.Is(err, store.ErrDuplicateReference):
		h.writeError(w, http.StatusConflict, "Already paid")
	case errors.Is(err, store.ErrProjectNotFound):
		h.writeError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidReference), errors.Is(err, app.ErrCurrencyMismatch):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many order submissions. Please try again shortly.")
	case errors.As(err, &gwErr):
		h.writeError(w, http.StatusPaymentRequired, gwErr.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ListOrdersHandler returns all orders placed by the authenticated user.
func (h *InvestmentHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	orders, err := h.service.GetUserOrders(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_orders user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load orders")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// GetOrderHandler returns one of the authenticated user's orders with its transaction.
func (h *InvestmentHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		http.Error(w, "Invalid order ID format", http.StatusBadRequest)
		return
	}

	order, tx, err := h.service.GetUserOrder(r.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_order user_id=%s order_id=%s err=%v", userID, orderID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load order")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"order": order, "transaction": tx})
}

// ProjectCapacityHandler returns the remaining fundable amount for a project.
func (h *InvestmentHandlers) ProjectCapacityHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		http.Error(w, "Invalid project ID format", http.StatusBadRequest)
		return
	}

	capacity, err := h.service.RemainingCapacity(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			h.writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		log.Printf("level=error component=api endpoint=project_capacity project_id=%s err=%v", projectID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load project capacity")
		return
	}
	h.writeJSON(w, http.StatusOK, capacity)
}

// CreateSessionHandler mints a session token for a user. This is an internal
// endpoint called by the identity service after it has authenticated the user.
func (h *InvestmentHandlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "Invalid user ID format", http.StatusBadRequest)
		return
	}

	token, session, err := h.sessions.Issue(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=create_session user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to create session")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      token,
		"expires_at": session.ExpiresAt,
	})
}

// DeleteSessionHandler revokes the authenticated user's active session.
func (h *InvestmentHandlers) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	if err := h.sessions.Revoke(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			h.writeJSON(w, http.StatusOK, map[string]string{"message": "No active session"})
			return
		}
		log.Printf("level=error component=api endpoint=delete_session user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to revoke session")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

// writeJSON is a helper for writing JSON responses.
func (h *InvestmentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *InvestmentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
