package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/billingsync/pkg/billing"
	"github.com/mihaimyh/billingsync/pkg/commerce"
	"github.com/mihaimyh/billingsync/pkg/reconcile"
)

const (
	maxIDLen       = 255
	paramMessageID = "messageId"
	paramKind      = "kind"
	paramID        = "id"
)

var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)

// Handler provides HTTP endpoints for ledger inspection and manual resyncs
type Handler struct {
	config Config
}

// Routes returns a router serving GET /events/{messageId} and
// POST /resync/{kind}/{id}, for mounting under an admin prefix.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/events/{"+paramMessageID+"}", h.GetEvent)
	r.Post("/resync/{"+paramKind+"}/{"+paramID+"}", h.Resync)
	return r
}

// GetEvent returns the ledger record of one push message
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	messageID, err := h.param(r, paramMessageID)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	rec, err := h.config.Store.GetEventRecord(r.Context(), messageID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to read event ledger: %w", err), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		h.handleError(w, r, fmt.Errorf("%w: message %s", errNotFound, messageID), http.StatusNotFound)
		return
	}

	resp := EventResponse{
		MessageID:    rec.MessageID,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Status:       rec.Status,
		Attempts:     rec.Attempts,
		Error:        rec.Error,
		ProcessedAt:  rec.ProcessedAt,
	}
	if rec.Status == reconcile.StatusInProgress && !rec.LeaseUntil.IsZero() {
		lease := rec.LeaseUntil
		resp.LeaseUntil = &lease
	}
	writeJSON(w, http.StatusOK, resp)
}

// Resync fetches one entity from the commerce platform and reconciles it
// immediately, bypassing the event ledger.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := h.param(r, paramKind)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	id, err := h.param(r, paramID)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	ref := commerce.ResourceIdentifier{TypeID: commerce.ResourceType(kind), ID: id}
	switch ref.TypeID {
	case commerce.ResourceProduct, commerce.ResourceCustomer, commerce.ResourceOrder:
	default:
		h.handleError(w, r, fmt.Errorf("%w: unknown kind %q", errBadRequest, kind), http.StatusBadRequest)
		return
	}

	ev, err := h.config.Fetcher.FetchEvent(ctx, ref)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to fetch %s %s: %w", kind, id, err), http.StatusBadGateway)
		return
	}
	if ev == nil {
		h.handleError(w, r, fmt.Errorf("%w: %s %s", errNotFound, kind, id), http.StatusNotFound)
		return
	}

	res, err := h.config.Reconciler.Handle(ctx, *ev)
	resp := resyncResponse(kind, id, res)
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		resp.Retryable = billing.IsRetryable(err)
		if resp.Retryable {
			resp.Status = reconcile.StatusFailed
			code = http.StatusBadGateway
		} else {
			resp.Status = reconcile.StatusRejected
			code = http.StatusUnprocessableEntity
		}
		h.config.Logger.Warn("manual resync failed",
			billing.F("kind", kind),
			billing.F("id", id),
			billing.F("error", err))
	} else {
		h.config.Logger.Info("manual resync completed",
			billing.F("kind", kind),
			billing.F("id", id),
			billing.F("status", string(resp.Status)))
	}
	writeJSON(w, code, resp)
}

func resyncResponse(kind, id string, res *reconcile.Result) ResyncResponse {
	resp := ResyncResponse{Kind: kind, ID: id, Status: reconcile.StatusSucceeded}
	if res == nil {
		return resp
	}
	resp.Status = res.Status
	if res.Product != nil {
		for _, v := range res.Product.Variants {
			out := VariantOutcome{SKU: v.SKU, ProductID: v.ProductID, PlanID: v.PlanID, PriceID: v.PriceID}
			if v.Err != nil {
				out.Error = v.Err.Error()
			}
			resp.Variants = append(resp.Variants, out)
		}
	}
	if res.Account != nil {
		resp.AccountNumber = res.Account.AccountNumber
	}
	if res.Order != nil {
		resp.OrderNumber = res.Order.OrderNumber
	}
	return resp
}

// param reads and validates a path parameter
func (h *Handler) param(r *http.Request, key string) (string, error) {
	v := strings.TrimSpace(h.config.URLParam(r, key))
	if v == "" || len(v) > maxIDLen {
		return "", fmt.Errorf("%w: invalid %s", errBadRequest, key)
	}
	return v, nil
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log encoding error but response already sent
		return
	}
}
