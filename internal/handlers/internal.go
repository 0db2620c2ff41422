package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/discounts/internal/platform/httpx"
	"github.com/hanko-field/discounts/internal/services"
)

// pushEnvelope is the body Pub/Sub push subscriptions deliver.
type pushEnvelope struct {
	Message *struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type recomputeRequest struct {
	ProductIDs []string `json:"product_ids"`
}

type voucherUsageRequest struct {
	Email string `json:"email"`
}

// InternalHandlers exposes job triggers for Cloud Scheduler and Pub/Sub push subscriptions, plus the
// voucher accounting hooks used by the order service.
type InternalHandlers struct {
	toggle    services.PromotionToggleService
	indexer   services.PromotionRuleIndexer
	prices    services.DiscountedPriceService
	vouchers  services.VoucherUsageService
	runBudget time.Duration
	replay    func(http.Handler) http.Handler
}

// InternalHandlersDeps wires InternalHandlers.
type InternalHandlersDeps struct {
	Toggle   services.PromotionToggleService
	Indexer  services.PromotionRuleIndexer
	Prices   services.DiscountedPriceService
	Vouchers services.VoucherUsageService
	// RunTimeout bounds job triggers independently of the HTTP client deadline.
	RunTimeout time.Duration
	// Idempotency wraps the voucher usage hooks so retried calls replay the first response.
	Idempotency func(http.Handler) http.Handler
}

// NewInternalHandlers constructs InternalHandlers.
func NewInternalHandlers(deps InternalHandlersDeps) *InternalHandlers {
	return &InternalHandlers{
		toggle:    deps.Toggle,
		indexer:   deps.Indexer,
		prices:    deps.Prices,
		vouchers:  deps.Vouchers,
		runBudget: deps.RunTimeout,
		replay:    deps.Idempotency,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/promotions:toggle", h.togglePromotions)
	r.Post("/promotion-rules:refresh", h.refreshRules)
	r.Post("/products:recompute-discounted-prices", h.recomputePrices)
	r.Group(func(r chi.Router) {
		if h.replay != nil {
			r.Use(h.replay)
		}
		r.Post("/vouchers/{code}:consume", h.consumeVoucher)
		r.Post("/vouchers/{code}:release", h.releaseVoucher)
	})
}

func (h *InternalHandlers) togglePromotions(w http.ResponseWriter, r *http.Request) {
	if h.toggle == nil {
		writeUnavailable(w, r, "promotion toggle")
		return
	}
	ctx, cancel := h.jobContext(r)
	defer cancel()

	run, err := h.toggle.Tick(ctx)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("promotion_toggle_failed", "promotion toggle tick failed", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"ran_at":      run.RanAt.Format(time.RFC3339Nano),
		"started":     nonNilStrings(run.Started),
		"ended":       nonNilStrings(run.Ended),
		"deferred":    run.Deferred,
		"pending":     run.Pending,
		"product_ids": nonNilStrings(run.ProductIDs),
		"next_run_at": run.NextRunAt.Format(time.RFC3339Nano),
	})
}

func (h *InternalHandlers) refreshRules(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeUnavailable(w, r, "promotion rule indexer")
		return
	}
	ctx, cancel := h.jobContext(r)
	defer cancel()

	result, err := h.indexer.RefreshDirtyRules(ctx)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("rule_refresh_failed", "promotion rule refresh failed", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rules": result.Rules, "variants": result.Variants})
}

// recomputePrices accepts either a Pub/Sub push envelope wrapping a PriceRecomputeJob or a plain
// {"product_ids": [...]} body.
func (h *InternalHandlers) recomputePrices(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		writeUnavailable(w, r, "discounted price")
		return
	}
	productIDs, err := decodeRecomputeBody(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	ctx, cancel := h.jobContext(r)
	defer cancel()

	result, err := h.prices.RecomputeProducts(ctx, productIDs)
	if err != nil {
		if errors.Is(err, services.ErrDiscountInvalidInput) {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("price_recompute_failed", "discounted price recompute failed", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"products": result.Products,
		"variants": result.Variants,
		"updated":  result.Updated,
	})
}

func (h *InternalHandlers) consumeVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherUsage(w, r, func(ctx context.Context, cmd services.VoucherUsageCommand) (services.Voucher, error) {
		return h.vouchers.Consume(ctx, cmd)
	})
}

func (h *InternalHandlers) releaseVoucher(w http.ResponseWriter, r *http.Request) {
	h.voucherUsage(w, r, func(ctx context.Context, cmd services.VoucherUsageCommand) (services.Voucher, error) {
		return h.vouchers.Release(ctx, cmd)
	})
}

func (h *InternalHandlers) voucherUsage(w http.ResponseWriter, r *http.Request, call func(context.Context, services.VoucherUsageCommand) (services.Voucher, error)) {
	ctx := r.Context()
	if h.vouchers == nil {
		writeUnavailable(w, r, "voucher usage")
		return
	}
	var req voucherUsageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	voucher, err := call(ctx, services.VoucherUsageCommand{
		Code:  chi.URLParam(r, "code"),
		Email: req.Email,
	})
	if err != nil {
		writeVoucherUsageError(ctx, w, err)
		return
	}
	resp := map[string]any{"code": voucher.Code, "used": voucher.Used}
	if voucher.UsageLimit != nil {
		resp["usage_limit"] = *voucher.UsageLimit
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func writeVoucherUsageError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrVoucherNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_found", "voucher not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVoucherUsageLimitReached):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_usage_limit_reached", "voucher usage limit reached", http.StatusConflict))
	case errors.Is(err, services.ErrVoucherAlreadyRedeemed):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_already_redeemed", "voucher already redeemed by customer", http.StatusConflict))
	case errors.Is(err, services.ErrVoucherNotRedeemed):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_redeemed", "no redemption to release", http.StatusConflict))
	case errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_store_unavailable", "discount store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("voucher_usage_error", "failed to update voucher usage", http.StatusInternalServerError))
	}
}

func (h *InternalHandlers) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.runBudget <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.runBudget)
}

func decodeRecomputeBody(r *http.Request) ([]string, error) {
	var raw json.RawMessage
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		return nil, err
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != nil {
		var job services.PriceRecomputeJob
		if err := json.Unmarshal(envelope.Message.Data, &job); err != nil {
			return nil, errors.New("push message data is not a price recompute job")
		}
		return job.ProductIDs, nil
	}
	var req recomputeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.New("invalid request body")
	}
	return req.ProductIDs, nil
}

func writeUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.NewError("service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
