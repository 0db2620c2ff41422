package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/platform/httpx"
	"github.com/hanko-field/discounts/internal/services"
)

type applyVoucherRequest struct {
	Code string `json:"code"`
}

type moneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type lineDiscountPayload struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	ValueType   string       `json:"value_type"`
	Value       string       `json:"value"`
	Amount      moneyPayload `json:"amount"`
	Name        string       `json:"name,omitempty"`
	RuleID      string       `json:"promotion_rule_id,omitempty"`
	PromotionID string       `json:"promotion_id,omitempty"`
	VoucherCode string       `json:"voucher_code,omitempty"`
}

type linePayload struct {
	ID        string                `json:"id"`
	VariantID string                `json:"variant_id"`
	Quantity  int                   `json:"quantity"`
	UnitPrice moneyPayload          `json:"unit_price"`
	Discounts []lineDiscountPayload `json:"discounts"`
}

type totalsPayload struct {
	SubtotalNet   moneyPayload `json:"subtotal_net"`
	SubtotalGross moneyPayload `json:"subtotal_gross"`
	Shipping      moneyPayload `json:"shipping"`
	Discount      moneyPayload `json:"discount"`
	Total         moneyPayload `json:"total"`
}

type discountResponse struct {
	ID                     string        `json:"id"`
	Channel                string        `json:"channel"`
	VoucherCode            string        `json:"voucher_code,omitempty"`
	Discount               moneyPayload  `json:"discount"`
	DiscountName           string        `json:"discount_name,omitempty"`
	TranslatedDiscountName string        `json:"translated_discount_name,omitempty"`
	VoucherRemoved         bool          `json:"voucher_removed"`
	Lines                  []linePayload `json:"lines"`
	Totals                 totalsPayload `json:"totals"`
	UpdatedAt              string        `json:"updated_at,omitempty"`
}

// DiscountHandlers exposes voucher and recalculation endpoints for checkouts and draft orders.
type DiscountHandlers struct {
	checkouts services.CheckoutDiscountService
	orders    services.OrderDiscountService
	attempts  *voucherAttemptLimiter
}

// DiscountHandlerOption customises DiscountHandlers.
type DiscountHandlerOption func(*DiscountHandlers)

// WithVoucherAttemptLimit limits voucher submissions per checkout or order. Non-positive values
// disable the limit.
func WithVoucherAttemptLimit(limit int, window time.Duration, clock func() time.Time) DiscountHandlerOption {
	return func(h *DiscountHandlers) {
		h.attempts = newVoucherAttemptLimiter(limit, window, clock)
	}
}

// NewDiscountHandlers constructs DiscountHandlers. Either service may be nil, in which case its
// routes respond with 503.
func NewDiscountHandlers(checkouts services.CheckoutDiscountService, orders services.OrderDiscountService, opts ...DiscountHandlerOption) *DiscountHandlers {
	h := &DiscountHandlers{checkouts: checkouts, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// CheckoutRoutes registers the /checkouts endpoints.
func (h *DiscountHandlers) CheckoutRoutes(r chi.Router) {
	r.Get("/{checkoutID}/discounts", h.getCheckoutDiscounts)
	r.Post("/{checkoutID}/voucher", h.addCheckoutVoucher)
	r.Delete("/{checkoutID}/voucher", h.removeCheckoutVoucher)
	r.Post("/{checkoutID}:recalculate", h.recalculateCheckout)
}

// OrderRoutes registers the /orders endpoints.
func (h *DiscountHandlers) OrderRoutes(r chi.Router) {
	r.Post("/{orderID}/voucher", h.addOrderVoucher)
	r.Delete("/{orderID}/voucher", h.removeOrderVoucher)
	r.Post("/{orderID}:recalculate", h.recalculateOrder)
}

func (h *DiscountHandlers) getCheckoutDiscounts(w http.ResponseWriter, r *http.Request) {
	h.checkoutCall(w, r, func(ctx context.Context, id string) (services.CheckoutDiscountResult, error) {
		return h.checkouts.GetDiscounts(ctx, id)
	})
}

func (h *DiscountHandlers) addCheckoutVoucher(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readVoucherCode(w, r, "checkout:"+chi.URLParam(r, "checkoutID"))
	if !ok {
		return
	}
	h.checkoutCall(w, r, func(ctx context.Context, id string) (services.CheckoutDiscountResult, error) {
		return h.checkouts.AddVoucher(ctx, services.ApplyVoucherCommand{TargetID: id, Code: code})
	})
}

func (h *DiscountHandlers) removeCheckoutVoucher(w http.ResponseWriter, r *http.Request) {
	h.checkoutCall(w, r, func(ctx context.Context, id string) (services.CheckoutDiscountResult, error) {
		return h.checkouts.RemoveVoucher(ctx, id)
	})
}

func (h *DiscountHandlers) recalculateCheckout(w http.ResponseWriter, r *http.Request) {
	h.checkoutCall(w, r, func(ctx context.Context, id string) (services.CheckoutDiscountResult, error) {
		return h.checkouts.Recalculate(ctx, id)
	})
}

func (h *DiscountHandlers) addOrderVoucher(w http.ResponseWriter, r *http.Request) {
	code, ok := h.readVoucherCode(w, r, "order:"+chi.URLParam(r, "orderID"))
	if !ok {
		return
	}
	h.orderCall(w, r, func(ctx context.Context, id string) (services.OrderDiscountResult, error) {
		return h.orders.AddVoucher(ctx, services.ApplyVoucherCommand{TargetID: id, Code: code})
	})
}

func (h *DiscountHandlers) removeOrderVoucher(w http.ResponseWriter, r *http.Request) {
	h.orderCall(w, r, func(ctx context.Context, id string) (services.OrderDiscountResult, error) {
		return h.orders.RemoveVoucher(ctx, id)
	})
}

func (h *DiscountHandlers) recalculateOrder(w http.ResponseWriter, r *http.Request) {
	h.orderCall(w, r, func(ctx context.Context, id string) (services.OrderDiscountResult, error) {
		return h.orders.Recalculate(ctx, id)
	})
}

func (h *DiscountHandlers) checkoutCall(w http.ResponseWriter, r *http.Request, call func(context.Context, string) (services.CheckoutDiscountResult, error)) {
	ctx := r.Context()
	if h.checkouts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_discounts_unavailable", "checkout discount service unavailable", http.StatusServiceUnavailable))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "checkoutID"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout id is required", http.StatusBadRequest))
		return
	}
	result, err := call(ctx, id)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	c := result.Checkout
	httpx.WriteJSON(w, http.StatusOK, buildDiscountResponse(c.ID, c.Channel, c.DiscountState, c.Lines, result.Totals, result.VoucherRemoved, c.UpdatedAt))
}

func (h *DiscountHandlers) orderCall(w http.ResponseWriter, r *http.Request, call func(context.Context, string) (services.OrderDiscountResult, error)) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_discounts_unavailable", "order discount service unavailable", http.StatusServiceUnavailable))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	result, err := call(ctx, id)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	o := result.Order
	httpx.WriteJSON(w, http.StatusOK, buildDiscountResponse(o.ID, o.Channel, o.DiscountState, o.Lines, result.Totals, result.VoucherRemoved, o.UpdatedAt))
}

func (h *DiscountHandlers) readVoucherCode(w http.ResponseWriter, r *http.Request, target string) (string, bool) {
	if !h.attempts.Allow(target) {
		httpx.WriteError(r.Context(), w, httpx.NewError("too_many_voucher_attempts", "too many voucher attempts; try again later", http.StatusTooManyRequests))
		return "", false
	}
	var req applyVoucherRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return "", false
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest).
			WithDetails(map[string]any{"field": "voucher_code"}))
		return "", false
	}
	return code, true
}

func writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	var notApplicable *services.NotApplicableError
	switch {
	case errors.As(err, &notApplicable):
		details := map[string]any{"field": "voucher_code"}
		if notApplicable.MinSpent != nil {
			details["min_spent"] = newMoneyPayload(*notApplicable.MinSpent)
		}
		if notApplicable.MinCheckoutItemsQuantity != nil {
			details["min_checkout_items_quantity"] = *notApplicable.MinCheckoutItemsQuantity
		}
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_applicable", notApplicable.Message, http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotEditable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_editable", "only draft orders accept discount changes", http.StatusConflict))
	case errors.Is(err, services.ErrDiscountConflict):
		httpx.WriteError(ctx, w, httpx.NewError("discount_conflict", "the target was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_store_unavailable", "discount store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrDiscountRuleInvalid), errors.Is(err, domain.ErrCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("discount_data_invalid", "discount configuration is invalid", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "failed to process discount request", http.StatusInternalServerError))
	}
}

func buildDiscountResponse(id, channel string, state domain.DiscountState, lines []domain.Line, totals domain.DiscountTotals, removed bool, updatedAt time.Time) discountResponse {
	resp := discountResponse{
		ID:                     id,
		Channel:                channel,
		VoucherCode:            state.VoucherCode,
		Discount:               newMoneyPayload(state.Discount),
		DiscountName:           state.DiscountName,
		TranslatedDiscountName: state.TranslatedDiscountName,
		VoucherRemoved:         removed,
		Lines:                  make([]linePayload, 0, len(lines)),
		Totals: totalsPayload{
			SubtotalNet:   newMoneyPayload(totals.Subtotal.Net),
			SubtotalGross: newMoneyPayload(totals.Subtotal.Gross),
			Shipping:      newMoneyPayload(totals.Shipping),
			Discount:      newMoneyPayload(totals.Discount),
			Total:         newMoneyPayload(totals.Total),
		},
	}
	if !updatedAt.IsZero() {
		resp.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, line := range lines {
		payload := linePayload{
			ID:        line.ID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: newMoneyPayload(line.UnitPrice),
			Discounts: make([]lineDiscountPayload, 0, len(line.Discounts)),
		}
		for _, d := range line.Discounts {
			payload.Discounts = append(payload.Discounts, lineDiscountPayload{
				ID:          d.ID,
				Type:        string(d.Type),
				ValueType:   string(d.ValueType),
				Value:       d.Value,
				Amount:      newMoneyPayload(d.Amount),
				Name:        d.Name,
				RuleID:      d.RuleID,
				PromotionID: d.PromotionID,
				VoucherCode: d.VoucherCode,
			})
		}
		resp.Lines = append(resp.Lines, payload)
	}
	return resp
}

func newMoneyPayload(m domain.Money) moneyPayload {
	return moneyPayload{
		Amount:   m.Amount.StringFixed(domain.CurrencyScale(m.Currency)),
		Currency: m.Currency,
	}
}
