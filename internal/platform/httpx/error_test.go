package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/discounts/internal/platform/requestctx"
)

func TestWriteErrorMergesDetails(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc"})
	rec := httptest.NewRecorder()

	err := NewError("voucher_not_applicable", "Voucher not applicable\n", http.StatusBadRequest).
		WithDetails(map[string]any{"field": "voucher_code", "min_spent": "50.00", "min_checkout_items_quantity": nil})
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "voucher_not_applicable" || body["message"] != "Voucher not applicable" || body["trace_id"] != "abc" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["field"] != "voucher_code" || body["min_spent"] != "50.00" {
		t.Fatalf("expected details merged, got %v", body)
	}
	if _, ok := body["min_checkout_items_quantity"]; ok {
		t.Fatalf("nil detail should be dropped")
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Code string `json:"code"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"SUMMER"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Code != "SUMMER" {
		t.Fatalf("unexpected decode result %q %v", dst.Code, err)
	}

	for _, body := range []string{``, `{"code":"A","extra":1}`, `{"code":"A"}{"code":"B"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := DecodeJSON(req, &dst); err == nil {
			t.Errorf("expected error for body %q", body)
		}
	}
}
