package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hangtight/bookingd/internal/model"
	"github.com/hangtight/bookingd/internal/payments"
	"github.com/hangtight/bookingd/internal/reconcile"
)

func testHandler() *Handler {
	return &Handler{logger: slog.New(slog.DiscardHandler)}
}

func TestWritePaymentError_TimeoutIsAccepted(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)

	testHandler().writePaymentError(rec, req, "capture", "b1", payments.ErrStillProcessing)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if body["status"] != "processing" {
		t.Fatalf("status field = %v, want processing", body["status"])
	}
	if body["success"] != false {
		t.Fatalf("success field = %v, want false", body["success"])
	}
}

func TestWritePaymentError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid amount", payments.ErrInvalidAmount, http.StatusBadRequest},
		{"synthetic booking id", model.ErrInvalidBookingID, http.StatusBadRequest},
		{"no intent", payments.ErrNoPaymentIntent, http.StatusUnprocessableEntity},
		{"no intent to reconcile", reconcile.ErrNoPaymentIntent, http.StatusUnprocessableEntity},
		{"unknown external state", reconcile.ErrUnknownExternalState, http.StatusBadGateway},
		{"state conflict", &payments.StateConflictError{Op: "capture", PaymentStatus: model.PaymentPending}, http.StatusConflict},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/capture", nil)
		testHandler().writePaymentError(rec, req, "capture", "b1", tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid json error body: %v", tc.name, err)
		}
		if body["success"] != false {
			t.Fatalf("%s: success field = %v, want false", tc.name, body["success"])
		}
		if msg, _ := body["error"].(string); msg == "" {
			t.Fatalf("%s: error field missing from %v", tc.name, body)
		}
	}
}
