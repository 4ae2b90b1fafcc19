package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "699000000", want: "237699000000"},
		{raw: "+237 699 00 00 00", want: "237699000000"},
		{raw: "00237699000000", want: "237699000000"},
		{raw: "237237699000000", want: "237699000000"},
		{raw: "(237) 67-000-0000", want: "237670000000"},
		{raw: "", wantErr: true},
		{raw: "12345", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.raw, "237")
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidDestination) {
				t.Fatalf("NormalizePhone(%q): expected ErrInvalidDestination, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizePhone(%q) failed: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]error{
		"ER101": domain.ErrInvalidDestination,
		"ER102": domain.ErrUnsupportedCarrier,
		"ER201": domain.ErrInvalidAmount,
		"ER301": domain.ErrInsufficientBalance,
		"ER999": domain.ErrGatewayUnknown,
		"":      domain.ErrGatewayUnknown,
	}
	for code, want := range tests {
		err := error(&Error{Code: code, Message: "x"})
		if !errors.Is(err, want) {
			t.Fatalf("code %q: expected %v, got %v", code, want, err)
		}
	}
}

func TestIsSimulatedReference(t *testing.T) {
	assert.True(t, IsSimulatedReference("SIMULATED-payout-1"))
	assert.False(t, IsSimulatedReference("CP-1234"))
}

func TestCarrier_SimulatedWithoutToken(t *testing.T) {
	client := NewClient(Config{Mode: ModeSandbox, BaseURL: "http://127.0.0.1:1"})
	registry := NewDefaultRegistry(client)

	carrier, err := registry.Carrier(domain.OperatorMTN)
	require.NoError(t, err)

	res, err := carrier.Disburse(context.Background(), DisburseRequest{AmountMinor: 5000, Phone: "670000001", Reference: "payout-1"})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Equal(t, "SIMULATED-payout-1", res.Reference)
	assert.Equal(t, int64(100), res.AmountMinor, "sandbox clamps amount")
	assert.Equal(t, "237670000001", res.Phone)
}

func TestCarrier_RejectsForeignPrefix(t *testing.T) {
	client := NewClient(Config{Mode: ModeSimulated})
	registry := NewDefaultRegistry(client)

	orange, err := registry.Carrier(domain.OperatorOrange)
	require.NoError(t, err)

	_, err = orange.Disburse(context.Background(), DisburseRequest{AmountMinor: 10, Phone: "670000001", Reference: "p"})
	require.ErrorIs(t, err, domain.ErrUnsupportedCarrier)

	_, err = registry.Carrier(domain.Operator("AIRTEL"))
	require.ErrorIs(t, err, domain.ErrUnsupportedCarrier)
}

func TestClient_LiveDisburse(t *testing.T) {
	var body disburseBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/withdraw/", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"CP-42","status":"SUCCESSFUL"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Mode: ModeLive, BaseURL: server.URL, Token: "secret"})
	res, err := NewMTNCarrier(client).Disburse(context.Background(), DisburseRequest{
		AmountMinor: 5000, Phone: "+237 670 000 001", Reference: "payout-7", Description: "order item",
	})
	require.NoError(t, err)
	assert.False(t, res.Simulated)
	assert.Equal(t, "CP-42", res.Reference)
	assert.Equal(t, "5000", body.Amount, "live mode does not clamp")
	assert.Equal(t, "237670000001", body.To)
	assert.Equal(t, "payout-7", body.ExternalReference)
}

func TestClient_BusinessErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"insufficient balance","error_code":"ER301"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Mode: ModeLive, BaseURL: server.URL, Token: "secret", RetryCount: 3, RetryWait: time.Millisecond, RetryMaxWait: time.Millisecond})
	_, err := NewOrangeCarrier(client).Disburse(context.Background(), DisburseRequest{AmountMinor: 10, Phone: "699000000", Reference: "p"})

	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "ER301", gwErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"reference":"CP-9","status":"PENDING"}`))
	}))
	defer server.Close()

	client := NewClient(Config{Mode: ModeLive, BaseURL: server.URL, Token: "secret", RetryCount: 3, RetryWait: time.Millisecond, RetryMaxWait: 2 * time.Millisecond})
	res, err := NewMTNCarrier(client).Disburse(context.Background(), DisburseRequest{AmountMinor: 10, Phone: "650000000", Reference: "p"})

	require.NoError(t, err)
	assert.Equal(t, "CP-9", res.Reference)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RejectsNonPositiveAmount(t *testing.T) {
	client := NewClient(Config{Mode: ModeSimulated})
	_, err := NewMTNCarrier(client).Disburse(context.Background(), DisburseRequest{AmountMinor: 0, Phone: "670000001", Reference: "p"})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSandbox, m)

	m, err = ParseMode(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, m)

	_, err = ParseMode("prod")
	require.Error(t, err)
}
