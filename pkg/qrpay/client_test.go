package qrpay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateOrderSuccess(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/payments/create-order" {
			t.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{
			"transaction_id": "TXN-1700000000-123456",
			"qr_code_url": "https://img.vietqr.io/image/970415-113366668888-compact2.png",
			"bank_name": "VietinBank",
			"account_number": "113366668888",
			"transfer_content": "NAPCOINTXN-1700000000-123456",
			"amount": 52000,
			"coins": 20,
			"status": "pending"
		}`))
	}))
	defer server.Close()

	client := mustOrderClient(t, server.URL)
	order, err := client.Create(context.Background(), "user-1", 20, 52000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.TransactionID != "TXN-1700000000-123456" {
		t.Fatalf("unexpected transaction id %q", order.TransactionID)
	}
	if order.TransferContent != "NAPCOINTXN-1700000000-123456" {
		t.Fatalf("unexpected transfer content %q", order.TransferContent)
	}
	if order.Status != StatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if order.Coins != 20 || order.AmountVND != 52000 {
		t.Fatalf("unexpected order amounts: %+v", order)
	}
}

func TestCreateOrderFallsBackToQRContent(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"transaction_id":"TXN-1-000001","qr_content":"NAPCOINTXN-1-000001"}`))
	}))
	defer server.Close()

	order, err := mustOrderClient(t, server.URL).Create(context.Background(), "", 20, 52000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.TransferContent != "NAPCOINTXN-1-000001" {
		t.Fatalf("expected qr_content fallback, got %q", order.TransferContent)
	}
}

func TestCreateOrderValidatesAmounts(t *testing.T) {
	t.Parallel()
	client := mustOrderClient(t, "http://localhost:1")
	if _, err := client.Create(context.Background(), "user-1", 0, 52000); !errors.Is(err, ErrInvalidCoins) {
		t.Fatalf("expected ErrInvalidCoins, got %v", err)
	}
	if _, err := client.Create(context.Background(), "user-1", 20, -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateOrderBackendRejection(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "message field", status: http.StatusBadRequest, body: `{"message":"invalid package"}`, wantMessage: "invalid package"},
		{name: "detail field", status: http.StatusNotFound, body: `{"detail":"Payment not found"}`, wantMessage: "Payment not found"},
		{name: "opaque body", status: http.StatusInternalServerError, body: `boom`, wantMessage: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(tc.status)
				_, _ = writer.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := mustOrderClient(t, server.URL).Create(context.Background(), "user-1", 20, 52000)
			if !errors.Is(err, ErrBackendRejected) {
				t.Fatalf("expected ErrBackendRejected, got %v", err)
			}
			var backendErr *BackendError
			if !errors.As(err, &backendErr) {
				t.Fatalf("expected *BackendError, got %T", err)
			}
			if backendErr.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, backendErr.StatusCode)
			}
			if backendErr.Message != tc.wantMessage {
				t.Fatalf("expected message %q, got %q", tc.wantMessage, backendErr.Message)
			}
		})
	}
}

func TestCreateOrderMalformedResponse(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"transaction_id": `))
	}))
	defer server.Close()

	_, err := mustOrderClient(t, server.URL).Create(context.Background(), "user-1", 20, 52000)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestCreateOrderMissingTransactionID(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"status":"pending"}`))
	}))
	defer server.Close()

	_, err := mustOrderClient(t, server.URL).Create(context.Background(), "user-1", 20, 52000)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestCreateOrderTransportFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {}))
	server.Close()

	_, err := mustOrderClient(t, server.URL).Create(context.Background(), "user-1", 20, 52000)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestStatusSuccess(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/payments/TXN-1-000001/status" {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		_, _ = writer.Write([]byte(`{"transaction_id":"TXN-1-000001","status":"completed","amount":52000,"coins":20,"credits":120}`))
	}))
	defer server.Close()

	snapshot, err := mustOrderClient(t, server.URL).Status(context.Background(), "TXN-1-000001")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	if snapshot.Credits == nil || *snapshot.Credits != 120 {
		t.Fatalf("expected credits 120, got %v", snapshot.Credits)
	}
}

func TestStatusKeepsRawValueForUnknown(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"transaction_id":"TXN-1-000001","status":"processing"}`))
	}))
	defer server.Close()

	snapshot, err := mustOrderClient(t, server.URL).Status(context.Background(), "TXN-1-000001")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snapshot.Status != StatusUnknown {
		t.Fatalf("expected unknown, got %s", snapshot.Status)
	}
	if snapshot.RawStatus != "processing" {
		t.Fatalf("expected raw status preserved, got %q", snapshot.RawStatus)
	}
	if snapshot.Credits != nil {
		t.Fatalf("expected absent credits to stay nil, got %d", *snapshot.Credits)
	}
}

func TestStatusRequiresTransactionID(t *testing.T) {
	t.Parallel()
	_, err := mustOrderClient(t, "http://localhost:1").Status(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("expected ErrInvalidTransactionID, got %v", err)
	}
}

func TestNewOrderClientRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := NewOrderClient("   ")
	if !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected ErrInvalidClientConfig, got %v", err)
	}
}

// --- helpers ---

func mustOrderClient(t *testing.T, baseURL string) *OrderClient {
	t.Helper()
	client, err := NewOrderClient(baseURL)
	if err != nil {
		t.Fatalf("order client: %v", err)
	}
	return client
}
