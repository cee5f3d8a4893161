package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL + "/"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

func TestClient_ChatSuccess(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("Expected /chat, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Prompt != "find me a trade" {
			t.Errorf("Expected prompt passthrough, got %q", req.Prompt)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{
			"response": "Long setup on EURUSD.",
			"agent_used": "ScalperAgent",
			"trade_proposal": {
				"action": "BUY",
				"pair": "EURUSD",
				"entry_price": 1.0825,
				"stop_loss": 1.08,
				"agent_id": "scalper"
			}
		}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	resp, err := client.Chat(context.Background(), "find me a trade")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Response != "Long setup on EURUSD." {
		t.Errorf("Unexpected response text: %q", resp.Response)
	}
	if resp.AgentUsed != "ScalperAgent" {
		t.Errorf("Expected ScalperAgent, got %s", resp.AgentUsed)
	}
	if resp.TradeProposal == nil {
		t.Fatal("Expected a trade proposal")
	}
	if resp.TradeProposal.Action != "BUY" {
		t.Errorf("Expected raw BUY action on the wire, got %s", resp.TradeProposal.Action)
	}
	if resp.TradeProposal.StopLoss == nil || *resp.TradeProposal.StopLoss != 1.08 {
		t.Errorf("Expected stop_loss 1.08, got %v", resp.TradeProposal.StopLoss)
	}
	if resp.TradeProposal.TakeProfit != nil {
		t.Errorf("Expected nil take_profit, got %v", *resp.TradeProposal.TakeProfit)
	}
}

func TestClient_ChatNon200IsProtocolError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	})

	_, err := client.Chat(context.Background(), "hello")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected ProtocolError, got %v", err)
	}
	if protoErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", protoErr.StatusCode)
	}
	if !strings.Contains(protoErr.Detail, "internal server error") {
		t.Errorf("Expected body in detail, got %q", protoErr.Detail)
	}
}

func TestClient_ChatMalformedBodyIsProtocolError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("not json")); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	_, err := client.Chat(context.Background(), "hello")
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected ProtocolError, got %v", err)
	}
	if protoErr.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", protoErr.StatusCode)
	}
}

func TestClient_ChatTransportErrorIsNotProtocolError(t *testing.T) {
	t.Parallel()
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Chat(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected transport error")
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		t.Errorf("Expected plain transport error, got ProtocolError: %v", err)
	}
}

func TestClient_ExecuteTradeWireFormat(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/trade" {
			t.Errorf("Expected /webhook/trade, got %s", r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		for _, key := range []string{"agent_id", "currency_pair", "order_side", "entry_price", "stop_loss", "take_profit", "volume"} {
			if _, ok := body[key]; !ok {
				t.Errorf("Expected key %q in execution payload", key)
			}
		}
		// Unset protective levels go over the wire as null, not omitted.
		if string(body["take_profit"]) != "null" {
			t.Errorf("Expected take_profit null, got %s", body["take_profit"])
		}
		if string(body["volume"]) != "0.01" {
			t.Errorf("Expected volume 0.01, got %s", body["volume"])
		}
		if _, err := w.Write([]byte(`{"success": true, "message": "order placed"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	sl := 1.08
	resp, err := client.ExecuteTrade(context.Background(), ExecutionRequest{
		AgentID:      "scalper",
		CurrencyPair: "EURUSD",
		OrderSide:    "buy",
		EntryPrice:   1.0825,
		StopLoss:     &sl,
		Volume:       0.01,
	})
	if err != nil {
		t.Fatalf("ExecuteTrade failed: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success")
	}
	if resp.Message != "order placed" {
		t.Errorf("Unexpected message: %q", resp.Message)
	}
}

func TestClient_ExecuteTradeRejectionPassesThrough(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"success": false, "message": "market closed"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	})

	resp, err := client.ExecuteTrade(context.Background(), ExecutionRequest{CurrencyPair: "EURUSD"})
	if err != nil {
		t.Fatalf("ExecuteTrade failed: %v", err)
	}
	if resp.Success {
		t.Error("Expected rejection to pass through without error")
	}
	if resp.Message != "market closed" {
		t.Errorf("Unexpected message: %q", resp.Message)
	}
}

func TestClient_ChatTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise srv.Close hangs in Cleanup.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, ChatTimeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Chat(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestClient_CredentialsRelay(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings/mt5_credentials" {
			t.Errorf("Expected /settings/mt5_credentials, got %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			if _, err := w.Write([]byte(`{"login": "12345", "server": "Demo"}`)); err != nil {
				t.Errorf("Failed to write response: %v", err)
			}
		case http.MethodPost:
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
			if body["login"] != "67890" {
				t.Errorf("Expected login passthrough, got %q", body["login"])
			}
			if _, err := w.Write([]byte(`{"success": true}`)); err != nil {
				t.Errorf("Failed to write response: %v", err)
			}
		default:
			t.Errorf("Unexpected method %s", r.Method)
		}
	})

	got, err := client.GetCredentials(context.Background())
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if !strings.Contains(string(got), "12345") {
		t.Errorf("Expected raw payload passthrough, got %s", got)
	}

	got, err = client.UpdateCredentials(context.Background(), json.RawMessage(`{"login": "67890"}`))
	if err != nil {
		t.Fatalf("UpdateCredentials failed: %v", err)
	}
	if !strings.Contains(string(got), "true") {
		t.Errorf("Expected raw payload passthrough, got %s", got)
	}
}
