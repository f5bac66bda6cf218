package feedapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

// testSecret is a valid base32 TOTP secret for the login round trip.
const testSecret = "JBSWY3DPEHPK3PXP"

func TestLogin_SendsValidTOTPAndStoresToken(t *testing.T) {
	var gotTOTP string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			gotTOTP = body["totp"]
			if body["clientcode"] != "C123" || body["password"] != "pw" {
				http.Error(w, `{"status":false,"message":"bad credentials"}`, http.StatusOK)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"status": true, "token": "tok-1"})
		case "/tick":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"symbol": "EURUSD", "bid": 1.1, "ask": 1.1002, "last": 1.1001, "time": 1700000000,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:    srv.URL,
		ClientCode: "C123",
		Password:   "pw",
		TOTPSecret: testSecret,
	})

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	ok, err := totp.ValidateCustom(gotTOTP, testSecret, time.Now(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: 6,
	})
	if err != nil || !ok {
		t.Errorf("server received invalid totp %q: %v", gotTOTP, err)
	}

	// The stored token must flow into subsequent requests.
	tick, err := c.GetTick(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("GetTick: %v", err)
	}
	if tick.Bid != 1.1 || tick.Ask != 1.1002 {
		t.Errorf("tick=%+v", tick)
	}
}

func TestLogin_NoCredentialsIsNoop(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login without credentials: %v", err)
	}
}

func TestGetCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candles" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "EURUSD" || q.Get("timeframe") != "M1" || q.Get("count") != "3" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte(`{"candles":[
			{"time":100,"open":1.0,"high":1.2,"low":0.9,"close":1.1,"volume":5},
			{"time":160,"open":1.1,"high":1.3,"low":1.0,"close":1.2,"volume":6},
			{"time":220,"open":1.2,"high":1.4,"low":1.1,"close":1.3,"volume":7}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	candles, err := c.GetCandles(context.Background(), "EURUSD", "M1", 3)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	if candles[2].Time != 220 || candles[2].Close != 1.3 {
		t.Errorf("last candle=%+v", candles[2])
	}
}

func TestSelectSymbol_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "unknown symbol"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.SelectSymbol(context.Background(), "NOPE"); err == nil {
		t.Error("rejected select returned nil error")
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.GetTick(context.Background(), "EURUSD"); err == nil {
		t.Error("500 response returned nil error")
	}
}
