package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/pkg/types"
)

func TestNewAPIClientDefaults(t *testing.T) {
	if got := NewAPIClient("").BaseURL(); got != DefaultBaseURL {
		t.Errorf("BaseURL() = %s, want %s", got, DefaultBaseURL)
	}
	if got := NewAPIClient("http://example:1/").BaseURL(); got != "http://example:1" {
		t.Errorf("trailing slash kept: %s", got)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		w.Write([]byte(`{"error":"wallet on chain 1, want 8453","code":"chain_mismatch"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL).Staking(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusPreconditionFailed || apiErr.Code != "chain_mismatch" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "chain_mismatch") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestUnreachableDaemonIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAPIClient(url).Health(context.Background())
	if !types.IsNetworkError(err) {
		t.Errorf("error = %v, want NetworkError", err)
	}
}

func TestBearerTokenSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"tier": "gold_partner", "address": "0xabc"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	c.SetToken("ks_abc")
	tier, err := c.Tier(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer ks_abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if tier.Tier != types.TierGoldPartner {
		t.Errorf("tier = %q", tier.Tier)
	}
}

func TestSignInRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer := NewWalletSigner(key)
	const challenge = "Kosher Capital wants you to sign in.\nNonce: 42"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/challenge":
			json.NewEncoder(w).Encode(map[string]string{"message": challenge})
		case "/v1/auth/verify":
			var req VerifyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode verify: %v", err)
			}
			signer, err := session.RecoverSigner(challenge, req.Signature)
			if err != nil || signer.Hex() != req.Address {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "bad signature", "code": "unauthorized"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"token": "ks_issued", "wallet": map[string]any{"chain_id": req.ChainID}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	if _, err := signer.SignIn(context.Background(), c, 8453); err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if c.Token() != "ks_issued" {
		t.Errorf("token = %q, want ks_issued", c.Token())
	}
}
