package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psds-microservice/ticket-desk/internal/errs"
)

func TestTokenPattern(t *testing.T) {
	valid := []string{
		"tbx-12345678901234-abc",
		"TBX-87654321-x9",
		"shop-00000000000000000000-AAAA",
	}
	for _, s := range valid {
		if !TokenPattern.MatchString(s) {
			t.Errorf("token %q should match", s)
		}
	}
	invalid := []string{
		"",
		"12345678901234",
		"tbx-abc-def",
		"toolongprefix-12345678-abc",
		"tbx-1234567-abc", // цифровой блок короче 8
		"tbx-12345678901234-abc extra",
	}
	for _, s := range invalid {
		if TokenPattern.MatchString(s) {
			t.Errorf("token %q should not match", s)
		}
	}
}

func TestLookupOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify/tbx-12345678901234-abc" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Result{Status: "Complete", Items: []Item{{Name: "VIP", Quantity: 2}, {Name: "Crate Key", Quantity: 1}}})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Lookup(context.Background(), "tbx-12345678901234-abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Status != "Complete" || len(res.Items) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, want := res.Summary(), "Status: Complete\nItems: 2x VIP, Crate Key"; got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}

func TestLookupRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Lookup(context.Background(), "tbx-12345678901234-abc")
	if !errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestLookupMalformedTokenSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Lookup(context.Background(), "not a token")
	if !errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
	if called {
		t.Fatal("malformed token must not hit the service")
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Lookup(context.Background(), "tbx-12345678901234-abc")
	if err == nil || errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("5xx must be an infrastructure error, got %v", err)
	}
}
