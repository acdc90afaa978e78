package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateToken(t *testing.T) {
	authService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(ValidationResult{
			Valid:       true,
			UserID:      "user-7",
			Permissions: []string{"jobs:read"},
		})
	}))
	defer authService.Close()

	c := New(Config{ServiceURL: authService.URL})
	defer c.Close()

	t.Run("valid token", func(t *testing.T) {
		res := c.ValidateToken(context.Background(), "good-token")
		if !res.Valid {
			t.Fatalf("valid token rejected: %s", res.Error)
		}
		if res.UserID != "user-7" {
			t.Errorf("user_id = %q", res.UserID)
		}
		if len(res.Permissions) != 1 || res.Permissions[0] != "jobs:read" {
			t.Errorf("permissions = %v", res.Permissions)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		res := c.ValidateToken(context.Background(), "bad-token")
		if res.Valid {
			t.Error("non-200 auth response must be invalid")
		}
		if res.Error == "" {
			t.Error("rejection should carry an error message")
		}
	})

	t.Run("empty token rejected locally", func(t *testing.T) {
		res := c.ValidateToken(context.Background(), "")
		if res.Valid {
			t.Error("empty token must be invalid")
		}
	})
}

func TestValidateTokenFailsClosed(t *testing.T) {
	authService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := authService.URL
	authService.Close() // auth service is down

	c := New(Config{ServiceURL: url})
	defer c.Close()

	res := c.ValidateToken(context.Background(), "any-token")
	if res.Valid {
		t.Error("unreachable auth service must fail closed")
	}
}

func TestValidateTokenMalformedResponse(t *testing.T) {
	authService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer authService.Close()

	c := New(Config{ServiceURL: authService.URL})
	defer c.Close()

	if res := c.ValidateToken(context.Background(), "tok"); res.Valid {
		t.Error("malformed auth response must fail closed")
	}
}

func TestValidateTokenCached(t *testing.T) {
	var calls int64
	authService := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(ValidationResult{Valid: true, UserID: "user-1"})
	}))
	defer authService.Close()

	c := New(Config{ServiceURL: authService.URL, CacheTTL: time.Minute})
	defer c.Close()

	for i := 0; i < 5; i++ {
		if res := c.ValidateToken(context.Background(), "hot-token"); !res.Valid {
			t.Fatal("token should validate")
		}
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("auth service called %d times, want 1 (cached)", got)
	}
}

func TestValidateTokenUnconfigured(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	if res := c.ValidateToken(context.Background(), "tok"); res.Valid {
		t.Error("unconfigured client must fail closed")
	}
}
