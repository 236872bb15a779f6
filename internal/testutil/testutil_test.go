package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/earthring/terrain/internal/auth"
)

func TestRandomSubject(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		subject := RandomSubject("viewer")
		if !strings.HasPrefix(subject, "viewer_") {
			t.Errorf("Expected subject to start with 'viewer_', got %s", subject)
		}
		if len(subject) != len("viewer_")+8 {
			t.Errorf("Unexpected subject length %d", len(subject))
		}
		if seen[subject] {
			t.Logf("Warning: Duplicate subject generated (this is rare but possible)")
		}
		seen[subject] = true
	}
}

func TestTestConfigIsValid(t *testing.T) {
	if err := TestConfig().Validate(); err != nil {
		t.Fatalf("TestConfig() does not validate: %v", err)
	}
}

func TestFixturesToken(t *testing.T) {
	fixtures := NewTestFixtures()
	token := fixtures.Token(t, auth.RoleOperator)

	claims, err := fixtures.JWT.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() failed: %v", err)
	}
	if claims.Role != auth.RoleOperator {
		t.Errorf("Expected role %s, got %s", auth.RoleOperator, claims.Role)
	}
}

func TestHTTPTestHelper(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Auth", r.Header.Get("Authorization"))
		w.Header().Set("X-Custom", r.Header.Get("X-Custom"))
		w.WriteHeader(http.StatusAccepted)
	})

	helper := NewHTTPTestHelper(handler)
	rr := helper.MakeRequest(http.MethodGet, "/", nil)
	if rr.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rr.Code)
	}
	if rr.Header().Get("X-Auth") != "" {
		t.Error("Expected no Authorization header without a token")
	}

	rr = helper.WithToken("abc").MakeRequestWithHeaders(http.MethodPost, "/", map[string]int{"x": 1}, map[string]string{"X-Custom": "yes"})
	if rr.Header().Get("X-Auth") != "Bearer abc" {
		t.Errorf("Expected bearer token, got %q", rr.Header().Get("X-Auth"))
	}
	if rr.Header().Get("X-Custom") != "yes" {
		t.Errorf("Expected custom header, got %q", rr.Header().Get("X-Custom"))
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "terrain_test", SSLMode: "disable"}
	want := "postgres://u:p@db:5433/terrain_test?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL() = %s, want %s", got, want)
	}
}
