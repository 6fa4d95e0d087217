package integration

import (
	"net/http"
	"testing"
)

// Health checks come from orchestrators that carry no credentials, so
// /healthz must work without an API key.
func TestHealthzSkipsAuth(t *testing.T) {
	resp, err := http.Get(testEnv.BaseURL() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", resp.StatusCode)
	}

	var health map[string]struct {
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &health)

	for _, component := range []string{"engine", "store"} {
		if health[component].Status != "ok" {
			t.Errorf("%s health = %q, want ok", component, health[component].Status)
		}
	}
}
