package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-nova/audioroute/internal/auth"
)

// writeKeys writes a keys file and returns its path.
func writeKeys(t *testing.T, path string, clients map[string]auth.Client) {
	t.Helper()
	data, err := json.Marshal(clients)
	if err != nil {
		t.Fatalf("json.Marshal clients: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile keys: %v", err)
	}
}

func newService(t *testing.T, path string) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(path)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func newSecuredService(t *testing.T) *auth.Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	writeKeys(t, path, map[string]auth.Client{
		"mixer-ui": {Role: auth.RoleControl, AccessKey: "control-key"},
		"monitor":  {Role: auth.RoleObserve, AccessKey: "observe-key"},
	})
	return newService(t, path)
}

// serve runs one request through the middleware and reports whether the
// wrapped handler ran.
func serve(svc *auth.Service, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, called
}

// --- Open mode (no keys file) ---

func TestService_OpenMode(t *testing.T) {
	svc := newService(t, filepath.Join(t.TempDir(), "keys.json"))

	if !svc.IsOpenMode() {
		t.Error("IsOpenMode() = false, want true when no keys file")
	}
	if _, ok := svc.VerifyKey("any-key-at-all"); ok {
		t.Error("VerifyKey matched with no clients configured")
	}

	rr, called := serve(svc, httptest.NewRequest(http.MethodDelete, "/api/sessions/1", nil))
	if !called || rr.Code != http.StatusOK {
		t.Errorf("open-mode middleware blocked a request: status %d", rr.Code)
	}
}

func TestService_MissingDir_NoError(t *testing.T) {
	svc := newService(t, filepath.Join(t.TempDir(), "does-not-exist", "keys.json"))
	if !svc.IsOpenMode() {
		t.Error("expected open mode for a non-existent directory")
	}
}

func TestService_RejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.NewService(path); err == nil {
		t.Error("NewService accepted malformed JSON")
	}

	writeKeys(t, path, map[string]auth.Client{"x": {Role: "root", AccessKey: "k"}})
	if _, err := auth.NewService(path); err == nil {
		t.Error("NewService accepted an unknown role")
	}

	writeKeys(t, path, map[string]auth.Client{"x": {Role: auth.RoleControl}})
	if _, err := auth.NewService(path); err == nil {
		t.Error("NewService accepted a client without a key")
	}
}

// --- Secured mode ---

func TestService_VerifyKey(t *testing.T) {
	svc := newSecuredService(t)

	if svc.IsOpenMode() {
		t.Error("IsOpenMode() = true with clients configured")
	}
	if role, ok := svc.VerifyKey("control-key"); !ok || role != auth.RoleControl {
		t.Errorf("VerifyKey(control-key) = %q, %v", role, ok)
	}
	if role, ok := svc.VerifyKey("observe-key"); !ok || role != auth.RoleObserve {
		t.Errorf("VerifyKey(observe-key) = %q, %v", role, ok)
	}
	if _, ok := svc.VerifyKey("wrong-key"); ok {
		t.Error("VerifyKey(wrong-key) matched")
	}
	if _, ok := svc.VerifyKey(""); ok {
		t.Error("VerifyKey(\"\") matched (empty key always rejected)")
	}
}

func TestMiddleware_SecuredMode(t *testing.T) {
	svc := newSecuredService(t)

	tests := []struct {
		name   string
		method string
		target string
		header string
		want   int
	}{
		{"no key", http.MethodGet, "/api", "", http.StatusUnauthorized},
		{"wrong key", http.MethodGet, "/api", "wrong-key", http.StatusUnauthorized},
		{"observer reads", http.MethodGet, "/api", "observe-key", http.StatusOK},
		{"observer via query", http.MethodGet, "/api?api-key=observe-key", "", http.StatusOK},
		{"observer writes", http.MethodPost, "/api/sessions", "observe-key", http.StatusForbidden},
		{"controller writes", http.MethodPost, "/api/sessions", "control-key", http.StatusOK},
		{"controller via query", http.MethodPut, "/api/mode?api-key=control-key", "", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/sessions", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Api-Key", tt.header)
			}
			rr, called := serve(svc, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if called != (tt.want == http.StatusOK) {
				t.Errorf("next called = %v for status %d", called, rr.Code)
			}
		})
	}
}

func TestService_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	svc := newService(t, path)
	if !svc.IsOpenMode() {
		t.Fatal("initially expected open mode")
	}

	writeKeys(t, path, map[string]auth.Client{"ui": {Role: auth.RoleControl, AccessKey: "reload-test-key"}})
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if svc.IsOpenMode() {
		t.Error("expected secured mode after reload")
	}
	if _, ok := svc.VerifyKey("reload-test-key"); !ok {
		t.Error("VerifyKey after reload returned false for correct key")
	}
}

func TestService_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	svc := newService(t, path)

	writeKeys(t, path, map[string]auth.Client{"ui": {Role: auth.RoleObserve, AccessKey: "watched-key"}})
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := svc.VerifyKey("watched-key"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("keys file change was not picked up")
}
