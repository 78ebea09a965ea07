package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// fakeDirectory serves the subset of the directory API the commands use.
func fakeDirectory(t *testing.T, role string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeData := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": v})
	}
	authed := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer tok"
	}
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var c struct{ Email, Password string }
		json.NewDecoder(r.Body).Decode(&c)
		if c.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid credentials"})
			return
		}
		writeData(w, map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /api/user/profile", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Unauthorized"})
			return
		}
		writeData(w, map[string]string{"id": "u1", "username": "ann", "email": "ann@example.com", "role": role})
	})
	mux.HandleFunc("GET /api/business/list/verified", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{{
			"_id": "b1", "name": "Corner Bakery", "address": "1 Main St", "isVerified": true,
			"owner": map[string]string{"_id": "u9", "username": "baker"},
			"location": map[string]any{"latitude": "12.5", "longitude": 77},
		}})
	})
	mux.HandleFunc("GET /api/business/list/unverified", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{{"_id": "b2", "name": "New Shop", "owner": "u3"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errw bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errw)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errw.String(), err
}

func setupEnv(t *testing.T, role string) {
	t.Helper()
	dir := t.TempDir()
	srv := fakeDirectory(t, role)
	t.Setenv("BIZDIR_API_URL", srv.URL+"/api/")
	t.Setenv("BIZDIR_STORAGE_PATH", filepath.Join(dir, "local.db"))
	t.Setenv("BIZDIR_STORAGE_KEY_FILE", filepath.Join(dir, "storage.key"))
	t.Setenv("BIZDIR_LOG_LEVEL", "error")
}

func TestLoginWhoamiLogout(t *testing.T) {
	setupEnv(t, "user")
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, _, err := run(t, "ann@example.com\nsecret\n", "--config", cfg, "login")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !strings.Contains(out, "Signed in as ann (user)") {
		t.Errorf("Unexpected login output %q", out)
	}

	out, _, err = run(t, "", "--config", cfg, "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "ann <ann@example.com>") {
		t.Errorf("Expected the stored credential to be reused, got %q", out)
	}

	if _, _, err := run(t, "", "--config", cfg, "logout"); err != nil {
		t.Fatal(err)
	}
	out, _, _ = run(t, "", "--config", cfg, "whoami")
	if !strings.Contains(out, "Not signed in.") {
		t.Errorf("Expected to be signed out, got %q", out)
	}
}

func TestLoginFailureNotifies(t *testing.T) {
	setupEnv(t, "user")
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	_, errOut, err := run(t, "wrong\n", "--config", cfg, "login", "-e", "ann@example.com")
	if err == nil {
		t.Fatal("Expected login to fail")
	}
	if !strings.Contains(errOut, "[error] Invalid credentials") {
		t.Errorf("Expected an error notification, got %q", errOut)
	}
}

func TestBusinessList(t *testing.T) {
	setupEnv(t, "user")
	out, _, err := run(t, "", "--config", filepath.Join(t.TempDir(), "c.yaml"), "business", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Corner Bakery") || !strings.Contains(out, "1 Main St") {
		t.Errorf("Unexpected listing %q", out)
	}
}

func TestBusinessListSearch(t *testing.T) {
	setupEnv(t, "user")
	cfg := filepath.Join(t.TempDir(), "c.yaml")
	tests := []struct {
		query string
		found bool
	}{
		{"bakery", true},
		{"MAIN st", true},
		{"florist", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			out, _, err := run(t, "", "--config", cfg, "business", "list", "--search", tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.Contains(out, "Corner Bakery"); got != tt.found {
				t.Errorf("search %q: listed=%v want %v (%q)", tt.query, got, tt.found, out)
			}
			if !tt.found && !strings.Contains(out, "No businesses found.") {
				t.Errorf("Expected the empty notice, got %q", out)
			}
		})
	}
}

func TestAdminGate(t *testing.T) {
	cfgDir := t.TempDir()

	setupEnv(t, "user")
	cfg := filepath.Join(cfgDir, "config.yaml")
	run(t, "ann@example.com\nsecret\n", "--config", cfg, "login")
	if _, _, err := run(t, "", "--config", cfg, "admin", "pending"); err == nil {
		t.Error("Expected a non-admin to be refused")
	}

	setupEnv(t, "admin")
	cfg = filepath.Join(cfgDir, "admin.yaml")
	run(t, "ann@example.com\nsecret\n", "--config", cfg, "login")
	out, _, err := run(t, "", "--config", cfg, "admin", "pending")
	if err != nil {
		t.Fatalf("admin pending failed: %v", err)
	}
	if !strings.Contains(out, "New Shop") {
		t.Errorf("Unexpected pending list %q", out)
	}
}

func TestBusinessMineSignedOut(t *testing.T) {
	setupEnv(t, "user")
	_, _, err := run(t, "", "--config", filepath.Join(t.TempDir(), "c.yaml"), "business", "mine")
	if err == nil || !strings.Contains(err.Error(), "bizdir login") {
		t.Errorf("Expected a sign-in hint, got %v", err)
	}
}

func TestChatNeedsLogin(t *testing.T) {
	setupEnv(t, "user")
	_, _, err := run(t, "", "--config", filepath.Join(t.TempDir(), "c.yaml"), "chat", "open", "b1")
	if err == nil || !strings.Contains(err.Error(), "sign in") {
		t.Errorf("Expected a sign-in error, got %v", err)
	}
}
