package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.0.1", "1.0.0", true},
		{"1.1.0", "1.0.0", true},
		{"2.0.0", "1.9.9", true},
		{"v1.0.1", "v1.0.0", true},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "1.0.1", false},
		{"0.9.0", "1.0.0", false},
		{"dev", "dev", false},
		{"v0.5.0", "0.4.2", true},
		{"0.4.2", "v0.5.0", false},
		{"1.2.0-rc1", "1.1.9", true},
		{"1.2.0", "1.2.0-rc1", false},
		{"1.10.0", "1.9.0", true},
	}

	for _, tc := range tests {
		t.Run(tc.latest+"_vs_"+tc.current, func(t *testing.T) {
			got := isNewerVersion(tc.latest, tc.current)
			if got != tc.want {
				t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tc.latest, tc.current, got, tc.want)
			}
		})
	}
}

func TestCheckVersionDevBuild(t *testing.T) {
	if cmd := checkVersion("dev"); cmd != nil {
		t.Error("expected nil cmd for dev build")
	}
	if cmd := checkVersion(""); cmd != nil {
		t.Error("expected nil cmd for empty version")
	}
}

func TestCheckVersionAt(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		status  int
		current string
		want    versionCheckMsg
	}{
		{"newer release", "v0.5.0", http.StatusOK, "0.4.0", versionCheckMsg{latestVersion: "v0.5.0", hasUpdate: true}},
		{"same release", "v0.4.0", http.StatusOK, "0.4.0", versionCheckMsg{}},
		{"not found", "", http.StatusNotFound, "0.4.0", versionCheckMsg{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.status != http.StatusOK {
					w.WriteHeader(tc.status)
					return
				}
				json.NewEncoder(w).Encode(map[string]string{"tag_name": tc.tag}) //nolint:errcheck
			}))
			defer srv.Close()

			msg := checkVersionAt(srv.URL, tc.current)().(versionCheckMsg)
			if msg != tc.want {
				t.Errorf("checkVersionAt() = %+v, want %+v", msg, tc.want)
			}
		})
	}
}
