package browser

import (
	"strings"
	"testing"
)

func TestCommand(t *testing.T) {
	const link = "https://poker.example.com/room/r1"
	tests := []struct {
		goos string
		want []string
	}{
		{"darwin", []string{"open", link}},
		{"linux", []string{"xdg-open", link}},
		{"windows", []string{"rundll32", "url.dll,FileProtocolHandler", link}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			cmd, err := command(tt.goos, link)
			if err != nil {
				t.Fatalf("command: %v", err)
			}
			if strings.Join(cmd.Args, " ") != strings.Join(tt.want, " ") {
				t.Errorf("args = %v, want %v", cmd.Args, tt.want)
			}
		})
	}
}

func TestCommandRejects(t *testing.T) {
	tests := []struct {
		name string
		goos string
		link string
	}{
		{"file scheme", "linux", "file:///etc/passwd"},
		{"no scheme", "linux", "poker.example.com/room/r1"},
		{"bad url", "linux", "http://[::1"},
		{"unknown os", "plan9", "https://poker.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := command(tt.goos, tt.link); err == nil {
				t.Errorf("command(%q, %q) = nil error", tt.goos, tt.link)
			}
		})
	}
}
