package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const defaultAPIURL = "http://localhost:8080"

// config is resolved once per run from the environment and an optional .env.
type config struct {
	APIURL      string
	WSURL       string
	WSUserParam string
	WebURL      string
	Home        string
	LogLevel    zerolog.Level
}

func loadConfig() (config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load() //nolint:errcheck

	cfg := config{
		APIURL: strings.TrimRight(getEnv("SCRUMPOKER_API_URL", defaultAPIURL), "/"),
	}

	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Host == "" {
		return config{}, fmt.Errorf("invalid SCRUMPOKER_API_URL %q", cfg.APIURL)
	}

	cfg.WSURL = strings.TrimRight(getEnv("SCRUMPOKER_WS_URL", websocketURL(u)), "/")
	cfg.WSUserParam = getEnv("SCRUMPOKER_WS_USER_PARAM", "userId")
	cfg.WebURL = strings.TrimRight(getEnv("SCRUMPOKER_WEB_URL", cfg.APIURL), "/")

	home := os.Getenv("SCRUMPOKER_HOME")
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return config{}, fmt.Errorf("get home dir: %w", err)
		}
		home = filepath.Join(dir, ".scrumpoker")
	}
	cfg.Home = home

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("SCRUMPOKER_LOG_LEVEL", "info")))
	if err != nil {
		return config{}, fmt.Errorf("invalid SCRUMPOKER_LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level
	return cfg, nil
}

// websocketURL swaps the API scheme for its websocket counterpart.
func websocketURL(api *url.URL) string {
	u := *api
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// roomLink is the shareable browser URL for a room.
func (c config) roomLink(roomID string) string {
	return c.WebURL + "/room/" + url.PathEscape(roomID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
