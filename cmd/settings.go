package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/trackwatch/internal/assembler"
	"github.com/joescharf/trackwatch/internal/notify"
	"github.com/joescharf/trackwatch/internal/poller"
	"github.com/joescharf/trackwatch/internal/tracker"
)

// settings is the validated runtime configuration.
type settings struct {
	BaseURL  string
	Projects []string
	Paths    tracker.Paths

	Auth     string
	Username string
	Password string
	OAuth    tracker.OAuthConfig
	Timeout  time.Duration

	WebhookURL string
	Channel    string

	Interval    time.Duration
	Window      time.Duration
	MetricsAddr string
}

const (
	authBasic = "basic"
	authOAuth = "oauth"
	authNone  = "none"
)

// loadSettings reads the tracker, slack, poll and metrics keys from viper.
// Every problem is a *poller.ConfigError.
func loadSettings() (*settings, error) {
	s := &settings{
		BaseURL:  strings.TrimSpace(viper.GetString("tracker.base_url")),
		Projects: projectList(viper.GetStringSlice("tracker.projects")),
		Paths: tracker.Paths{
			Feed:        viper.GetString("tracker.feed_path"),
			Changes:     viper.GetString("tracker.changes_path"),
			Attachments: viper.GetString("tracker.attachments_path"),
			Issue:       viper.GetString("tracker.issue_path"),
		},
		Auth:     strings.ToLower(strings.TrimSpace(viper.GetString("tracker.auth"))),
		Username: viper.GetString("tracker.username"),
		Password: viper.GetString("tracker.password"),
		OAuth: tracker.OAuthConfig{
			TokenURL:     viper.GetString("tracker.oauth.token_url"),
			ClientID:     viper.GetString("tracker.oauth.client_id"),
			ClientSecret: viper.GetString("tracker.oauth.client_secret"),
			Scopes:       strings.Fields(viper.GetString("tracker.oauth.scope")),
		},
		Timeout:     viper.GetDuration("tracker.timeout"),
		WebhookURL:  strings.TrimSpace(viper.GetString("slack.webhook_url")),
		Channel:     viper.GetString("slack.channel"),
		Interval:    viper.GetDuration("poll.interval"),
		Window:      viper.GetDuration("poll.window"),
		MetricsAddr: viper.GetString("metrics.addr"),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// projectList accepts both YAML lists and comma separated env values.
func projectList(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			if p = strings.TrimSpace(p); p != "" && !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *settings) validate() error {
	if s.BaseURL == "" {
		return &poller.ConfigError{Key: "tracker.base_url", Reason: "required"}
	}
	if u, err := url.Parse(s.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &poller.ConfigError{Key: "tracker.base_url", Reason: fmt.Sprintf("%q is not an http(s) URL", s.BaseURL)}
	}
	if len(s.Projects) == 0 {
		return &poller.ConfigError{Key: "tracker.projects", Reason: "at least one project is required"}
	}

	switch s.Auth {
	case authBasic:
		if s.Username == "" {
			return &poller.ConfigError{Key: "tracker.username", Reason: "required for basic auth"}
		}
	case authOAuth:
		if s.OAuth.TokenURL == "" || s.OAuth.ClientID == "" || s.OAuth.ClientSecret == "" {
			return &poller.ConfigError{Key: "tracker.oauth", Reason: "token_url, client_id and client_secret are required"}
		}
	case authNone:
	default:
		return &poller.ConfigError{Key: "tracker.auth", Reason: fmt.Sprintf("unknown mode %q (basic, oauth, none)", s.Auth)}
	}

	if s.Timeout <= 0 {
		return &poller.ConfigError{Key: "tracker.timeout", Reason: "must be positive"}
	}
	if s.Interval <= 0 {
		return &poller.ConfigError{Key: "poll.interval", Reason: "must be positive"}
	}
	if s.Window <= 0 {
		return &poller.ConfigError{Key: "poll.window", Reason: "must be positive"}
	}
	return nil
}

// selectProjects narrows the configured projects to only, when set.
func (s *settings) selectProjects(only string) ([]string, error) {
	if only == "" {
		return s.Projects, nil
	}
	if !slices.Contains(s.Projects, only) {
		return nil, &poller.ConfigError{Key: "tracker.projects", Reason: fmt.Sprintf("project %q is not configured", only)}
	}
	return []string{only}, nil
}

func (s *settings) authenticator() tracker.Authenticator {
	switch s.Auth {
	case authBasic:
		return tracker.BasicAuth{Username: s.Username, Password: s.Password}
	case authOAuth:
		return tracker.NewOAuthClientCredentials(s.OAuth, &http.Client{Timeout: s.Timeout})
	default:
		return tracker.NoAuth{}
	}
}

// pollProjects builds one edit source per project sharing a single fetcher,
// so the circuit breaker sees every request to the tracker.
func (s *settings) pollProjects(names []string, logger *slog.Logger) ([]poller.Project, error) {
	fetcher := tracker.NewHTTPFetcher(&http.Client{Timeout: s.Timeout}, s.authenticator(), tracker.DefaultBreakerConfig())

	out := make([]poller.Project, 0, len(names))
	for _, name := range names {
		endpoints, err := tracker.NewYouTrackEndpoints(s.BaseURL, name, s.Paths)
		if err != nil {
			return nil, &poller.ConfigError{Key: "tracker", Reason: err.Error()}
		}
		out = append(out, poller.Project{
			Name:   name,
			Source: assembler.New(fetcher, endpoints, logger.With("project", name)),
		})
	}
	return out, nil
}

// sink returns the webhook sink, or a log sink when no webhook is set.
func (s *settings) sink(logger *slog.Logger) notify.Sink {
	if s.WebhookURL == "" {
		return notify.LogSink{Logger: logger}
	}
	return notify.NewWebhookSink(s.WebhookURL, s.Channel, &http.Client{Timeout: s.Timeout}, logger)
}
