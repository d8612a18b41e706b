package tracker

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/joescharf/trackwatch/internal/models"
)

// Endpoints resolves the tracker URLs a polling cycle reads.
type Endpoints interface {
	// Project is the issue prefix the feed is queried for.
	Project() string
	FeedURL() string
	ChangesURL(issue models.Issue) string
	AttachmentsURL(issue models.Issue) string
	// IssueURL is the browser link to issue on the configured base URL.
	IssueURL(issue models.Issue) string
}

// Default YouTrack paths. {project} and {issue} are substituted.
const (
	DefaultFeedPath        = "/_rss/issues?q=project:{project}"
	DefaultChangesPath     = "/rest/issue/{issue}/changes"
	DefaultAttachmentsPath = "/rest/issue/{issue}/attachment"
	DefaultIssuePath       = "/issue/{issue}"
)

// Paths holds the path templates appended to the tracker base URL.
type Paths struct {
	Feed        string
	Changes     string
	Attachments string
	Issue       string
}

// DefaultPaths returns the YouTrack REST and RSS paths.
func DefaultPaths() Paths {
	return Paths{
		Feed:        DefaultFeedPath,
		Changes:     DefaultChangesPath,
		Attachments: DefaultAttachmentsPath,
		Issue:       DefaultIssuePath,
	}
}

// YouTrackEndpoints builds URLs for one project on a YouTrack instance.
type YouTrackEndpoints struct {
	base    string
	project string
	paths   Paths
}

// NewYouTrackEndpoints validates baseURL and returns endpoints for project.
// Empty path templates fall back to the defaults.
func NewYouTrackEndpoints(baseURL, project string, paths Paths) (*YouTrackEndpoints, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse tracker base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("tracker base URL must be absolute http(s): %q", baseURL)
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}

	defaults := DefaultPaths()
	if paths.Feed == "" {
		paths.Feed = defaults.Feed
	}
	if paths.Changes == "" {
		paths.Changes = defaults.Changes
	}
	if paths.Attachments == "" {
		paths.Attachments = defaults.Attachments
	}
	if paths.Issue == "" {
		paths.Issue = defaults.Issue
	}

	return &YouTrackEndpoints{
		base:    strings.TrimRight(u.String(), "/"),
		project: project,
		paths:   paths,
	}, nil
}

// Project returns the project prefix these endpoints serve.
func (e *YouTrackEndpoints) Project() string { return e.project }

func (e *YouTrackEndpoints) FeedURL() string {
	return e.expand(e.paths.Feed, "")
}

func (e *YouTrackEndpoints) ChangesURL(issue models.Issue) string {
	return e.expand(e.paths.Changes, issue.Key())
}

func (e *YouTrackEndpoints) AttachmentsURL(issue models.Issue) string {
	return e.expand(e.paths.Attachments, issue.Key())
}

func (e *YouTrackEndpoints) IssueURL(issue models.Issue) string {
	return e.expand(e.paths.Issue, issue.Key())
}

func (e *YouTrackEndpoints) expand(tmpl, issueKey string) string {
	r := strings.NewReplacer(
		"{project}", url.QueryEscape(e.project),
		"{issue}", url.PathEscape(issueKey),
	)
	path := r.Replace(tmpl)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.base + path
}
