package models

import (
	"time"
)

// ProjectStatus represents the phase of a project's pipeline. The sequence
// is strictly advancing; Failed is terminal and reachable from any
// non-terminal status.
type ProjectStatus string

const (
	ProjectStatusCreated      ProjectStatus = "created"
	ProjectStatusDiscovering  ProjectStatus = "discovering"
	ProjectStatusScanning     ProjectStatus = "scanning"
	ProjectStatusAnalyzing    ProjectStatus = "analyzing"
	ProjectStatusSynthesizing ProjectStatus = "synthesizing"
	ProjectStatusComplete     ProjectStatus = "complete"
	ProjectStatusFailed       ProjectStatus = "failed"
)

// Terminal reports whether the project can make no further transitions
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusComplete || s == ProjectStatusFailed
}

// SiteRole distinguishes the project's own site from comparison targets
type SiteRole string

const (
	SiteRolePrimary    SiteRole = "primary"
	SiteRoleCompetitor SiteRole = "competitor"
)

// Site is one site under a project with rolling per-phase counters
type Site struct {
	URL           string   `json:"url"`
	Role          SiteRole `json:"role"`
	PagesFound    int      `json:"pages_found"`
	PagesScanned  int      `json:"pages_scanned"`
	PagesAnalyzed int      `json:"pages_analyzed"`
}

// ProjectConfig holds per-project knobs. The pipeline core only copies it
// into job payloads; handlers interpret the fields.
type ProjectConfig struct {
	MaxDepth    int    `json:"max_depth" toml:"max_depth"`
	MaxPages    int    `json:"max_pages" toml:"max_pages"`
	Screenshots bool   `json:"screenshots" toml:"screenshots"`
	Provider    string `json:"provider,omitempty" toml:"provider"` // analysis provider override
}

// Project is the unit of multi-site orchestration. Status and Progress are
// mutated only by the pipeline coordinator in response to job events.
type Project struct {
	ID        string          `json:"id"`
	Status    ProjectStatus   `json:"status"`
	Error     string          `json:"error,omitempty"` // human-readable failure reason
	Config    ProjectConfig   `json:"config"`
	Sites     []*Site         `json:"sites"`
	Progress  ProjectProgress `json:"progress"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the project. The coordinator hands clones to
// callers so readers never share Sites or Progress with the copy it keeps
// mutating under its own lock.
func (p *Project) Clone() *Project {
	clone := *p
	if p.Sites != nil {
		clone.Sites = make([]*Site, len(p.Sites))
		for i, site := range p.Sites {
			copied := *site
			clone.Sites[i] = &copied
		}
	}
	if p.Progress.ByType != nil {
		clone.Progress.ByType = make(map[WorkType]QueueStats, len(p.Progress.ByType))
		for workType, stats := range p.Progress.ByType {
			clone.Progress.ByType[workType] = stats
		}
	}
	return &clone
}

// SiteInput describes one site at project creation time
type SiteInput struct {
	URL  string   `json:"url"`
	Role SiteRole `json:"role"`
}

// SiteURLs returns the URLs of all sites in declaration order
func (p *Project) SiteURLs() []string {
	urls := make([]string, 0, len(p.Sites))
	for _, site := range p.Sites {
		urls = append(urls, site.URL)
	}
	return urls
}

// SiteByURL returns the site with the given URL, or nil
func (p *Project) SiteByURL(url string) *Site {
	for _, site := range p.Sites {
		if site.URL == url {
			return site
		}
	}
	return nil
}
