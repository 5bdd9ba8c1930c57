// Package updates checks the project's releases for a newer version and
// surfaces a notice in the log channel.
package updates

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/robfig/cron/v3"

	"github.com/castellan/mailroom/internal/chat"
)

// Repository the release check queries.
const (
	repoOwner = "castellan"
	repoName  = "mailroom"
)

// releasesClient is the slice of the GitHub API the checker uses, split out
// for test fakes.
type releasesClient interface {
	GetLatestRelease(ctx context.Context, owner, repo string) (*github.RepositoryRelease, *github.Response, error)
}

// Checker periodically compares the running version against the latest
// release and posts a notice when it lags behind.
type Checker struct {
	version   string
	channelID string
	messenger chat.Messenger
	releases  releasesClient

	mu       sync.Mutex
	notified string
}

// NewChecker builds a Checker using an unauthenticated GitHub client, which
// is enough for public release metadata.
func NewChecker(version, channelID string, messenger chat.Messenger) *Checker {
	return &Checker{
		version:   version,
		channelID: channelID,
		messenger: messenger,
		releases:  github.NewClient(nil).Repositories,
	}
}

// Schedule registers the check on the given cron schedule.
func (c *Checker) Schedule(runner *cron.Cron, schedule string) error {
	_, err := runner.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Check(ctx); err != nil {
			log.Printf("updates: check failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("updates: schedule %q: %w", schedule, err)
	}
	return nil
}

// Check fetches the latest release and posts a notice when it is newer than
// the running version. Each release is announced at most once.
func (c *Checker) Check(ctx context.Context) error {
	release, _, err := c.releases.GetLatestRelease(ctx, repoOwner, repoName)
	if err != nil {
		return fmt.Errorf("updates: latest release: %w", err)
	}
	latest := strings.TrimPrefix(release.GetTagName(), "v")
	current := strings.TrimPrefix(c.version, "v")
	if latest == "" || latest == current {
		return nil
	}

	c.mu.Lock()
	alreadyNotified := c.notified == latest
	if !alreadyNotified {
		c.notified = latest
	}
	c.mu.Unlock()
	if alreadyNotified || c.channelID == "" {
		return nil
	}

	_, err = c.messenger.SendChannel(ctx, c.channelID, chat.Outgoing{
		Content: fmt.Sprintf("📦 A new version is available: **%s** (running %s)\n%s",
			latest, current, release.GetHTMLURL()),
	})
	if err != nil {
		return fmt.Errorf("updates: post notice: %w", err)
	}
	log.Printf("updates: new version %s available (running %s)", latest, current)
	return nil
}
