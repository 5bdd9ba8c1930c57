// Package attachments rehosts user attachments according to the configured
// storage strategy so links in the staff channel outlive the original DM.
package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"github.com/castellan/mailroom/internal/chat"
)

const (
	downloadTries   = 3
	downloadBackoff = time.Second
)

// Storage persists one attachment and returns the URL staff should see.
type Storage interface {
	SaveAttachment(ctx context.Context, att chat.Attachment) (string, error)
}

// Downloader fetches attachment bytes with bounded retries. Shared by the
// local and channel storage strategies and by small-attachment relaying.
type Downloader struct {
	client *http.Client

	mu       sync.Mutex
	inflight map[string]*saveResult
}

type saveResult struct {
	done chan struct{}
	url  string
	err  error
}

func NewDownloader() *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: 30 * time.Second},
		inflight: make(map[string]*saveResult),
	}
}

// Fetch downloads the attachment content. Retries up to three times on
// transient failures.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Retry(func(attempt uint) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	},
		strategy.Limit(downloadTries),
		strategy.Backoff(backoff.Linear(downloadBackoff)),
	)
	if err != nil {
		return nil, fmt.Errorf("attachments: download %s: %w", url, err)
	}
	return body, nil
}

// single deduplicates concurrent saves of the same attachment. The first
// caller for a key runs fn; concurrent callers block until it finishes and
// share its result.
func (d *Downloader) single(key string, fn func() (string, error)) (string, error) {
	d.mu.Lock()
	if res, busy := d.inflight[key]; busy {
		d.mu.Unlock()
		<-res.done
		return res.url, res.err
	}
	res := &saveResult{done: make(chan struct{})}
	d.inflight[key] = res
	d.mu.Unlock()

	res.url, res.err = fn()

	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	close(res.done)
	return res.url, res.err
}
