package snapshot

import (
	"context"
	"time"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/driver"
)

// Snapshot is the condensed page state attached to tool replies.
type Snapshot struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	HTML      string `json:"html"`
	Truncated bool   `json:"truncated"`
}

// Empty returns the placeholder snapshot used when no page is reachable.
func Empty() Snapshot {
	return Snapshot{URL: "about:blank"}
}

// Capturer takes snapshots of the session's current target.
type Capturer struct {
	cfg *config.Config
}

// NewCapturer creates a capturer bound to the snapshot configuration.
func NewCapturer(cfg *config.Config) *Capturer {
	return &Capturer{cfg: cfg}
}

// Capture waits for the page to settle, then collects URL, title, and
// cleaned, truncated HTML. Failures degrade to whatever was collected;
// a snapshot must never fail the tool call it decorates.
func (c *Capturer) Capture(ctx context.Context, d driver.Driver, targetID string) Snapshot {
	if d == nil || targetID == "" {
		return Empty()
	}

	c.settle(ctx)

	snap := Empty()
	if meta, err := d.PageMeta(ctx, targetID); err == nil {
		snap.URL = meta.URL
		snap.Title = meta.Title
	}
	if raw, err := d.HTML(ctx, targetID); err == nil {
		cleaned := CleanHTML(raw, c.cfg.Snapshot.CleanLevel)
		snap.HTML, snap.Truncated = Truncate(cleaned, c.cfg.Snapshot.MaxChars)
	}
	return snap
}

// settle gives late DOM mutations a moment to land before capture.
func (c *Capturer) settle(ctx context.Context) {
	ms := c.cfg.Snapshot.SettleMS
	if ms <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}
