// Package driver abstracts the browser-automation client. The coordination
// core never talks CDP directly: it consumes this interface, and the rod
// implementation adapts it to a debuggable browser over its devtools port.
package driver

import (
	"context"
	"errors"
	"time"
)

// SelectorType names the supported element addressing schemes.
type SelectorType string

const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
	SelectorID    SelectorType = "id"
)

// Selector addresses an element on the page.
type Selector struct {
	Type  SelectorType
	Value string
}

// WaitUntil names the navigation completion events.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
)

// Cookie is the transport-neutral cookie representation.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
}

// PageMeta is the lightweight page identity used in snapshots.
type PageMeta struct {
	URL   string
	Title string
}

// ElementReport carries debug_element diagnostics for one element.
type ElementReport struct {
	Found         bool           `json:"found"`
	Visible       bool           `json:"visible"`
	Interactable  bool           `json:"interactable"`
	TagName       string         `json:"tag_name,omitempty"`
	Rect          map[string]int `json:"rect,omitempty"`
	Text          string         `json:"text,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	MatchCount    int            `json:"match_count"`
	InIframe      bool           `json:"in_iframe,omitempty"`
	OuterHTMLHead string         `json:"outer_html_head,omitempty"`
}

// ErrElementNotFound reports a selector that matched nothing within its wait.
var ErrElementNotFound = errors.New("element not found")

// ErrElementNotInteractable reports an element that exists but cannot receive input.
var ErrElementNotInteractable = errors.New("element not interactable")

// ErrTargetGone reports a driver operation against a target the browser no
// longer knows; callers treat it as a lost window.
var ErrTargetGone = errors.New("target no longer exists")

// Driver is the per-process handle on the shared browser. Implementations
// are not safe for concurrent use; the session's intra-process lock
// serializes access.
type Driver interface {
	// Targets and windows.
	CreateWindow(ctx context.Context) (targetID string, windowID int, err error)
	ListTargetIDs(ctx context.Context) (map[string]bool, error)
	CloseTarget(ctx context.Context, targetID string) error
	ActivateTarget(ctx context.Context, targetID string) error
	ValidateTarget(ctx context.Context, targetID string) bool
	WindowForTarget(ctx context.Context, targetID string) (int, error)
	// BlankTargets returns targets in the given OS window, other than
	// keepTargetID, that show about:blank or the new-tab page.
	BlankTargets(ctx context.Context, windowID int, keepTargetID string) ([]string, error)

	// Page operations, addressed by target so the driver can re-bind
	// after a window is recreated.
	Navigate(ctx context.Context, targetID, url string, waitUntil WaitUntil, timeout time.Duration) error
	PageMeta(ctx context.Context, targetID string) (PageMeta, error)
	HTML(ctx context.Context, targetID string) (string, error)
	WaitForElement(ctx context.Context, targetID string, sel Selector, timeout time.Duration) (bool, error)
	Click(ctx context.Context, targetID string, sel Selector, iframe string, timeout time.Duration) error
	Fill(ctx context.Context, targetID string, sel Selector, text string, clearFirst bool, iframe string, timeout time.Duration) error
	SendKeys(ctx context.Context, targetID, key string, sel *Selector) error
	Scroll(ctx context.Context, targetID string, x, y int) error
	Screenshot(ctx context.Context, targetID string) ([]byte, error)
	DebugElement(ctx context.Context, targetID string, sel Selector, iframe string) (ElementReport, error)

	// Cookies for the shared profile.
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookie(ctx context.Context, c Cookie) error
	DeleteCookie(ctx context.Context, name, url string) error

	// Browser identity and teardown.
	BrowserVersion(ctx context.Context) (string, error)
	Close() error
}
