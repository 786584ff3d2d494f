package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browsergate/browsergate/internal/driver"
)

// fakeDriver is an in-memory stand-in for the browser: targets are entries
// in a map, pages are url/title/html triples.
type fakeDriver struct {
	mu        sync.Mutex
	targets   map[string]*fakePage
	nextID    int
	closed    bool
	failNav   error
	cookies   []driver.Cookie
	createErr error
}

type fakePage struct {
	windowID int
	url      string
	title    string
	html     string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{targets: make(map[string]*fakePage)}
}

// seedTarget pre-creates a target, as if another agent had opened it.
func (f *fakeDriver) seedTarget(targetID string, windowID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets[targetID] = &fakePage{windowID: windowID, url: "about:blank"}
}

func (f *fakeDriver) CreateWindow(ctx context.Context) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", 0, f.createErr
	}
	f.nextID++
	targetID := fmt.Sprintf("TARGET%d", f.nextID)
	windowID := 100 + f.nextID
	f.targets[targetID] = &fakePage{windowID: windowID, url: "about:blank"}
	return targetID, windowID, nil
}

func (f *fakeDriver) ListTargetIDs(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool, len(f.targets))
	for id := range f.targets {
		ids[id] = true
	}
	return ids, nil
}

func (f *fakeDriver) CloseTarget(ctx context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.targets[targetID]; !ok {
		return driver.ErrTargetGone
	}
	delete(f.targets, targetID)
	return nil
}

func (f *fakeDriver) ActivateTarget(ctx context.Context, targetID string) error {
	return nil
}

func (f *fakeDriver) ValidateTarget(ctx context.Context, targetID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.targets[targetID]
	return ok
}

func (f *fakeDriver) WindowForTarget(ctx context.Context, targetID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.targets[targetID]
	if !ok {
		return 0, driver.ErrTargetGone
	}
	return page.windowID, nil
}

func (f *fakeDriver) BlankTargets(ctx context.Context, windowID int, keepTargetID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var blank []string
	for id, page := range f.targets {
		if id != keepTargetID && page.windowID == windowID && page.url == "about:blank" {
			blank = append(blank, id)
		}
	}
	return blank, nil
}

func (f *fakeDriver) Navigate(ctx context.Context, targetID, url string, waitUntil driver.WaitUntil, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNav != nil {
		return f.failNav
	}
	page, ok := f.targets[targetID]
	if !ok {
		return driver.ErrTargetGone
	}
	page.url = url
	page.title = "Page: " + url
	page.html = "<html><body><h1>" + url + "</h1></body></html>"
	return nil
}

func (f *fakeDriver) PageMeta(ctx context.Context, targetID string) (driver.PageMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.targets[targetID]
	if !ok {
		return driver.PageMeta{}, driver.ErrTargetGone
	}
	return driver.PageMeta{URL: page.url, Title: page.title}, nil
}

func (f *fakeDriver) HTML(ctx context.Context, targetID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.targets[targetID]
	if !ok {
		return "", driver.ErrTargetGone
	}
	return page.html, nil
}

func (f *fakeDriver) WaitForElement(ctx context.Context, targetID string, sel driver.Selector, timeout time.Duration) (bool, error) {
	return sel.Value == "#present", nil
}

func (f *fakeDriver) Click(ctx context.Context, targetID string, sel driver.Selector, iframe string, timeout time.Duration) error {
	if sel.Value == "#missing" {
		return driver.ErrElementNotFound
	}
	return nil
}

func (f *fakeDriver) Fill(ctx context.Context, targetID string, sel driver.Selector, text string, clearFirst bool, iframe string, timeout time.Duration) error {
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, targetID, key string, sel *driver.Selector) error {
	return nil
}

func (f *fakeDriver) Scroll(ctx context.Context, targetID string, x, y int) error {
	return nil
}

func (f *fakeDriver) Screenshot(ctx context.Context, targetID string) ([]byte, error) {
	return []byte("PNGDATA"), nil
}

func (f *fakeDriver) DebugElement(ctx context.Context, targetID string, sel driver.Selector, iframe string) (driver.ElementReport, error) {
	return driver.ElementReport{Found: true, Visible: true, Interactable: true, MatchCount: 1}, nil
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeDriver) SetCookie(ctx context.Context, c driver.Cookie) error {
	f.cookies = append(f.cookies, c)
	return nil
}

func (f *fakeDriver) DeleteCookie(ctx context.Context, name, url string) error {
	kept := f.cookies[:0]
	for _, c := range f.cookies {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	f.cookies = kept
	return nil
}

func (f *fakeDriver) BrowserVersion(ctx context.Context) (string, error) {
	return "FakeBrowser/1.0", nil
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}
