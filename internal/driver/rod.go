package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browsergate/browsergate/internal/logging"
	"go.uber.org/zap"
)

// Poll cadence while waiting for a freshly created target to expose a page.
const (
	pageBindAttempts = 20
	pageBindInterval = 50 * time.Millisecond
)

// Rod drives the shared browser through go-rod attached to its devtools
// endpoint. It never launches a browser; the startup arbiter owns that.
type Rod struct {
	browser *rod.Browser
	log     *logging.Logger
}

// Attach connects to a debuggable browser at host:port.
func Attach(ctx context.Context, host string, port int, log *logging.Logger) (*Rod, error) {
	if log == nil {
		log = logging.NewNop()
	}

	u, err := launcher.ResolveURL(fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve devtools url for %s:%d: %w", host, port, err)
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to devtools at %s:%d: %w", host, port, err)
	}

	return &Rod{browser: browser, log: log.Component("driver")}, nil
}

// Close shuts the shared browser down: rod's Browser.Close sends the
// devtools Browser.close command, which ends every agent's windows too.
func (d *Rod) Close() error {
	return d.browser.Close()
}

// CreateWindow opens a new OS-level window and returns its target and
// window ids. The devtools Browser.createWindow command is preferred; not
// every browser build exposes it, so Target.createTarget with newWindow
// plus a window lookup is the fallback.
func (d *Rod) CreateWindow(ctx context.Context) (string, int, error) {
	if raw, err := d.browser.Call(ctx, "", "Browser.createWindow", map[string]interface{}{"state": "normal"}); err == nil {
		var res struct {
			WindowID int    `json:"windowId"`
			TargetID string `json:"targetId"`
		}
		if json.Unmarshal(raw, &res) == nil && res.TargetID != "" {
			return res.TargetID, res.WindowID, nil
		}
	}

	created, err := proto.TargetCreateTarget{URL: "about:blank", NewWindow: true}.Call(d.browser)
	if err != nil {
		return "", 0, fmt.Errorf("create target: %w", err)
	}
	targetID := string(created.TargetID)

	windowID, err := d.WindowForTarget(ctx, targetID)
	if err != nil {
		d.log.Debug("window lookup after create failed", zap.Error(err))
		windowID = 0
	}
	return targetID, windowID, nil
}

// ListTargetIDs enumerates page-type targets currently known to the browser.
func (d *Rod) ListTargetIDs(ctx context.Context) (map[string]bool, error) {
	res, err := proto.TargetGetTargets{}.Call(d.browser)
	if err != nil {
		return nil, fmt.Errorf("enumerate targets: %w", err)
	}
	ids := make(map[string]bool, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		if info.Type == "page" {
			ids[string(info.TargetID)] = true
		}
	}
	return ids, nil
}

// CloseTarget closes one target best-effort.
func (d *Rod) CloseTarget(ctx context.Context, targetID string) error {
	_, err := proto.TargetCloseTarget{TargetID: proto.TargetTargetID(targetID)}.Call(d.browser)
	return err
}

// ActivateTarget raises the target's window.
func (d *Rod) ActivateTarget(ctx context.Context, targetID string) error {
	return proto.TargetActivateTarget{TargetID: proto.TargetTargetID(targetID)}.Call(d.browser)
}

// ValidateTarget reports whether the browser still knows the target.
func (d *Rod) ValidateTarget(ctx context.Context, targetID string) bool {
	ids, err := d.ListTargetIDs(ctx)
	if err != nil {
		return false
	}
	return ids[targetID]
}

// WindowForTarget maps a target to its OS window id.
func (d *Rod) WindowForTarget(ctx context.Context, targetID string) (int, error) {
	res, err := proto.BrowserGetWindowForTarget{TargetID: proto.TargetTargetID(targetID)}.Call(d.browser)
	if err != nil {
		return 0, fmt.Errorf("window for target %s: %w", targetID, err)
	}
	return int(res.WindowID), nil
}

// BlankTargets returns blank-looking targets inside the given OS window,
// excluding keepTargetID. Targets in other windows are never reported: a
// blank-looking target may be another agent's window mid-navigation.
func (d *Rod) BlankTargets(ctx context.Context, windowID int, keepTargetID string) ([]string, error) {
	if windowID == 0 {
		return nil, nil
	}

	res, err := proto.TargetGetTargets{}.Call(d.browser)
	if err != nil {
		return nil, fmt.Errorf("enumerate targets: %w", err)
	}

	var blank []string
	for _, info := range res.TargetInfos {
		if info.Type != "page" || string(info.TargetID) == keepTargetID {
			continue
		}
		url := strings.ToLower(info.URL)
		if url != "about:blank" && url != "chrome://newtab/" && !(url == "" && info.Title == "") {
			continue
		}
		wid, err := d.WindowForTarget(ctx, string(info.TargetID))
		if err != nil || wid != windowID {
			continue
		}
		blank = append(blank, string(info.TargetID))
	}
	return blank, nil
}

// Navigate loads url in the target's page and waits for the requested
// lifecycle event.
func (d *Rod) Navigate(ctx context.Context, targetID, url string, waitUntil WaitUntil, timeout time.Duration) error {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return err
	}
	p := page.Timeout(timeout)

	if waitUntil == WaitDOMContentLoaded {
		wait := p.WaitEvent(&proto.PageDomContentEventFired{})
		if err := p.Navigate(url); err != nil {
			return fmt.Errorf("navigate to %s: %w", url, err)
		}
		wait()
		return nil
	}

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load of %s: %w", url, err)
	}
	return nil
}

// PageMeta returns the target's URL and title.
func (d *Rod) PageMeta(ctx context.Context, targetID string) (PageMeta, error) {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return PageMeta{}, err
	}
	info, err := page.Info()
	if err != nil {
		return PageMeta{}, fmt.Errorf("page info: %w", err)
	}
	return PageMeta{URL: info.URL, Title: info.Title}, nil
}

// HTML returns the serialized document of the target.
func (d *Rod) HTML(ctx context.Context, targetID string) (string, error) {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return "", err
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// WaitForElement waits until the selector matches, reporting found=false on
// timeout rather than an error.
func (d *Rod) WaitForElement(ctx context.Context, targetID string, sel Selector, timeout time.Duration) (bool, error) {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return false, err
	}
	_, err = d.find(page, sel, "", timeout)
	if errors.Is(err, ErrElementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Click clicks the element addressed by sel, optionally inside an iframe.
func (d *Rod) Click(ctx context.Context, targetID string, sel Selector, iframe string, timeout time.Duration) error {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return err
	}
	el, err := d.find(page, sel, iframe, timeout)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		d.log.Debug("scroll into view failed", zap.Error(err))
	}
	if _, err := el.Interactable(); err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotInteractable, sel.Value)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", sel.Value, err)
	}
	return nil
}

// Fill types text into the element addressed by sel.
func (d *Rod) Fill(ctx context.Context, targetID string, sel Selector, text string, clearFirst bool, iframe string, timeout time.Duration) error {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return err
	}
	el, err := d.find(page, sel, iframe, timeout)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotInteractable, sel.Value)
	}
	if clearFirst {
		if err := el.SelectAllText(); err != nil {
			d.log.Debug("select-all before fill failed", zap.Error(err))
		}
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("fill %s: %w", sel.Value, err)
	}
	return nil
}

// SendKeys presses a named key, optionally focusing an element first.
func (d *Rod) SendKeys(ctx context.Context, targetID, key string, sel *Selector) error {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return err
	}
	if sel != nil {
		el, err := d.find(page, *sel, "", 5*time.Second)
		if err != nil {
			return err
		}
		if err := el.Focus(); err != nil {
			return fmt.Errorf("%w: %s", ErrElementNotInteractable, sel.Value)
		}
	}

	if k, ok := namedKeys[strings.ToLower(key)]; ok {
		return page.Keyboard.Press(k)
	}
	runes := []rune(key)
	if len(runes) == 1 {
		return page.Keyboard.Type(input.Key(runes[0]))
	}
	return fmt.Errorf("unknown key %q", key)
}

// Scroll scrolls the page by the given pixel deltas.
func (d *Rod) Scroll(ctx context.Context, targetID string, x, y int) error {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return err
	}
	return page.Mouse.Scroll(float64(x), float64(y), 1)
}

// Screenshot captures the visible viewport as PNG.
func (d *Rod) Screenshot(ctx context.Context, targetID string) ([]byte, error) {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// DebugElement reports presence, visibility and interactability for sel.
func (d *Rod) DebugElement(ctx context.Context, targetID string, sel Selector, iframe string) (ElementReport, error) {
	page, err := d.page(ctx, targetID)
	if err != nil {
		return ElementReport{}, err
	}

	report := ElementReport{InIframe: iframe != ""}

	el, err := d.find(page, sel, iframe, 2*time.Second)
	if errors.Is(err, ErrElementNotFound) {
		report.Reason = "no element matches the selector"
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.Found = true
	report.MatchCount = 1

	if desc, err := el.Describe(1, false); err == nil {
		report.TagName = strings.ToLower(desc.NodeName)
	}
	if visible, err := el.Visible(); err == nil {
		report.Visible = visible
	}
	if _, err := el.Interactable(); err == nil {
		report.Interactable = true
	} else {
		report.Reason = "element is covered or outside the viewport"
	}
	if shape, err := el.Shape(); err == nil && len(shape.Quads) > 0 {
		box := shape.Box()
		report.Rect = map[string]int{
			"x": int(box.X), "y": int(box.Y),
			"width": int(box.Width), "height": int(box.Height),
		}
	}
	if text, err := el.Text(); err == nil && len(text) > 0 {
		if len(text) > 200 {
			text = text[:200]
		}
		report.Text = text
	}
	if html, err := el.HTML(); err == nil {
		if len(html) > 300 {
			html = html[:300]
		}
		report.OuterHTMLHead = html
	}
	return report, nil
}

// Cookies returns all cookies of the shared profile.
func (d *Rod) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := d.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return cookies, nil
}

// SetCookie stores one cookie in the shared profile.
func (d *Rod) SetCookie(ctx context.Context, c Cookie) error {
	param := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Expires > 0 {
		param.Expires = proto.TimeSinceEpoch(c.Expires)
	}
	if err := d.browser.SetCookies([]*proto.NetworkCookieParam{param}); err != nil {
		return fmt.Errorf("set cookie %s: %w", c.Name, err)
	}
	return nil
}

// DeleteCookie removes cookies matching name (and url, when given).
func (d *Rod) DeleteCookie(ctx context.Context, name, url string) error {
	pages, err := d.browser.Pages()
	if err != nil || len(pages) == 0 {
		return fmt.Errorf("no page session for cookie deletion: %w", err)
	}
	req := proto.NetworkDeleteCookies{Name: name}
	if url != "" {
		req.URL = url
	}
	return req.Call(pages.First())
}

// BrowserVersion returns the product string reported by the browser.
func (d *Rod) BrowserVersion(ctx context.Context) (string, error) {
	res, err := proto.BrowserGetVersion{}.Call(d.browser)
	if err != nil {
		return "", err
	}
	return res.Product, nil
}

// page binds the target to a page handle, polling briefly: a target created
// a moment ago may not be attachable yet.
func (d *Rod) page(ctx context.Context, targetID string) (*rod.Page, error) {
	var lastErr error
	for i := 0; i < pageBindAttempts; i++ {
		page, err := d.browser.PageFromTarget(proto.TargetTargetID(targetID))
		if err == nil {
			return page.Context(ctx), nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pageBindInterval):
		}
	}
	if !d.ValidateTarget(ctx, targetID) {
		return nil, fmt.Errorf("%w: %s", ErrTargetGone, targetID)
	}
	return nil, fmt.Errorf("bind page for target %s: %w", targetID, lastErr)
}

// find locates an element, optionally inside an iframe, translating rod's
// deadline errors into ErrElementNotFound.
func (d *Rod) find(page *rod.Page, sel Selector, iframe string, timeout time.Duration) (*rod.Element, error) {
	scope := page.Timeout(timeout)

	if iframe != "" {
		frameEl, err := scope.Element(iframe)
		if err != nil {
			return nil, fmt.Errorf("%w: iframe %s", ErrElementNotFound, iframe)
		}
		framePage, err := frameEl.Frame()
		if err != nil {
			return nil, fmt.Errorf("resolve iframe %s: %w", iframe, err)
		}
		scope = framePage.Timeout(timeout)
	}

	var (
		el  *rod.Element
		err error
	)
	switch sel.Type {
	case SelectorXPath:
		el, err = scope.ElementX(sel.Value)
	case SelectorID:
		el, err = scope.Element("#" + sel.Value)
	default:
		el, err = scope.Element(sel.Value)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, sel.Value)
		}
		return nil, fmt.Errorf("find %s: %w", sel.Value, err)
	}
	return el, nil
}

// namedKeys maps the tool-surface key names onto devtools key definitions.
var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Space,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"home":       input.Home,
	"end":        input.End,
}
