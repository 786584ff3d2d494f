package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/browsergate/browsergate/internal/driver"
)

// defaultActionTimeout bounds element waits when the caller gives none.
const defaultActionTimeout = 10 * time.Second

// Tool is one registered tool: its options plus its body.
type Tool struct {
	Options ToolOptions
	Handler HandlerFunc
}

// Tools is the gateway's tool surface. Every handler runs under the
// exclusive-access protocol.
type Tools struct {
	exclusive *Exclusive
	deps      Deps
}

// NewTools builds the tool surface on top of the protocol wrapper.
func NewTools(exclusive *Exclusive) *Tools {
	return &Tools{exclusive: exclusive, deps: exclusive.deps}
}

// Execute dispatches one tool call by name.
func (t *Tools) Execute(ctx context.Context, name string, p Params) Reply {
	tool, ok := t.registry()[name]
	if !ok {
		return Fail(ErrInvalidParams, fmt.Sprintf("unknown tool: %s", name))
	}
	if p == nil {
		p = Params{}
	}
	return t.exclusive.Run(ctx, tool.Options, p, tool.Handler)
}

// Names lists the registered tools.
func (t *Tools) Names() []string {
	reg := t.registry()
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	return names
}

func (t *Tools) registry() map[string]Tool {
	return map[string]Tool{
		"start_session": {
			Options: ToolOptions{Name: "start_session", NeedsDriver: true, NeedsWindow: true, Snapshot: true},
			Handler: t.startSession,
		},
		"close_window": {
			Options: ToolOptions{Name: "close_window"},
			Handler: t.closeWindow,
		},
		"force_close_all": {
			Options: ToolOptions{Name: "force_close_all", NoActionLock: true},
			Handler: t.forceCloseAll,
		},
		"unlock": {
			Options: ToolOptions{Name: "unlock", NoActionLock: true},
			Handler: t.unlock,
		},
		"navigate": {
			Options: ToolOptions{Name: "navigate", NeedsDriver: true, NeedsWindow: true, Snapshot: true},
			Handler: t.navigate,
		},
		"wait_for_element": {
			Options: ToolOptions{Name: "wait_for_element", NeedsDriver: true, NeedsWindow: true},
			Handler: t.waitForElement,
		},
		"click": {
			Options: ToolOptions{Name: "click", NeedsDriver: true, NeedsWindow: true, Snapshot: true},
			Handler: t.click,
		},
		"fill": {
			Options: ToolOptions{Name: "fill", NeedsDriver: true, NeedsWindow: true, Snapshot: true},
			Handler: t.fill,
		},
		"send_keys": {
			Options: ToolOptions{Name: "send_keys", NeedsDriver: true, NeedsWindow: true},
			Handler: t.sendKeys,
		},
		"scroll": {
			Options: ToolOptions{Name: "scroll", NeedsDriver: true, NeedsWindow: true},
			Handler: t.scroll,
		},
		"take_screenshot": {
			Options: ToolOptions{Name: "take_screenshot", NeedsDriver: true, NeedsWindow: true},
			Handler: t.takeScreenshot,
		},
		"get_cookies": {
			Options: ToolOptions{Name: "get_cookies", NeedsDriver: true},
			Handler: t.getCookies,
		},
		"set_cookie": {
			Options: ToolOptions{Name: "set_cookie", NeedsDriver: true},
			Handler: t.setCookie,
		},
		"delete_cookies": {
			Options: ToolOptions{Name: "delete_cookies", NeedsDriver: true},
			Handler: t.deleteCookies,
		},
		"debug_element": {
			Options: ToolOptions{Name: "debug_element", NeedsDriver: true, NeedsWindow: true},
			Handler: t.debugElement,
		},
		"get_diagnostics": {
			Options: ToolOptions{Name: "get_diagnostics", NoActionLock: true},
			Handler: t.getDiagnostics,
		},
	}
}

func (t *Tools) startSession(ctx context.Context, p Params) Reply {
	sess := t.deps.Session

	closed := t.deps.Windows.CloseExtraBlank(ctx, sess)
	if closed > 0 {
		t.exclusive.log.Debug("closed leftover blank tabs")
	}

	sessionID := sess.EnsureAgentTag()
	return Ok(map[string]interface{}{
		"session_id":       sessionID,
		"debugger":         sess.DebuggerAddress(),
		"lock_ttl_seconds": t.deps.Config.Locks.ActionLockTTLSecs,
	}).WithMessage(fmt.Sprintf("browser session ready; session id %s", sessionID))
}

func (t *Tools) closeWindow(ctx context.Context, p Params) Reply {
	sess := t.deps.Session
	if !sess.IsDriverInitialized() || sess.TargetID == "" {
		return Ok(map[string]interface{}{"closed": false}).
			WithMessage("no window to close")
	}

	closed, err := t.deps.Windows.Close(ctx, sess)
	if err != nil {
		return t.driverError(ctx, err)
	}
	msg := "no window to close"
	if closed {
		msg = "browser window closed"
	}
	return Ok(map[string]interface{}{"closed": closed}).WithMessage(msg)
}

func (t *Tools) forceCloseAll(ctx context.Context, p Params) Reply {
	killed, errs := t.deps.Windows.ForceCloseAll(ctx, t.deps.Session, t.deps.Lock)
	if killed == nil {
		killed = []int{}
	}
	if errs == nil {
		errs = []string{}
	}
	return Ok(map[string]interface{}{
		"killed_processes": killed,
		"errors":           errs,
	}).WithMessage(fmt.Sprintf("force closed browser; killed %d processes", len(killed)))
}

func (t *Tools) unlock(ctx context.Context, p Params) Reply {
	owner := t.deps.Session.EnsureAgentTag()
	released := t.deps.Lock.Release(ctx, owner)
	return Ok(map[string]interface{}{"released": released})
}

func (t *Tools) navigate(ctx context.Context, p Params) Reply {
	url, ok := p.String("url")
	if !ok || url == "" {
		return Fail(ErrInvalidParams, "url parameter required")
	}

	waitUntil := driver.WaitUntil(p.StringOr("wait_for", string(driver.WaitLoad)))
	if waitUntil != driver.WaitLoad && waitUntil != driver.WaitDOMContentLoaded {
		return Fail(ErrInvalidParams, `wait_for must be "load" or "domcontentloaded"`)
	}
	timeout := t.timeout(p, 30*time.Second)

	sess := t.deps.Session
	err := retryTransient(func() error {
		return sess.Driver.Navigate(ctx, sess.TargetID, url, waitUntil, timeout)
	})
	if err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) waitForElement(ctx context.Context, p Params) Reply {
	sel, reply := t.selector(p)
	if reply != nil {
		return *reply
	}
	timeout := t.timeout(p, defaultActionTimeout)

	sess := t.deps.Session
	found, err := sess.Driver.WaitForElement(ctx, sess.TargetID, sel, timeout)
	if err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(map[string]interface{}{"found": found})
}

func (t *Tools) click(ctx context.Context, p Params) Reply {
	sel, reply := t.selector(p)
	if reply != nil {
		return *reply
	}
	iframe := p.StringOr("iframe_selector", "")
	timeout := t.timeout(p, defaultActionTimeout)

	sess := t.deps.Session
	err := retryTransient(func() error {
		return sess.Driver.Click(ctx, sess.TargetID, sel, iframe, timeout)
	})
	if err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) fill(ctx context.Context, p Params) Reply {
	sel, reply := t.selector(p)
	if reply != nil {
		return *reply
	}
	text, ok := p.String("text")
	if !ok {
		return Fail(ErrInvalidParams, "text parameter required")
	}
	clearFirst := p.BoolOr("clear_first", true)
	iframe := p.StringOr("iframe_selector", "")
	timeout := t.timeout(p, defaultActionTimeout)

	sess := t.deps.Session
	err := retryTransient(func() error {
		return sess.Driver.Fill(ctx, sess.TargetID, sel, text, clearFirst, iframe, timeout)
	})
	if err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) sendKeys(ctx context.Context, p Params) Reply {
	key, ok := p.String("key")
	if !ok || key == "" {
		return Fail(ErrInvalidParams, "key parameter required")
	}

	var sel *driver.Selector
	if raw, ok := p.String("selector"); ok && raw != "" {
		s := driver.Selector{
			Type:  driver.SelectorType(p.StringOr("selector_type", string(driver.SelectorCSS))),
			Value: raw,
		}
		sel = &s
	}

	sess := t.deps.Session
	if err := sess.Driver.SendKeys(ctx, sess.TargetID, key, sel); err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) scroll(ctx context.Context, p Params) Reply {
	x := p.IntOr("x", 0)
	y := p.IntOr("y", 0)

	sess := t.deps.Session
	if err := sess.Driver.Scroll(ctx, sess.TargetID, x, y); err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) takeScreenshot(ctx context.Context, p Params) Reply {
	sess := t.deps.Session

	data, err := sess.Driver.Screenshot(ctx, sess.TargetID)
	if err != nil {
		return t.driverError(ctx, err)
	}

	if path, ok := p.String("path"); ok && path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return Fail(ErrIO, fmt.Sprintf("write screenshot to %s: %v", path, err))
		}
		return Ok(map[string]interface{}{"path": path})
	}

	if p.BoolOr("return_base64", true) {
		return Ok(map[string]interface{}{
			"image_base64": base64.StdEncoding.EncodeToString(data),
		})
	}
	return Fail(ErrInvalidParams, "either path or return_base64 must be set")
}

func (t *Tools) getCookies(ctx context.Context, p Params) Reply {
	cookies, err := t.deps.Session.Driver.Cookies(ctx)
	if err != nil {
		return t.driverError(ctx, err)
	}
	if name, ok := p.String("name"); ok && name != "" {
		filtered := cookies[:0]
		for _, c := range cookies {
			if c.Name == name {
				filtered = append(filtered, c)
			}
		}
		cookies = filtered
	}
	if cookies == nil {
		cookies = []driver.Cookie{}
	}
	return Ok(map[string]interface{}{"cookies": cookies})
}

func (t *Tools) setCookie(ctx context.Context, p Params) Reply {
	name, ok := p.String("name")
	if !ok || name == "" {
		return Fail(ErrInvalidParams, "name parameter required")
	}
	value, ok := p.String("value")
	if !ok {
		return Fail(ErrInvalidParams, "value parameter required")
	}

	cookie := driver.Cookie{
		Name:     name,
		Value:    value,
		Domain:   p.StringOr("domain", ""),
		Path:     p.StringOr("path", "/"),
		Expires:  p.FloatOr("expires", 0),
		Secure:   p.BoolOr("secure", false),
		HTTPOnly: p.BoolOr("http_only", false),
	}
	if err := t.deps.Session.Driver.SetCookie(ctx, cookie); err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) deleteCookies(ctx context.Context, p Params) Reply {
	name, ok := p.String("name")
	if !ok || name == "" {
		return Fail(ErrInvalidParams, "name parameter required")
	}
	url := p.StringOr("url", "")

	if err := t.deps.Session.Driver.DeleteCookie(ctx, name, url); err != nil {
		return t.driverError(ctx, err)
	}
	return Ok(nil)
}

func (t *Tools) debugElement(ctx context.Context, p Params) Reply {
	sel, reply := t.selector(p)
	if reply != nil {
		return *reply
	}
	iframe := p.StringOr("iframe_selector", "")

	sess := t.deps.Session
	report, err := sess.Driver.DebugElement(ctx, sess.TargetID, sel, iframe)
	if err != nil {
		return t.driverError(ctx, err)
	}

	// The driver resolves at most one element; count all matches in the
	// current document for selector-debugging feedback.
	if html, err := sess.Driver.HTML(ctx, sess.TargetID); err == nil {
		if n, err := countMatches(html, sel); err == nil {
			report.MatchCount = n
		}
	}

	return Ok(map[string]interface{}{"diagnostics": report})
}

func (t *Tools) getDiagnostics(ctx context.Context, p Params) Reply {
	diag := collectDiagnostics(ctx, t.deps.Session, t.deps.Registry, t.deps.Lock, nil)
	return Ok(map[string]interface{}{
		"diagnostics": diag,
		"context_state": map[string]interface{}{
			"driver_initialized": t.deps.Session.IsDriverInitialized(),
			"window_ready":       t.deps.Session.IsWindowReady(),
		},
	})
}

// selector decodes the selector/selector_type pair common to element tools.
func (t *Tools) selector(p Params) (driver.Selector, *Reply) {
	raw, ok := p.String("selector")
	if !ok || raw == "" {
		r := Fail(ErrInvalidParams, "selector parameter required")
		return driver.Selector{}, &r
	}
	selType := driver.SelectorType(p.StringOr("selector_type", string(driver.SelectorCSS)))
	switch selType {
	case driver.SelectorCSS, driver.SelectorXPath, driver.SelectorID:
	default:
		r := Fail(ErrInvalidParams, `selector_type must be "css", "xpath", or "id"`)
		return driver.Selector{}, &r
	}
	return driver.Selector{Type: selType, Value: raw}, nil
}

func (t *Tools) timeout(p Params, def time.Duration) time.Duration {
	secs := p.FloatOr("timeout_sec", 0)
	if secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// driverError maps a driver failure onto the reply taxonomy, attaching
// diagnostics and resetting window state when the window itself is gone.
func (t *Tools) driverError(ctx context.Context, err error) Reply {
	sess := t.deps.Session
	diag := collectDiagnostics(ctx, sess, t.deps.Registry, t.deps.Lock, err)

	switch {
	case errors.Is(err, driver.ErrElementNotFound):
		return Fail(ErrNotFound, err.Error()).WithDiagnostics(diag)
	case errors.Is(err, driver.ErrElementNotInteractable):
		return Fail(ErrNotInteract, err.Error()).WithDiagnostics(diag)
	case errors.Is(err, driver.ErrTargetGone):
		sess.ResetWindowState()
		return Fail(ErrWindowLost, err.Error()).WithDiagnostics(diag)
	case errors.Is(err, context.DeadlineExceeded):
		return Fail(ErrTimeout, err.Error()).WithDiagnostics(diag)
	default:
		return Fail(ErrInternal, err.Error()).WithDiagnostics(diag)
	}
}

// countMatches counts selector matches in a serialized document. CSS and id
// selectors go through goquery; xpath through htmlquery.
func countMatches(rawHTML string, sel driver.Selector) (int, error) {
	switch sel.Type {
	case driver.SelectorXPath:
		doc, err := htmlquery.Parse(strings.NewReader(rawHTML))
		if err != nil {
			return 0, err
		}
		nodes, err := htmlquery.QueryAll(doc, sel.Value)
		if err != nil {
			return 0, err
		}
		return len(nodes), nil
	case driver.SelectorID:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
		if err != nil {
			return 0, err
		}
		return doc.Find("#" + sel.Value).Length(), nil
	default:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
		if err != nil {
			return 0, err
		}
		return doc.Find(sel.Value).Length(), nil
	}
}
