package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"webpilot/pkg/dom"
	"webpilot/pkg/logger"
	"webpilot/pkg/utils"
)

// actionTimeout bounds a single page operation.
const actionTimeout = 30 * time.Second

// newTabWait is how long a click waits for a potential new tab before
// assuming none opened.
const newTabWait = 500 * time.Millisecond

// DetachHandler is notified when the CDP session for a tab detaches. reason
// is the raw CDP detach reason; "canceled_by_user" signals user intent.
type DetachHandler func(tabID int, reason string)

// Page wraps one tab's CDP session. Action primitives address elements by
// the highlight index of the snapshot built by the most recent GetState;
// the index→element mapping is valid only for that snapshot.
type Page struct {
	tabID   int
	browser *Browser
	cfg     func() Config
	log     *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	attached bool

	lastState *dom.State

	onDetached DetachHandler
}

func newPage(tabID int, b *Browser, cfg func() Config) *Page {
	return &Page{
		tabID:   tabID,
		browser: b,
		cfg:     cfg,
		log:     logger.Named("page").With(zap.Int("tab", tabID)),
	}
}

// TabID returns the tab this page is bound to.
func (p *Page) TabID() int { return p.tabID }

// SetDetachHandler registers a callback for CDP detach events.
func (p *Page) SetDetachHandler(h DetachHandler) { p.onDetached = h }

// Attach establishes the CDP session if not already attached. The tab is
// not activated. Attach failures are retried briefly before reporting an
// AttachError.
func (p *Page) Attach() error {
	if p.attached && p.ctx != nil && p.ctx.Err() == nil {
		return nil
	}

	operation := func() error {
		tabCtx, cancel, err := p.browser.newTabContext(p.tabID)
		if err != nil {
			return err
		}
		// Run with no actions forces target attachment.
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return err
		}

		chromedp.ListenTarget(tabCtx, func(ev interface{}) {
			if d, ok := ev.(*inspector.EventDetached); ok {
				p.handleDetached(string(d.Reason))
			}
		})

		p.ctx = tabCtx
		p.cancel = cancel
		p.attached = true
		return nil
	}

	cfg := utils.RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	if err := utils.ExecuteWithRetry(operation, cfg); err != nil {
		return &AttachError{TabID: p.tabID, Err: err}
	}
	p.log.Debug("attached")
	return nil
}

// Detach releases the CDP session. The page can reattach later.
func (p *Page) Detach() {
	if p.cancel != nil {
		p.cancel()
	}
	p.attached = false
}

func (p *Page) handleDetached(reason string) {
	p.attached = false
	p.log.Debug("cdp detached", zap.String("reason", reason))
	if p.onDetached != nil {
		p.onDetached(p.tabID, reason)
	}
}

// runOp executes chromedp actions against the tab, reattaching
// transparently when the session was lost, and honoring both the caller's
// context and the action timeout.
func (p *Page) runOp(ctx context.Context, actions ...chromedp.Action) error {
	if err := p.Attach(); err != nil {
		return err
	}

	opCtx, opCancel := context.WithCancel(p.ctx)
	defer opCancel()
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()
	timeoutCtx, cancel := context.WithTimeout(opCtx, actionTimeout)
	defer cancel()

	err := chromedp.Run(timeoutCtx, actions...)
	if err != nil && ctx.Err() == nil && p.ctx.Err() != nil {
		// Tab context died (navigation target swap). Reattach once and retry.
		p.attached = false
		if attachErr := p.Attach(); attachErr != nil {
			return attachErr
		}
		retryCtx, retryCancel := context.WithTimeout(p.ctx, actionTimeout)
		defer retryCancel()
		stop2 := context.AfterFunc(ctx, retryCancel)
		defer stop2()
		err = chromedp.Run(retryCtx, actions...)
	}
	return err
}

// Navigate drives the tab to url after a firewall check, then waits for the
// page to load.
func (p *Page) Navigate(ctx context.Context, url string) error {
	cfg := p.cfg()
	if err := cfg.Firewall().Check(url); err != nil {
		return err
	}
	if err := p.runOp(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return p.WaitForLoad(ctx)
}

// WaitForLoad waits for the document body plus the configured minimum
// settle time.
func (p *Page) WaitForLoad(ctx context.Context) error {
	if err := p.runOp(ctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		p.log.Debug("wait for body failed", zap.Error(err))
	}
	minWait := p.cfg().MinimumWaitPageLoadTime
	if minWait > 0 {
		select {
		case <-time.After(minWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// treeResult is the payload of the injected build script.
type treeResult struct {
	Tree        json.RawMessage `json:"tree"`
	PixelsAbove int             `json:"pixelsAbove"`
	PixelsBelow int             `json:"pixelsBelow"`
}

// GetState builds a fresh DOM snapshot and returns the browser state. The
// returned state replaces the page's current index→element mapping.
func (p *Page) GetState(ctx context.Context, includeScreenshot bool) (*dom.State, error) {
	cfg := p.cfg()

	expr := dom.BuildTreeExpression(dom.BuildParams{
		DoHighlightElements: cfg.DisplayHighlights,
		FocusHighlightIndex: -1,
		ViewportExpansion:   0,
	})

	var raw treeResult
	var url, title string
	err := p.runOp(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Evaluate(expr, &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("build dom tree: %w", err)
	}

	root, selectorMap, err := dom.ParseTree(raw.Tree)
	if err != nil {
		return nil, err
	}

	tabs, err := p.browser.ListTabs()
	if err != nil {
		p.log.Debug("tab listing failed", zap.Error(err))
	}

	state := &dom.State{
		URL:         url,
		Title:       title,
		Tabs:        tabs,
		ElementTree: root,
		SelectorMap: selectorMap,
		PixelsAbove: raw.PixelsAbove,
		PixelsBelow: raw.PixelsBelow,
	}

	if includeScreenshot {
		shot, err := p.TakeScreenshot(ctx)
		if err != nil {
			p.log.Warn("screenshot failed", zap.Error(err))
		} else {
			state.Screenshot = shot
		}
	}

	p.lastState = state
	return state, nil
}

// LastState returns the most recent snapshot, if any.
func (p *Page) LastState() *dom.State { return p.lastState }

// TakeScreenshot captures the viewport as base64 JPEG.
func (p *Page) TakeScreenshot(ctx context.Context) (string, error) {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatJpeg).Do(ctx)
		return err
	})
	if err := p.runOp(ctx, capture); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// RemoveHighlight clears overlay markers left by a snapshot.
func (p *Page) RemoveHighlight(ctx context.Context) error {
	var ok bool
	return p.runOp(ctx, chromedp.Evaluate(dom.RemoveHighlightsScript, &ok))
}

// resolveIndex validates a highlight index against the current snapshot.
func (p *Page) resolveIndex(index int) (*dom.Node, error) {
	if p.lastState == nil {
		return nil, ErrNoSnapshot
	}
	node, ok := p.lastState.GetNodeByIndex(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrIndexNotFound, index)
	}
	return node, nil
}

// ClickElement clicks the element at the given highlight index by
// dispatching trusted CDP mouse events at its center. When the click opens
// a new tab, the new tab's id is returned; otherwise 0.
func (p *Page) ClickElement(ctx context.Context, index int) (int, error) {
	if _, err := p.resolveIndex(index); err != nil {
		return 0, err
	}
	if err := p.Attach(); err != nil {
		return 0, err
	}
	selector := dom.IndexSelector(index)

	// Watch for new-tab opens before clicking.
	newTabCh := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.Type == "page"
	})

	err := p.runOp(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var raw json.RawMessage
		locate := fmt.Sprintf(`(() => {
			const el = document.querySelector('%s');
			if (!el) return {error: 'element not found'};
			el.scrollIntoViewIfNeeded ? el.scrollIntoViewIfNeeded(true) : el.scrollIntoView({block:'center'});
			const rect = el.getBoundingClientRect();
			return {x: rect.x + rect.width/2, y: rect.y + rect.height/2};
		})()`, selector)
		if err := chromedp.Evaluate(locate, &raw).Do(cctx); err != nil {
			return fmt.Errorf("locate element: %w", err)
		}

		var pos struct {
			X     float64 `json:"x"`
			Y     float64 `json:"y"`
			Error string  `json:"error"`
		}
		if err := json.Unmarshal(raw, &pos); err != nil {
			return fmt.Errorf("parse position: %w", err)
		}
		if pos.Error != "" {
			return fmt.Errorf("index %d: %s", index, pos.Error)
		}

		// Trusted user-input events through the browser input pipeline.
		if err := input.DispatchMouseEvent(input.MousePressed, pos.X, pos.Y).
			WithButton(input.Left).WithClickCount(1).Do(cctx); err != nil {
			return fmt.Errorf("mouse press: %w", err)
		}
		if err := input.DispatchMouseEvent(input.MouseReleased, pos.X, pos.Y).
			WithButton(input.Left).WithClickCount(1).Do(cctx); err != nil {
			return fmt.Errorf("mouse release: %w", err)
		}
		return nil
	}))
	if err != nil {
		return 0, err
	}

	select {
	case tid := <-newTabCh:
		newID := p.browser.adoptTarget(tid)
		p.log.Debug("click opened new tab", zap.Int("newTab", newID))
		return newID, nil
	case <-time.After(newTabWait):
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// InputText clears the element at the given index and types text into it.
func (p *Page) InputText(ctx context.Context, index int, text string) error {
	if _, err := p.resolveIndex(index); err != nil {
		return err
	}
	selector := dom.IndexSelector(index)

	return p.runOp(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		focus := fmt.Sprintf(`(() => {
			const el = document.querySelector('%s');
			if (!el) return false;
			el.scrollIntoViewIfNeeded ? el.scrollIntoViewIfNeeded(true) : el.scrollIntoView({block:'center'});
			el.focus();
			if ('value' in el) {
				el.value = '';
				el.dispatchEvent(new Event('input', {bubbles: true}));
			}
			return true;
		})()`, selector)

		var ok bool
		if err := chromedp.Evaluate(focus, &ok).Do(cctx); err != nil {
			return fmt.Errorf("focus element: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrIndexNotFound, index)
		}
		return chromedp.SendKeys(selector, text, chromedp.ByQuery).Do(cctx)
	}))
}

// keyNames maps key names accepted by the send_keys action to key codes.
var keyNames = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Home":       kb.Home,
	"End":        kb.End,
}

// SendKeys sends keyboard input to the focused element. Special keys are
// named ("Enter", "Tab", ...); anything else is typed literally.
func (p *Page) SendKeys(ctx context.Context, keys string) error {
	seq := keys
	if code, ok := keyNames[keys]; ok {
		seq = code
	}
	return p.runOp(ctx, chromedp.KeyEvent(seq))
}

// ScrollBy scrolls the window vertically by the given pixel amount
// (negative scrolls up).
func (p *Page) ScrollBy(ctx context.Context, amount int) error {
	return p.runOp(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", amount), nil))
}

// ViewportHeight returns the window inner height.
func (p *Page) ViewportHeight(ctx context.Context) (int, error) {
	var h int
	if err := p.runOp(ctx, chromedp.Evaluate("window.innerHeight", &h)); err != nil {
		return 0, err
	}
	return h, nil
}

// ScrollToText scrolls the first element containing the given text into
// view. Returns ErrIndexNotFound-style failure when no element matches.
func (p *Page) ScrollToText(ctx context.Context, text string) error {
	script := fmt.Sprintf(`(() => {
		const needle = %s;
		const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		while (walker.nextNode()) {
			const node = walker.currentNode;
			if (node.textContent.includes(needle) && node.parentElement) {
				node.parentElement.scrollIntoView({block: 'center'});
				return true;
			}
		}
		return false;
	})()`, jsString(text))

	var found bool
	if err := p.runOp(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("text %q not found on page", text)
	}
	return nil
}

// DropdownOption is one option of a <select> element.
type DropdownOption struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

// GetDropdownOptions lists the options of the <select> at the given index.
func (p *Page) GetDropdownOptions(ctx context.Context, index int) ([]DropdownOption, error) {
	if _, err := p.resolveIndex(index); err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('%s');
		if (!el || el.tagName !== 'SELECT') return null;
		return Array.from(el.options).map(o => ({value: o.value, text: o.text, selected: o.selected}));
	})()`, dom.IndexSelector(index))

	var options []DropdownOption
	if err := p.runOp(ctx, chromedp.Evaluate(script, &options)); err != nil {
		return nil, err
	}
	if options == nil {
		return nil, fmt.Errorf("element %d is not a select", index)
	}
	return options, nil
}

// SelectDropdownOption selects the option with the given value or visible
// text on the <select> at the given index.
func (p *Page) SelectDropdownOption(ctx context.Context, index int, value string) error {
	if _, err := p.resolveIndex(index); err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector('%s');
		if (!el || el.tagName !== 'SELECT') return false;
		const want = %s;
		for (const o of el.options) {
			if (o.value === want || o.text === want) {
				el.value = o.value;
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, dom.IndexSelector(index), jsString(value))

	var ok bool
	if err := p.runOp(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in select %d", value, index)
	}
	return nil
}

// ExtractText returns the page's visible text content.
func (p *Page) ExtractText(ctx context.Context) (string, error) {
	var text string
	err := p.runOp(ctx, chromedp.Evaluate(
		`document.body && document.body.innerText ? document.body.innerText : ''`, &text))
	if err != nil {
		return "", fmt.Errorf("extract page text: %w", err)
	}
	return text, nil
}

// HTML returns the page's full HTML source.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.runOp(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// URL returns the page's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.runOp(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Title returns the page's current title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.runOp(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// jsString quotes a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// adoptTarget registers an externally observed target (e.g. opened by a
// click) and returns its assigned tab id.
func (b *Browser) adoptTarget(tid target.ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.idByTarget[tid]; ok {
		return id
	}
	id := b.nextTabID
	b.nextTabID++
	b.idByTarget[tid] = id
	b.targetByID[id] = tid
	return id
}
