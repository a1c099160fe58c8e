// Package browser owns CDP attachment to a running browser: tab discovery,
// per-tab pages, DOM-state extraction, and the navigation firewall.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"webpilot/pkg/dom"
	"webpilot/pkg/logger"
)

// Browser is the process-wide connection to the browser's remote-debugging
// endpoint. It assigns stable integer tab ids to CDP page targets and hands
// out per-tab chromedp contexts without activating tabs.
type Browser struct {
	debuggingURL string
	log          *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	// browserCtx holds the browser-level CDP connection. It survives
	// individual tab target destruction and must never be cancelled while
	// the browser is in use.
	browserCtx    context.Context
	browserCancel context.CancelFunc
	connected     bool

	idByTarget map[target.ID]int
	targetByID map[int]target.ID
	nextTabID  int
}

// NewBrowser creates a lazy connector. No connection is made until first use.
func NewBrowser(debuggingURL string) *Browser {
	return &Browser{
		debuggingURL: debuggingURL,
		log:          logger.Named("browser"),
		idByTarget:   make(map[target.ID]int),
		targetByID:   make(map[int]target.ID),
		nextTabID:    1,
	}
}

// versionInfo is the reply of the /json/version endpoint.
type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverWebSocketURL resolves the browser-level WebSocket URL from the
// HTTP debugging endpoint.
func discoverWebSocketURL(debuggingURL string) (string, error) {
	if strings.HasPrefix(debuggingURL, "ws://") || strings.HasPrefix(debuggingURL, "wss://") {
		return debuggingURL, nil
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(debuggingURL, "/") + "/json/version")
	if err != nil {
		return "", fmt.Errorf("query %s/json/version: %w", debuggingURL, err)
	}
	defer resp.Body.Close()

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode version info: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("debugging endpoint returned no websocket URL")
	}
	return info.WebSocketDebuggerURL, nil
}

// connect establishes the browser-level connection once.
func (b *Browser) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Browser) connectLocked() error {
	if b.connected {
		return nil
	}

	wsURL, err := discoverWebSocketURL(b.debuggingURL)
	if err != nil {
		return err
	}

	b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	// Initializes the browser connection; required before target listing.
	if err := chromedp.Run(b.browserCtx, target.SetDiscoverTargets(true)); err != nil {
		b.browserCancel()
		b.allocCancel()
		b.allocCtx, b.browserCtx = nil, nil
		return fmt.Errorf("enable target discovery: %w", err)
	}

	b.connected = true
	b.log.Info("connected to browser", zap.String("ws", wsURL))
	return nil
}

// ListTabs enumerates open page targets, assigning integer ids to targets
// seen for the first time. Ordering is stable by tab id.
func (b *Browser) ListTabs() ([]dom.TabInfo, error) {
	if err := b.connect(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[target.ID]bool)
	var tabs []dom.TabInfo
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		seen[t.TargetID] = true
		id, ok := b.idByTarget[t.TargetID]
		if !ok {
			id = b.nextTabID
			b.nextTabID++
			b.idByTarget[t.TargetID] = id
			b.targetByID[id] = t.TargetID
		}
		tabs = append(tabs, dom.TabInfo{TabID: id, URL: t.URL, Title: t.Title})
	}

	// Drop mappings for targets that no longer exist.
	for tid, id := range b.idByTarget {
		if !seen[tid] {
			delete(b.idByTarget, tid)
			delete(b.targetByID, id)
		}
	}

	sort.Slice(tabs, func(i, j int) bool { return tabs[i].TabID < tabs[j].TabID })
	return tabs, nil
}

// targetFor resolves a tab id to its CDP target, refreshing the listing if
// the id is unknown.
func (b *Browser) targetFor(tabID int) (target.ID, error) {
	b.mu.Lock()
	tid, ok := b.targetByID[tabID]
	b.mu.Unlock()
	if ok {
		return tid, nil
	}

	if _, err := b.ListTabs(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	tid, ok = b.targetByID[tabID]
	if !ok {
		return "", fmt.Errorf("tab %d not found", tabID)
	}
	return tid, nil
}

// newTabContext creates a chromedp context bound to the given tab without
// activating it.
func (b *Browser) newTabContext(tabID int) (context.Context, context.CancelFunc, error) {
	if err := b.connect(); err != nil {
		return nil, nil, err
	}
	tid, err := b.targetFor(tabID)
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	allocCtx := b.allocCtx
	b.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(tid))
	return tabCtx, cancel, nil
}

// OpenTab creates a new page target and returns its assigned tab id. The
// tab is created in the background without stealing focus.
func (b *Browser) OpenTab(ctx context.Context, url string) (int, error) {
	if err := b.connect(); err != nil {
		return 0, err
	}
	if url == "" {
		url = "about:blank"
	}

	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()

	var tid target.ID
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tid, err = target.CreateTarget(url).WithBackground(true).Do(ctx)
		return err
	}))
	if err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextTabID
	b.nextTabID++
	b.idByTarget[tid] = id
	b.targetByID[id] = tid
	return id, nil
}

// CloseTab closes a page target.
func (b *Browser) CloseTab(ctx context.Context, tabID int) error {
	tid, err := b.targetFor(tabID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	browserCtx := b.browserCtx
	delete(b.idByTarget, tid)
	delete(b.targetByID, tabID)
	b.mu.Unlock()

	return chromedp.Run(browserCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		return target.CloseTarget(tid).Do(cctx)
	}))
}

// ActivateTab brings a tab to the foreground. Used only by explicit
// switch-tab actions; plain attachment never changes focus.
func (b *Browser) ActivateTab(ctx context.Context, tabID int) error {
	tid, err := b.targetFor(tabID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	browserCtx := b.browserCtx
	b.mu.Unlock()

	return chromedp.Run(browserCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		return target.ActivateTarget(tid).Do(cctx)
	}))
}

// Close tears down the browser-level connection.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.connected = false
	b.idByTarget = make(map[target.ID]int)
	b.targetByID = make(map[int]target.ID)
}
