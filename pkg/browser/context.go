package browser

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"webpilot/pkg/dom"
	"webpilot/pkg/logger"
)

// Config is a context's behavior record. It is merged by UpdateConfig and
// takes effect on the next action or navigation.
type Config struct {
	FirewallEnabled         bool
	AllowedURLs             []string
	DeniedURLs              []string
	MinimumWaitPageLoadTime time.Duration
	DisplayHighlights       bool
	IncludeAttributes       []string
}

// Firewall returns the navigation firewall for this config.
func (c Config) Firewall() Firewall {
	return Firewall{
		Enabled:   c.FirewallEnabled,
		AllowList: c.AllowedURLs,
		DenyList:  c.DeniedURLs,
	}
}

// ConfigPatch carries partial config updates; nil fields are left unchanged.
type ConfigPatch struct {
	FirewallEnabled         *bool
	AllowedURLs             *[]string
	DeniedURLs              *[]string
	MinimumWaitPageLoadTime *time.Duration
	DisplayHighlights       *bool
	IncludeAttributes       *[]string
}

// Context owns the CDP state for one tab and any pages the agent opened
// during a task. The current-tab pointer only moves through SwitchTab,
// OpenTab, or click-opened tabs — never by the window's focus changing.
type Context struct {
	originTab int
	browser   *Browser
	log       *zap.Logger

	mu            sync.Mutex
	cfg           Config
	pages         map[int]*Page
	currentTab    int
	detachHandler DetachHandler
}

// NewContext creates a context anchored to the given tab.
func NewContext(b *Browser, tabID int, cfg Config) *Context {
	return &Context{
		originTab:  tabID,
		browser:    b,
		log:        logger.Named("browser-context").With(zap.Int("tab", tabID)),
		cfg:        cfg,
		pages:      make(map[int]*Page),
		currentTab: tabID,
	}
}

// OriginTab returns the tab this context was created for.
func (c *Context) OriginTab() int { return c.originTab }

// CurrentTabID returns the tab the context considers current.
func (c *Context) CurrentTabID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTab
}

// Snapshot returns the current config.
func (c *Context) Snapshot() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig merges a patch into the config. Changes apply to the next
// action or navigation.
func (c *Context) UpdateConfig(patch ConfigPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if patch.FirewallEnabled != nil {
		c.cfg.FirewallEnabled = *patch.FirewallEnabled
	}
	if patch.AllowedURLs != nil {
		c.cfg.AllowedURLs = *patch.AllowedURLs
	}
	if patch.DeniedURLs != nil {
		c.cfg.DeniedURLs = *patch.DeniedURLs
	}
	if patch.MinimumWaitPageLoadTime != nil {
		c.cfg.MinimumWaitPageLoadTime = *patch.MinimumWaitPageLoadTime
	}
	if patch.DisplayHighlights != nil {
		c.cfg.DisplayHighlights = *patch.DisplayHighlights
	}
	if patch.IncludeAttributes != nil {
		c.cfg.IncludeAttributes = *patch.IncludeAttributes
	}
}

// SetDetachHandler registers a callback invoked when any attached page's
// CDP session detaches. Applied to pages attached afterwards as well.
func (c *Context) SetDetachHandler(h DetachHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachHandler = h
	for _, p := range c.pages {
		p.SetDetachHandler(h)
	}
}

// GetPageForTab attaches CDP to the given tab without activating it and
// returns its Page. Repeat calls return the same Page.
func (c *Context) GetPageForTab(tabID int) (*Page, error) {
	c.mu.Lock()
	p, ok := c.pages[tabID]
	if !ok {
		p = newPage(tabID, c.browser, c.Snapshot)
		if c.detachHandler != nil {
			p.SetDetachHandler(c.detachHandler)
		}
		c.pages[tabID] = p
	}
	c.mu.Unlock()

	if err := p.Attach(); err != nil {
		c.mu.Lock()
		delete(c.pages, tabID)
		c.mu.Unlock()
		return nil, err
	}
	return p, nil
}

// GetCurrentPage returns the page for the context's current tab. It never
// consults the window's active tab.
func (c *Context) GetCurrentPage() (*Page, error) {
	return c.GetPageForTab(c.CurrentTabID())
}

// SwitchTab activates the given tab and makes it current.
func (c *Context) SwitchTab(ctx context.Context, tabID int) (*Page, error) {
	p, err := c.GetPageForTab(tabID)
	if err != nil {
		return nil, err
	}
	if err := c.browser.ActivateTab(ctx, tabID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.currentTab = tabID
	c.mu.Unlock()
	return p, nil
}

// OpenTab opens a new tab at url (after a firewall check) and makes it
// current.
func (c *Context) OpenTab(ctx context.Context, url string) (*Page, error) {
	if err := c.Snapshot().Firewall().Check(url); err != nil {
		return nil, err
	}
	tabID, err := c.browser.OpenTab(ctx, url)
	if err != nil {
		return nil, err
	}
	p, err := c.GetPageForTab(tabID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.currentTab = tabID
	c.mu.Unlock()
	if err := p.WaitForLoad(ctx); err != nil {
		c.log.Debug("new tab load wait failed", zap.Error(err))
	}
	return p, nil
}

// AdoptTab makes a click-opened tab part of this context and current.
func (c *Context) AdoptTab(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pages[tabID]; !ok {
		p := newPage(tabID, c.browser, c.Snapshot)
		if c.detachHandler != nil {
			p.SetDetachHandler(c.detachHandler)
		}
		c.pages[tabID] = p
	}
	c.currentTab = tabID
}

// CloseTab closes the given tab and drops it from the context. When the
// current tab is closed, the context falls back to its origin tab.
func (c *Context) CloseTab(ctx context.Context, tabID int) error {
	if err := c.browser.CloseTab(ctx, tabID); err != nil {
		return err
	}
	c.RemoveAttachedPage(tabID)
	return nil
}

// RemoveAttachedPage drops a tab the context was tracking.
func (c *Context) RemoveAttachedPage(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[tabID]; ok {
		p.Detach()
		delete(c.pages, tabID)
	}
	if c.currentTab == tabID {
		c.currentTab = c.originTab
	}
}

// AttachedTabs lists the tab ids this context tracks.
func (c *Context) AttachedTabs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.pages))
	for id := range c.pages {
		ids = append(ids, id)
	}
	return ids
}

// GetState builds a fresh snapshot of the current page.
func (c *Context) GetState(ctx context.Context, includeScreenshot bool) (*dom.State, error) {
	p, err := c.GetCurrentPage()
	if err != nil {
		return nil, err
	}
	return p.GetState(ctx, includeScreenshot)
}

// Cleanup detaches CDP from all attached pages and releases resources. The
// Browser connector itself is shared and stays up.
func (c *Context) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pages {
		p.Detach()
		delete(c.pages, id)
	}
	c.log.Debug("context cleaned up")
}
