package executor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"webpilot/pkg/actions"
	"webpilot/pkg/browser"
	"webpilot/pkg/dom"
	"webpilot/pkg/llm"
)

// BrowserState aliases the dom snapshot type for executor consumers.
type BrowserState = dom.State

// BrowserSession is everything the executor needs from the browser: the
// action-driver surface plus state extraction.
type BrowserSession interface {
	actions.BrowserDriver
	GetState(ctx context.Context, includeScreenshot bool) (*BrowserState, error)
	IncludeAttributes() []string
}

// Extractor summarizes page text against an extraction goal. Nil disables
// model-backed extraction.
type Extractor func(ctx context.Context, goal, pageText string) (string, error)

// NewExtractor builds an Extractor over a chat client.
func NewExtractor(client *llm.Client) Extractor {
	return func(ctx context.Context, goal, pageText string) (string, error) {
		prompt := fmt.Sprintf(
			"Extract the following information from the web page content below.\n\nGoal: %s\n\nPage content:\n%s",
			goal, pageText)
		return client.SimpleQuery(ctx, prompt)
	}
}

// browserSession drives a browser.Context. It implements BrowserSession.
type browserSession struct {
	bctx    *browser.Context
	extract Extractor
}

// NewBrowserSession wraps a browser context for the executor.
func NewBrowserSession(bctx *browser.Context, extract Extractor) BrowserSession {
	return &browserSession{bctx: bctx, extract: extract}
}

func (s *browserSession) page() (*browser.Page, error) {
	return s.bctx.GetCurrentPage()
}

func (s *browserSession) IncludeAttributes() []string {
	return s.bctx.Snapshot().IncludeAttributes
}

func (s *browserSession) GetState(ctx context.Context, includeScreenshot bool) (*BrowserState, error) {
	return s.bctx.GetState(ctx, includeScreenshot)
}

func (s *browserSession) Navigate(ctx context.Context, url string) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return p.Navigate(ctx, url)
}

func (s *browserSession) SearchGoogle(ctx context.Context, query string) error {
	return s.Navigate(ctx, actions.GoogleSearchURL(query))
}

func (s *browserSession) Click(ctx context.Context, index int) (string, error) {
	p, err := s.page()
	if err != nil {
		return "", err
	}
	newTab, err := p.ClickElement(ctx, index)
	if err != nil {
		return "", err
	}
	if newTab > 0 {
		s.bctx.AdoptTab(newTab)
		return fmt.Sprintf("Clicked element %d, which opened tab %d", index, newTab), nil
	}
	if err := p.WaitForLoad(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Clicked element %d", index), nil
}

func (s *browserSession) InputText(ctx context.Context, index int, text string) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return p.InputText(ctx, index, text)
}

func (s *browserSession) SendKeys(ctx context.Context, keys string) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return p.SendKeys(ctx, keys)
}

func (s *browserSession) Scroll(ctx context.Context, amount int, down bool) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	if amount <= 0 {
		if h, err := p.ViewportHeight(ctx); err == nil && h > 0 {
			amount = h
		} else {
			amount = 720
		}
	}
	if !down {
		amount = -amount
	}
	return p.ScrollBy(ctx, amount)
}

func (s *browserSession) ScrollToText(ctx context.Context, text string) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return p.ScrollToText(ctx, text)
}

func (s *browserSession) ExtractContent(ctx context.Context, goal string) (string, error) {
	p, err := s.page()
	if err != nil {
		return "", err
	}
	htmlSource, err := p.HTML(ctx)
	if err != nil {
		return "", err
	}
	_, text, err := browser.ReduceHTML(htmlSource)
	if err != nil {
		return "", err
	}
	if s.extract != nil && goal != "" {
		return s.extract(ctx, goal, text)
	}
	return text, nil
}

func (s *browserSession) GetDropdownOptions(ctx context.Context, index int) (string, error) {
	p, err := s.page()
	if err != nil {
		return "", err
	}
	options, err := p.GetDropdownOptions(ctx, index)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, o := range options {
		marker := ""
		if o.Selected {
			marker = " (selected)"
		}
		fmt.Fprintf(&sb, "%d: %s [value=%s]%s\n", i, o.Text, o.Value, marker)
	}
	return sb.String(), nil
}

func (s *browserSession) SelectDropdownOption(ctx context.Context, index int, value string) error {
	p, err := s.page()
	if err != nil {
		return err
	}
	return p.SelectDropdownOption(ctx, index, value)
}

func (s *browserSession) SwitchTab(ctx context.Context, tabID int) error {
	_, err := s.bctx.SwitchTab(ctx, tabID)
	return err
}

func (s *browserSession) OpenTab(ctx context.Context, url string) error {
	_, err := s.bctx.OpenTab(ctx, url)
	return err
}

func (s *browserSession) CloseTab(ctx context.Context, tabID int) error {
	return s.bctx.CloseTab(ctx, tabID)
}

// zapError keeps call sites terse.
func zapError(err error) zap.Field { return zap.Error(err) }
