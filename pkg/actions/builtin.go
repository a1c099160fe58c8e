package actions

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// BrowserDriver is the surface the builtin actions drive. The executor
// implements it on top of the browser context and the extraction model.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	SearchGoogle(ctx context.Context, query string) error
	Click(ctx context.Context, index int) (string, error)
	InputText(ctx context.Context, index int, text string) error
	SendKeys(ctx context.Context, keys string) error
	Scroll(ctx context.Context, amount int, down bool) error
	ScrollToText(ctx context.Context, text string) error
	ExtractContent(ctx context.Context, goal string) (string, error)
	GetDropdownOptions(ctx context.Context, index int) (string, error)
	SelectDropdownOption(ctx context.Context, index int, value string) error
	SwitchTab(ctx context.Context, tabIndex int) error
	OpenTab(ctx context.Context, url string) error
	CloseTab(ctx context.Context, tabIndex int) error
}

// maxWaitSeconds caps the wait action.
const maxWaitSeconds = 30

func ok(content string) (ActionResult, error) {
	return ActionResult{Success: true, ExtractedContent: content}, nil
}

func fail(err error) (ActionResult, error) {
	return ActionResult{Success: false, Error: err.Error()}, err
}

// RegisterBuiltins installs the standard page-action catalog bound to the
// given driver.
func RegisterBuiltins(r *Registry, d BrowserDriver) {
	must := func(a *Action) {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}

	zero := 0.0
	one := 1.0
	maxWait := float64(maxWaitSeconds)

	must(&Action{
		Name:        "go_to_url",
		Description: "Navigate the current tab to a URL.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"url": {Type: "string", Description: "Destination URL"},
			},
			Required: []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			u, _ := StringArg(args, "url")
			if err := d.Navigate(ctx, u); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Navigated to %s", u))
		},
	})

	must(&Action{
		Name:        "search_google",
		Description: "Search Google for a query in the current tab.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Search query"},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			q, _ := StringArg(args, "query")
			if err := d.SearchGoogle(ctx, q); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Searched for %q", q))
		},
	})

	must(&Action{
		Name:        "click_element",
		Description: "Click an interactive element by its highlight index.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Element highlight index", Minimum: &zero},
			},
			Required: []string{"index"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			index, _ := IntArg(args, "index")
			detail, err := d.Click(ctx, index)
			if err != nil {
				return fail(err)
			}
			return ok(detail)
		},
	})

	must(&Action{
		Name:        "input_text",
		Description: "Clear a field and type text into it by highlight index.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Element highlight index", Minimum: &zero},
				"text":  {Type: "string", Description: "Text to type"},
			},
			Required: []string{"index", "text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			index, _ := IntArg(args, "index")
			text, _ := StringArg(args, "text")
			if err := d.InputText(ctx, index, text); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Typed %q into element %d", text, index))
		},
	})

	must(&Action{
		Name:        "send_keys",
		Description: "Send keyboard input to the focused element. Special keys by name (Enter, Tab, Escape, ArrowDown, ...).",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"keys": {Type: "string", Description: "Keys to send"},
			},
			Required: []string{"keys"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			keys, _ := StringArg(args, "keys")
			if err := d.SendKeys(ctx, keys); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Sent keys %q", keys))
		},
	})

	must(&Action{
		Name:        "scroll_down",
		Description: "Scroll the page down by an optional pixel amount (default one viewport).",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"amount": {Type: "integer", Description: "Pixels to scroll", Minimum: &one},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			amount, _ := IntArg(args, "amount")
			if err := d.Scroll(ctx, amount, true); err != nil {
				return fail(err)
			}
			return ok("Scrolled down")
		},
	})

	must(&Action{
		Name:        "scroll_up",
		Description: "Scroll the page up by an optional pixel amount (default one viewport).",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"amount": {Type: "integer", Description: "Pixels to scroll", Minimum: &one},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			amount, _ := IntArg(args, "amount")
			if err := d.Scroll(ctx, amount, false); err != nil {
				return fail(err)
			}
			return ok("Scrolled up")
		},
	})

	must(&Action{
		Name:        "scroll_to_text",
		Description: "Scroll the first element containing the given text into view.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"text": {Type: "string", Description: "Text to find"},
			},
			Required: []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			text, _ := StringArg(args, "text")
			if err := d.ScrollToText(ctx, text); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Scrolled to %q", text))
		},
	})

	must(&Action{
		Name:        "extract_content",
		Description: "Extract information from the current page matching a goal.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"goal": {Type: "string", Description: "What to extract"},
			},
			Required: []string{"goal"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			goal, _ := StringArg(args, "goal")
			content, err := d.ExtractContent(ctx, goal)
			if err != nil {
				return fail(err)
			}
			return ok(content)
		},
	})

	must(&Action{
		Name:        "get_dropdown_options",
		Description: "List the options of a select element by highlight index.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Element highlight index", Minimum: &zero},
			},
			Required: []string{"index"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			index, _ := IntArg(args, "index")
			options, err := d.GetDropdownOptions(ctx, index)
			if err != nil {
				return fail(err)
			}
			return ok(options)
		},
	})

	must(&Action{
		Name:        "select_dropdown_option",
		Description: "Select an option of a select element by value or visible text.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Element highlight index", Minimum: &zero},
				"value": {Type: "string", Description: "Option value or visible text"},
			},
			Required: []string{"index", "value"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			index, _ := IntArg(args, "index")
			value, _ := StringArg(args, "value")
			if err := d.SelectDropdownOption(ctx, index, value); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Selected %q in element %d", value, index))
		},
	})

	must(&Action{
		Name:        "switch_tab",
		Description: "Switch to another tab by its index in the tab list.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"tab_index": {Type: "integer", Description: "Tab index", Minimum: &zero},
			},
			Required: []string{"tab_index"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			idx, _ := IntArg(args, "tab_index")
			if err := d.SwitchTab(ctx, idx); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Switched to tab %d", idx))
		},
	})

	must(&Action{
		Name:        "open_tab",
		Description: "Open a new tab with a URL.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"url": {Type: "string", Description: "URL for the new tab"},
			},
			Required: []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			u, _ := StringArg(args, "url")
			if err := d.OpenTab(ctx, u); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Opened new tab with %s", u))
		},
	})

	must(&Action{
		Name:        "close_tab",
		Description: "Close a tab by its index in the tab list.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"tab_index": {Type: "integer", Description: "Tab index", Minimum: &zero},
			},
			Required: []string{"tab_index"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			idx, _ := IntArg(args, "tab_index")
			if err := d.CloseTab(ctx, idx); err != nil {
				return fail(err)
			}
			return ok(fmt.Sprintf("Closed tab %d", idx))
		},
	})

	must(&Action{
		Name:        "wait",
		Description: "Wait for a number of seconds (max 30).",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"seconds": {Type: "integer", Description: "Seconds to wait", Minimum: &one, Maximum: &maxWait},
			},
			Required: []string{"seconds"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			secs, _ := IntArg(args, "seconds")
			if secs > maxWaitSeconds {
				secs = maxWaitSeconds
			}
			t := time.NewTimer(time.Duration(secs) * time.Second)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return fail(ctx.Err())
			}
			return ok(fmt.Sprintf("Waited %d seconds", secs))
		},
	})

	must(&Action{
		Name:        "done",
		Description: "Mark the task as complete with a final result.",
		Parameters: &JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"result":  {Type: "string", Description: "Final answer or summary"},
				"success": {Type: "boolean", Description: "Whether the task succeeded"},
			},
			Required: []string{"result", "success"},
		},
		Handler: func(ctx context.Context, args map[string]any) (ActionResult, error) {
			result, _ := StringArg(args, "result")
			success, _ := BoolArg(args, "success")
			return ActionResult{Success: success, ExtractedContent: result, IsDone: true}, nil
		},
	})
}

// GoogleSearchURL builds the search URL used by the search_google action.
func GoogleSearchURL(query string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}
