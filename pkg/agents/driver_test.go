package agents

import "context"

// nopDriver satisfies actions.BrowserDriver for registry construction in
// tests; navigator tests never execute actions.
type nopDriver struct{}

func (nopDriver) Navigate(context.Context, string) error              { return nil }
func (nopDriver) SearchGoogle(context.Context, string) error          { return nil }
func (nopDriver) Click(context.Context, int) (string, error)          { return "", nil }
func (nopDriver) InputText(context.Context, int, string) error        { return nil }
func (nopDriver) SendKeys(context.Context, string) error              { return nil }
func (nopDriver) Scroll(context.Context, int, bool) error             { return nil }
func (nopDriver) ScrollToText(context.Context, string) error          { return nil }
func (nopDriver) ExtractContent(context.Context, string) (string, error) {
	return "", nil
}
func (nopDriver) GetDropdownOptions(context.Context, int) (string, error) {
	return "", nil
}
func (nopDriver) SelectDropdownOption(context.Context, int, string) error { return nil }
func (nopDriver) SwitchTab(context.Context, int) error                    { return nil }
func (nopDriver) OpenTab(context.Context, string) error                   { return nil }
func (nopDriver) CloseTab(context.Context, int) error                     { return nil }
