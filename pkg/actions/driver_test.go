package actions

import (
	"context"
	"fmt"
)

// fakeDriver records calls for assertions. Shared by tests in this package.
type fakeDriver struct {
	calls        []string
	failNavigate error
}

func (d *fakeDriver) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	if d.failNavigate != nil {
		return d.failNavigate
	}
	d.record("navigate:%s", url)
	return nil
}

func (d *fakeDriver) SearchGoogle(_ context.Context, query string) error {
	d.record("search:%s", query)
	return nil
}

func (d *fakeDriver) Click(_ context.Context, index int) (string, error) {
	d.record("click:%d", index)
	return fmt.Sprintf("Clicked element %d", index), nil
}

func (d *fakeDriver) InputText(_ context.Context, index int, text string) error {
	d.record("input:%d:%s", index, text)
	return nil
}

func (d *fakeDriver) SendKeys(_ context.Context, keys string) error {
	d.record("keys:%s", keys)
	return nil
}

func (d *fakeDriver) Scroll(_ context.Context, amount int, down bool) error {
	d.record("scroll:%d:%v", amount, down)
	return nil
}

func (d *fakeDriver) ScrollToText(_ context.Context, text string) error {
	d.record("scrolltext:%s", text)
	return nil
}

func (d *fakeDriver) ExtractContent(_ context.Context, goal string) (string, error) {
	d.record("extract:%s", goal)
	return "extracted", nil
}

func (d *fakeDriver) GetDropdownOptions(_ context.Context, index int) (string, error) {
	d.record("options:%d", index)
	return "0: a\n1: b", nil
}

func (d *fakeDriver) SelectDropdownOption(_ context.Context, index int, value string) error {
	d.record("select:%d:%s", index, value)
	return nil
}

func (d *fakeDriver) SwitchTab(_ context.Context, tabIndex int) error {
	d.record("switchtab:%d", tabIndex)
	return nil
}

func (d *fakeDriver) OpenTab(_ context.Context, url string) error {
	d.record("opentab:%s", url)
	return nil
}

func (d *fakeDriver) CloseTab(_ context.Context, tabIndex int) error {
	d.record("closetab:%d", tabIndex)
	return nil
}
