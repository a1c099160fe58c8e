package actions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r, &fakeDriver{})
	return r
}

func TestCall_JSONRoundTrip(t *testing.T) {
	var c Call
	require.NoError(t, json.Unmarshal([]byte(`{"click_element":{"index":3}}`), &c))
	assert.Equal(t, "click_element", c.Name)
	assert.Equal(t, float64(3), c.Args["index"])

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"click_element":{"index":3}}`, string(out))
}

func TestCall_RejectsMultipleKeys(t *testing.T) {
	var c Call
	err := json.Unmarshal([]byte(`{"a":{},"b":{}}`), &c)
	require.Error(t, err)
}

func TestValidate_UnknownAction(t *testing.T) {
	r := testRegistry(t)

	err := r.Validate(Call{Name: "teleport", Args: map[string]any{}})
	require.Error(t, err)
	var inv *InvalidActionError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "teleport", inv.Action)
}

func TestValidate_UnknownParameter(t *testing.T) {
	r := testRegistry(t)

	err := r.Validate(Call{Name: "go_to_url", Args: map[string]any{
		"url":   "https://example.com",
		"force": true,
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "force")
}

func TestValidate_MissingRequired(t *testing.T) {
	r := testRegistry(t)

	err := r.Validate(Call{Name: "input_text", Args: map[string]any{"index": 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text")
}

func TestValidate_TypeAndRange(t *testing.T) {
	r := testRegistry(t)

	// Wrong type
	err := r.Validate(Call{Name: "click_element", Args: map[string]any{"index": "three"}})
	require.Error(t, err)

	// Below minimum
	err = r.Validate(Call{Name: "click_element", Args: map[string]any{"index": -1.0}})
	require.Error(t, err)

	// Above maximum
	err = r.Validate(Call{Name: "wait", Args: map[string]any{"seconds": 31.0}})
	require.Error(t, err)

	// Valid
	err = r.Validate(Call{Name: "wait", Args: map[string]any{"seconds": 5.0}})
	assert.NoError(t, err)
}

func TestExecute_InvalidCallNeverTouchesDriver(t *testing.T) {
	d := &fakeDriver{}
	r := NewRegistry()
	RegisterBuiltins(r, d)

	result, err := r.Execute(context.Background(), Call{Name: "click_element", Args: map[string]any{"index": "x"}})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, d.calls, "driver must not be called for invalid actions")
}

func TestExecute_Dispatch(t *testing.T) {
	d := &fakeDriver{}
	r := NewRegistry()
	RegisterBuiltins(r, d)

	result, err := r.Execute(context.Background(), Call{
		Name: "go_to_url",
		Args: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.ExtractedContent, "example.com")
	assert.Equal(t, []string{"navigate:https://example.com"}, d.calls)
}

func TestExecute_DoneAction(t *testing.T) {
	r := testRegistry(t)

	result, err := r.Execute(context.Background(), Call{
		Name: "done",
		Args: map[string]any{"result": "Opened", "success": true},
	})
	require.NoError(t, err)
	assert.True(t, result.IsDone)
	assert.True(t, result.Success)
	assert.Equal(t, "Opened", result.ExtractedContent)
}

func TestExecute_DriverFailureSurfacesError(t *testing.T) {
	d := &fakeDriver{failNavigate: errors.New("blocked by firewall")}
	r := NewRegistry()
	RegisterBuiltins(r, d)

	result, err := r.Execute(context.Background(), Call{
		Name: "go_to_url",
		Args: map[string]any{"url": "https://example.com"},
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "firewall")
}

func TestToolDefinitions(t *testing.T) {
	r := testRegistry(t)

	defs := r.ToolDefinitions()
	require.NotEmpty(t, defs)

	byName := map[string]bool{}
	for _, d := range defs {
		byName[d.Function.Name] = true
		assert.Equal(t, "function", d.Type)
	}
	for _, want := range []string{
		"go_to_url", "search_google", "click_element", "input_text",
		"send_keys", "scroll_down", "scroll_up", "scroll_to_text",
		"extract_content", "get_dropdown_options", "select_dropdown_option",
		"switch_tab", "open_tab", "close_tab", "wait", "done",
	} {
		assert.True(t, byName[want], "missing tool definition for %s", want)
	}
}

func TestNames_Sorted(t *testing.T) {
	r := testRegistry(t)
	names := r.Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}

func TestGoogleSearchURL(t *testing.T) {
	assert.Equal(t, "https://www.google.com/search?q=a+b", GoogleSearchURL("a b"))
}
