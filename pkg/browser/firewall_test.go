package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirewall_DisabledAllowsEverything(t *testing.T) {
	f := Firewall{Enabled: false, DenyList: []string{"example.com"}}
	assert.True(t, f.Allows("https://example.com"))
	assert.True(t, f.Allows("not a url"))
}

func TestFirewall_DenyList(t *testing.T) {
	f := Firewall{Enabled: true, DenyList: []string{"example.com"}}

	assert.False(t, f.Allows("https://example.com"))
	assert.False(t, f.Allows("https://example.com/path"))
	assert.True(t, f.Allows("https://other.com"))
	// Deny is exact-host unless wildcarded.
	assert.True(t, f.Allows("https://sub.example.com"))
}

func TestFirewall_WildcardHost(t *testing.T) {
	f := Firewall{Enabled: true, DenyList: []string{"*.tracker.net"}}

	assert.False(t, f.Allows("https://ads.tracker.net/pixel"))
	assert.True(t, f.Allows("https://tracker.net"))
}

func TestFirewall_AllowListRestricts(t *testing.T) {
	f := Firewall{Enabled: true, AllowList: []string{"github.com", "*.github.com"}}

	assert.True(t, f.Allows("https://github.com/owner/repo"))
	assert.True(t, f.Allows("https://gist.github.com"))
	assert.False(t, f.Allows("https://gitlab.com"))
}

func TestFirewall_DenyWinsOverAllow(t *testing.T) {
	f := Firewall{
		Enabled:   true,
		AllowList: []string{"github.com"},
		DenyList:  []string{"github.com/secret/*"},
	}

	assert.True(t, f.Allows("https://github.com/public"))
	assert.False(t, f.Allows("https://github.com/secret/repo"))
	assert.False(t, f.Allows("https://github.com/secret"))
}

func TestFirewall_CheckReturnsTypedError(t *testing.T) {
	f := Firewall{Enabled: true, DenyList: []string{"example.com"}}

	err := f.Check("https://example.com")
	require.Error(t, err)
	assert.True(t, IsFirewallError(err))
	assert.Contains(t, err.Error(), "example.com")

	assert.NoError(t, f.Check("https://other.com"))
}

func TestFirewall_InternalPages(t *testing.T) {
	f := Firewall{Enabled: true, AllowList: []string{"example.com"}}
	assert.True(t, f.Allows("about:blank"))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "example.com", normalizeURL("https://example.com/"))
	assert.Equal(t, "example.com/a/b", normalizeURL("https://EXAMPLE.com/a/b?q=1#f"))
	assert.Equal(t, "example.com", normalizeURL("example.com"))
	assert.Equal(t, "example.com", normalizeURL("https://example.com:8080"))
}

func TestContext_UpdateConfig(t *testing.T) {
	c := NewContext(NewBrowser("http://127.0.0.1:9222"), 1, Config{
		DisplayHighlights: true,
	})

	enabled := true
	deny := []string{"example.com"}
	c.UpdateConfig(ConfigPatch{
		FirewallEnabled: &enabled,
		DeniedURLs:      &deny,
	})

	cfg := c.Snapshot()
	assert.True(t, cfg.FirewallEnabled)
	assert.Equal(t, deny, cfg.DeniedURLs)
	// Untouched fields survive the merge.
	assert.True(t, cfg.DisplayHighlights)
}

func TestContext_CurrentTabFallsBackOnRemove(t *testing.T) {
	c := NewContext(NewBrowser("http://127.0.0.1:9222"), 7, Config{})
	assert.Equal(t, 7, c.CurrentTabID())

	c.AdoptTab(9)
	assert.Equal(t, 9, c.CurrentTabID())

	c.RemoveAttachedPage(9)
	assert.Equal(t, 7, c.CurrentTabID())
}
