package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/model"
)

func testConfig() config.RoutingConfig {
	return config.RoutingConfig{
		Routes: map[string]config.Route{
			"billing": {QueueURL: "q://billing", Enabled: true, Aliases: []string{"invoices"}},
			"support": {QueueURL: "q://support", Enabled: true},
			"legacy":  {QueueURL: "q://legacy", Enabled: false},
		},
		DefaultQueueURL: "q://default",
	}
}

func email(to ...string) *model.Email {
	addrs := make([]model.EmailAddress, len(to))
	for i, a := range to {
		addrs[i] = model.EmailAddress{Address: a}
	}
	return &model.Email{To: addrs}
}

func TestExtractAppName(t *testing.T) {
	tests := []struct {
		address string
		want    string
		ok      bool
	}{
		{"_billing@acme.com", "billing", true},
		{"_a@d.com", "a", true},
		{"billing@acme.com", "", false},
		{"_@acme.com", "", false},
		{"no-at-sign", "", false},
		{"@acme.com", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractAppName(tt.address)
		assert.Equal(t, tt.ok, ok, "address %s", tt.address)
		assert.Equal(t, tt.want, got, "address %s", tt.address)
	}
}

func TestResolveExactMatch(t *testing.T) {
	r := NewResolver(testConfig())
	dests, err := r.Resolve(email("_billing@acme.com"))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, "billing", dests[0].App)
	assert.Equal(t, "q://billing", dests[0].QueueURL)
	assert.Equal(t, "acme.com", dests[0].Domain)
}

func TestResolveAlias(t *testing.T) {
	r := NewResolver(testConfig())
	dests, err := r.Resolve(email("_invoices@acme.com"))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, "billing", dests[0].App)
	assert.Equal(t, "q://billing", dests[0].QueueURL)
}

func TestResolveDisabledRouteFallsToDefault(t *testing.T) {
	r := NewResolver(testConfig())
	dests, err := r.Resolve(email("_legacy@acme.com"))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, DefaultApp, dests[0].App)
	assert.Equal(t, "q://default", dests[0].QueueURL)
}

func TestResolveFanout(t *testing.T) {
	r := NewResolver(testConfig())
	e := email("_billing@d.com", "_support@d.com")
	dests, err := r.Resolve(e)
	require.NoError(t, err)
	require.Len(t, dests, 2)

	// One envelope per route, each with a distinct app
	apps := map[string]bool{}
	for _, d := range dests {
		apps[d.App] = true
	}
	assert.True(t, apps["billing"])
	assert.True(t, apps["support"])
}

func TestResolveDeduplicates(t *testing.T) {
	r := NewResolver(testConfig())
	e := email("_billing@d.com", "_billing@other.com")
	e.Cc = []model.EmailAddress{{Address: "_billing@third.com"}}
	dests, err := r.Resolve(e)
	require.NoError(t, err)
	assert.Len(t, dests, 1)
}

func TestResolveNoRoutableRecipients(t *testing.T) {
	r := NewResolver(testConfig())
	dests, err := r.Resolve(email("plain@acme.com"))
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, DefaultApp, dests[0].App)
	assert.Equal(t, "q://default", dests[0].QueueURL)
	assert.Equal(t, "acme.com", dests[0].Domain)
}

func TestResolveNoDefaultErrors(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultQueueURL = ""
	r := NewResolver(cfg)

	_, err := r.Resolve(email("plain@acme.com"))
	assert.Error(t, err)

	_, err = r.Resolve(email("_unknown@acme.com"))
	assert.Error(t, err)
}

func TestResolvePurity(t *testing.T) {
	r := NewResolver(testConfig())
	e := email("_billing@d.com", "_support@d.com", "plain@d.com")
	first, err := r.Resolve(e)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(e)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveAlwaysReturnsDestination(t *testing.T) {
	// With a default queue configured, every email resolves somewhere
	r := NewResolver(testConfig())
	emails := []*model.Email{
		email(),
		email("x@y.com"),
		email("_nonexistent@y.com"),
		email("_billing@y.com", "plain@y.com"),
	}
	for _, e := range emails {
		dests, err := r.Resolve(e)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(dests), 1)
	}
}
