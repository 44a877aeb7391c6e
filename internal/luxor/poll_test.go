package luxor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RunPollsUntilCancelled(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 0}))
	f.reply("ThemeListGet", ok(nil))
	f.reply("ColorListGet", ok(nil))
	env := newTestClient(t, KindZDC, f, func(o *Options) {
		o.RefreshDelay = 5 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
		o.CacheTTL = time.Millisecond
		o.Now = time.Now
	})

	ctx, cancel := context.WithCancel(env.ctx)
	done := make(chan error, 1)
	go func() { done <- env.client.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.count("GroupListGet") >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_RunSurvivesPollErrors(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 0}))
	env := newTestClient(t, KindZDC, f, func(o *Options) {
		o.RefreshDelay = 5 * time.Millisecond
		o.PollInterval = 10 * time.Millisecond
		o.CacheTTL = time.Millisecond
		o.Now = time.Now
	})
	f.handle("ThemeListGet", func(w http.ResponseWriter, _ map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	go env.client.Run(ctx)

	assert.Eventually(t, func() bool { return f.count("ThemeListGet") >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, env.logs.String(), "Poll failed")
}

func TestClient_MutationSchedulesRefresh(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 0}))
	f.reply("ThemeListGet", ok(nil))
	f.reply("ColorListGet", ok(nil))
	f.reply("IlluminateGroup", ok(nil))
	env := newTestClient(t, KindZDC, f, func(o *Options) {
		o.RefreshDelay = 5 * time.Millisecond
		o.PollInterval = time.Hour
	})

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	go env.client.Run(ctx)

	require.Eventually(t, func() bool { return f.count("GroupListGet") == 1 }, time.Second, 5*time.Millisecond)

	_, err := env.client.IlluminateGroup(env.ctx, 1, 60)
	require.NoError(t, err)

	// the forced refresh bypasses the still-fresh cache
	assert.Eventually(t, func() bool { return f.count("GroupListGet") == 2 }, time.Second, 5*time.Millisecond)
}

func TestClient_OwnedQueue(t *testing.T) {
	f := newFakeController(t)
	f.reply("IlluminateAll", ok(nil))

	c := New(KindZD, Options{IP: f.ip(), RefreshDelay: time.Hour, PollInterval: time.Hour, Logger: loggerPtr(testLogger())})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	res, err := c.IlluminateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.NoError(t, c.Close())
}
