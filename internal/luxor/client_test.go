package luxor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zdcGroups(groups ...map[string]any) map[string]any {
	list := make([]any, 0, len(groups))
	for _, g := range groups {
		list = append(list, g)
	}
	return ok(map[string]any{"GroupList": list})
}

func TestClient_CacheWindow(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 50, "Name": "Patio"}))
	env := newTestClient(t, KindZDC, f)

	res, err := env.client.GroupListGet(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, 1, f.count("GroupListGet"))

	env.clock.Advance(1999 * time.Millisecond)
	res, err = env.client.GroupListGet(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Len(t, res.Value, 1)
	assert.Equal(t, 1, f.count("GroupListGet"))

	env.clock.Advance(time.Millisecond)
	res, err = env.client.GroupListGet(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, 2, f.count("GroupListGet"))
}

func TestClient_StatusFallback(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 2, "Inten": 10, "Name": "Path"}))
	env := newTestClient(t, KindZDC, f)

	_, err := env.client.GroupListGet(env.ctx)
	require.NoError(t, err)

	f.reply("GroupListGet", map[string]any{"Status": 205})
	env.clock.Advance(5 * time.Second)

	res, err := env.client.GroupListGet(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Stale())
	assert.Equal(t, "Group Number In Use", res.Reason)
	require.Len(t, res.Value, 1)
	assert.Equal(t, "Path", res.Value[0].Name)
	assert.Contains(t, env.logs.String(), "using last known state")
}

func TestClient_TimeoutFallsBack(t *testing.T) {
	f := newFakeController(t)
	f.handle("ThemeListGet", func(w http.ResponseWriter, _ map[string]any) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, ok(nil))
	})
	env := newTestClient(t, KindZDC, f, func(o *Options) { o.Timeout = 20 * time.Millisecond })

	res, err := env.client.ThemeListGet(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Contains(t, res.Reason, "timeout")
}

func TestClient_TransportErrorRejects(t *testing.T) {
	f := newFakeController(t)
	env := newTestClient(t, KindZDC, f)
	f.srv.Close()

	_, err := env.client.GroupListGet(env.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GroupListGet")
	assert.Contains(t, env.logs.String(), "Controller request failed")
}

func TestClient_CancelledRequestIsNotAnError(t *testing.T) {
	f := newFakeController(t)
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.handle("GroupListGet", func(w http.ResponseWriter, _ map[string]any) {
		close(started)
		select {
		case <-release:
		case <-time.After(time.Second):
		}
		writeJSON(w, ok(nil))
	})
	env := newTestClient(t, KindZDC, f)

	ctx, cancel := context.WithCancel(env.ctx)
	go func() {
		<-started
		cancel()
	}()

	_, err := env.client.GroupListGet(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Eventually(t, func() bool {
		return strings.Contains(env.logs.String(), "Controller request cancelled")
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, env.logs.String(), "Controller request failed")
}

func TestClient_RequestsAreSerialized(t *testing.T) {
	f := newFakeController(t)
	f.handle("IlluminateGroup", func(w http.ResponseWriter, _ map[string]any) {
		time.Sleep(10 * time.Millisecond)
		writeJSON(w, ok(nil))
	})
	env := newTestClient(t, KindZD, f)

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := env.client.IlluminateGroup(env.ctx, n, 50)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, f.count("IlluminateGroup"))
	assert.Equal(t, 1, f.maxInFlight())
}

func TestClient_MutationVisibleWithinCacheWindow(t *testing.T) {
	f := newFakeController(t)
	f.reply("ControllerName", ok(map[string]any{"Controller": "lxzdc1"}))
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 50, "Colr": 3, "Name": "Patio"}))
	f.reply("IlluminateGroup", ok(nil))

	name, err := ControllerName(t.Context(), nil, f.ip())
	require.NoError(t, err)
	kind := KindFromName(name, testLogger())
	require.Equal(t, KindZDC, kind)

	env := newTestClient(t, kind, f)

	res, err := env.client.GroupListGet(env.ctx)
	require.NoError(t, err)
	require.Len(t, res.Value, 1)
	assert.Equal(t, Group{
		GroupNumber: 1,
		Name:        "Patio",
		Intensity:   50,
		Color:       3,
		ColorMode:   ColorPalette,
		Type:        TypeZDC,
	}, res.Value[0])

	_, err = env.client.IlluminateGroup(env.ctx, 1, 0)
	require.NoError(t, err)

	env.clock.Advance(500 * time.Millisecond)
	g, err := env.client.GetGroup(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Intensity)
	assert.False(t, g.On())
	assert.Equal(t, 1, f.count("GroupListGet"))

	body := f.lastBody("IlluminateGroup")
	assert.EqualValues(t, 1, body["GroupNumber"])
	assert.EqualValues(t, 0, body["Intensity"])
}

func TestClient_KeyedLookup(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(
		map[string]any{"Grp": 7, "Inten": 10, "Name": "Fountain"},
		map[string]any{"Grp": 3, "Inten": 40, "Name": "Deck"},
	))
	env := newTestClient(t, KindZDC, f)

	g, err := env.client.GetGroup(env.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Deck", g.Name)

	g, err = env.client.GetGroup(env.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Fountain", g.Name)

	_, err = env.client.GetGroup(env.ctx, 1)
	require.ErrorIs(t, err, ErrGroupNotFound)
	assert.Contains(t, err.Error(), "Fountain")
}

func TestClient_GetThemeNotFound(t *testing.T) {
	f := newFakeController(t)
	f.reply("ThemeListGet", ok(map[string]any{"ThemeList": []any{
		map[string]any{"Name": "Party", "ThemeIndex": 4, "OnOff": 1},
	}}))
	env := newTestClient(t, KindZDC, f)

	th, err := env.client.GetTheme(env.ctx, 4)
	require.NoError(t, err)
	assert.True(t, th.OnOff)
	assert.Equal(t, TypeTheme, th.Type)

	_, err = env.client.GetTheme(env.ctx, 9)
	require.ErrorIs(t, err, ErrThemeNotFound)
	assert.Contains(t, err.Error(), "Party")
}

func TestClient_SyntheticThemes(t *testing.T) {
	raw := ok(map[string]any{"ThemeList": []any{
		map[string]any{"Name": "Evening", "ThemeIndex": 0, "OnOff": 0},
		map[string]any{"Name": "Party", "ThemeIndex": 1, "OnOff": 1},
	}})

	t.Run("appended", func(t *testing.T) {
		f := newFakeController(t)
		f.reply("ThemeListGet", raw)
		env := newTestClient(t, KindZDC, f)

		res, err := env.client.ThemeListGet(env.ctx)
		require.NoError(t, err)
		require.Len(t, res.Value, 4)

		synthetic := 0
		for _, th := range res.Value {
			if th.Synthetic {
				synthetic++
				assert.Equal(t, TypeTheme, th.Type)
				assert.Contains(t, []int{ThemeIlluminateAll, ThemeExtinguishAll}, th.ThemeIndex)
			}
		}
		assert.Equal(t, 2, synthetic)

		// the cache answer carries them exactly once as well
		res, err = env.client.ThemeListGet(env.ctx)
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Len(t, res.Value, 4)
	})

	t.Run("suppressed", func(t *testing.T) {
		f := newFakeController(t)
		f.reply("ThemeListGet", raw)
		env := newTestClient(t, KindZDC, f, func(o *Options) { o.NoAllThemes = true })

		res, err := env.client.ThemeListGet(env.ctx)
		require.NoError(t, err)
		assert.Len(t, res.Value, 2)
	})
}

func TestClient_SyntheticThemeIlluminate(t *testing.T) {
	f := newFakeController(t)
	f.reply("IlluminateAll", ok(nil))
	f.reply("ExtinguishAll", ok(nil))
	env := newTestClient(t, KindZDC, f)

	_, err := env.client.IlluminateTheme(env.ctx, ThemeIlluminateAll, true)
	require.NoError(t, err)
	_, err = env.client.IlluminateTheme(env.ctx, ThemeExtinguishAll, true)
	require.NoError(t, err)
	_, err = env.client.IlluminateTheme(env.ctx, ThemeExtinguishAll, false)
	require.NoError(t, err)

	assert.Equal(t, 1, f.count("IlluminateAll"))
	assert.Equal(t, 1, f.count("ExtinguishAll"))
	assert.Equal(t, 0, f.count("IlluminateTheme"))
}

func TestClient_ThemeResetTolerance(t *testing.T) {
	reset := func(w http.ResponseWriter, _ map[string]any) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}

	t.Run("zdtwo treats reset as success", func(t *testing.T) {
		f := newFakeController(t)
		f.handle("IlluminateTheme", reset)
		env := newTestClient(t, KindZDTWO, f)

		res, err := env.client.IlluminateTheme(env.ctx, 2, true)
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
	})

	t.Run("zdc rejects", func(t *testing.T) {
		f := newFakeController(t)
		f.handle("IlluminateTheme", reset)
		env := newTestClient(t, KindZDC, f)

		_, err := env.client.IlluminateTheme(env.ctx, 2, true)
		require.Error(t, err)
	})
}

func TestClient_Validation(t *testing.T) {
	f := newFakeController(t)
	env := newTestClient(t, KindZDC, f)

	tests := []struct {
		name string
		call func() error
	}{
		{"group number zero", func() error {
			_, err := env.client.IlluminateGroup(env.ctx, 0, 10)
			return err
		}},
		{"intensity above max", func() error {
			_, err := env.client.IlluminateGroup(env.ctx, 1, 101)
			return err
		}},
		{"theme index out of range", func() error {
			_, err := env.client.IlluminateTheme(env.ctx, 40, true)
			return err
		}},
		{"palette index on color wheel", func() error {
			_, err := env.client.ColorListSet(env.ctx, 251, 10, 10)
			return err
		}},
		{"hue above max", func() error {
			_, err := env.client.ColorListSet(env.ctx, 1, 361, 10)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.call(), ErrOutOfRange))
		})
	}
	assert.Zero(t, f.count("IlluminateGroup"))
	assert.Zero(t, f.count("IlluminateTheme"))
	assert.Zero(t, f.count("ColorListSet"))
}

func TestClient_GetColorCreatesDefault(t *testing.T) {
	f := newFakeController(t)
	f.reply("ColorListGet", ok(map[string]any{"ColorList": []any{
		map[string]any{"C": 1, "Hue": 120, "Sat": 80},
	}}))
	f.reply("ColorListSet", ok(nil))
	env := newTestClient(t, KindZDC, f)

	col, err := env.client.GetColor(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Color{C: 1, Hue: 120, Sat: 80}, col)
	assert.Zero(t, f.count("ColorListSet"))

	col, err = env.client.GetColor(env.ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, Color{C: 4, Hue: DefaultHue, Sat: DefaultSaturation}, col)

	body := f.lastBody("ColorListSet")
	assert.EqualValues(t, 4, body["C"])
	assert.EqualValues(t, 360, body["Hue"])
	assert.EqualValues(t, 100, body["Sat"])

	// served from the local update, no second create
	col, err = env.client.GetColor(env.ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, DefaultHue, col.Hue)
	assert.Equal(t, 1, f.count("ColorListSet"))
}

func TestClient_GetColorDoesNotCreateFromFallback(t *testing.T) {
	f := newFakeController(t)
	f.reply("ColorListGet", map[string]any{"Status": 201})
	f.reply("ColorListSet", ok(nil))
	env := newTestClient(t, KindZDC, f)

	_, err := env.client.GetColor(env.ctx, 3)
	require.ErrorIs(t, err, ErrColorNotFound)
	assert.Contains(t, err.Error(), StatusText(201))
	assert.Zero(t, f.count("ColorListSet"))

	// once the palette is readable again the entry is found as-is
	f.reply("ColorListGet", ok(map[string]any{"ColorList": []any{
		map[string]any{"C": 3, "Hue": 40, "Sat": 70},
	}}))
	env.clock.Advance(5 * time.Second)

	col, err := env.client.GetColor(env.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Color{C: 3, Hue: 40, Sat: 70}, col)
	assert.Zero(t, f.count("ColorListSet"))
}

func TestClient_GroupListEdit(t *testing.T) {
	f := newFakeController(t)
	f.reply("GroupListGet", zdcGroups(map[string]any{"Grp": 1, "Inten": 50, "Colr": 3, "Name": "Patio"}))
	f.reply("GroupListEdit", ok(nil))
	env := newTestClient(t, KindZDC, f)

	_, err := env.client.GroupListGet(env.ctx)
	require.NoError(t, err)

	_, err = env.client.GroupListEdit(env.ctx, "Terrace", 1, 9)
	require.NoError(t, err)

	g, err := env.client.GetGroup(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Terrace", g.Name)
	assert.Equal(t, 9, g.Color)

	body := f.lastBody("GroupListEdit")
	assert.Equal(t, "Terrace", body["Name"])
	assert.EqualValues(t, 9, body["Color"])
}

func TestControllerName(t *testing.T) {
	f := newFakeController(t)
	f.reply("ControllerName", map[string]any{"Status": 1})

	_, err := ControllerName(t.Context(), nil, f.ip())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown Method")

	f.reply("ControllerName", ok(map[string]any{"Controller": "luxor-zd"}))
	name, err := ControllerName(t.Context(), nil, f.ip())
	require.NoError(t, err)
	assert.Equal(t, "luxor-zd", name)
}
