package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagyoureit/luxord/internal/luxor"
)

func fakeController(t *testing.T, name string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ControllerName.json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Status": 0, "StatusStr": "Ok", "Controller": name})
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func notController(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func quiet() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestDiscover_ConfiguredIP(t *testing.T) {
	ip := fakeController(t, "lxzdc1")
	browsed := false

	d := New(Options{
		IP:     ip,
		MDNS:   true,
		Logger: quiet(),
		Browse: func(context.Context) ([]string, error) {
			browsed = true
			return nil, nil
		},
	})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{IP: ip, Name: "lxzdc1", Kind: luxor.KindZDC}, res)
	assert.False(t, browsed)
}

func TestDiscover_FallsBackToBrowse(t *testing.T) {
	bad := notController(t)
	good := fakeController(t, "lxtwo-garden")

	d := New(Options{
		IP:     bad,
		MDNS:   true,
		Logger: quiet(),
		Browse: func(context.Context) ([]string, error) {
			return []string{bad, notController(t), good}, nil
		},
	})

	res, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good, res.IP)
	assert.Equal(t, luxor.KindZDTWO, res.Kind)
}

func TestDiscover_NoController(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"mdns disabled", Options{IP: notController(t)}},
		{"nothing answers", Options{MDNS: true, Browse: func(context.Context) ([]string, error) {
			return []string{notController(t)}, nil
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = quiet()
			_, err := New(tt.opts).Discover(context.Background())
			assert.ErrorIs(t, err, ErrNoController)
		})
	}
}

func TestDiscover_BrowseError(t *testing.T) {
	boom := errors.New("multicast unavailable")
	d := New(Options{
		MDNS:   true,
		Logger: quiet(),
		Browse: func(context.Context) ([]string, error) { return nil, boom },
	})

	_, err := d.Discover(context.Background())
	assert.ErrorIs(t, err, boom)
}
