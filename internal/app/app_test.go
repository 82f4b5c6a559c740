package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbatcher/pkg/api"
	"eventbatcher/pkg/config"
)

const payload = `{"agent":{"id":"007","name":"db-1"}}
{"id":"f1","module":"fim","operation":"create"}
{"file":{"path":"/var/lib/db"}}
{"id":"f2","module":"fim","operation":"delete"}
`

func testConfig(t *testing.T, engine string) config.EffectiveConfigResult {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.Engine = engine
	cfg.Sink.Pebble.Path = filepath.Join(dir, "db")
	cfg.State.Dir = filepath.Join(dir, "state")
	cfg.Batcher.MaxTime = config.Duration(5 * time.Millisecond)
	cfg.Batcher.PollInterval = config.Duration(time.Millisecond)
	cfg.Client.WaitFrequency = config.Duration(time.Millisecond)
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return config.EffectiveConfigResult{Config: cfg}
}

func runApp(t *testing.T, eff config.EffectiveConfigResult) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	a, err := New(eff, "test", "none", "unknown")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a.Listener = ln
	a.Registerer = prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return "http://" + ln.Addr().String(), cancel, errCh
}

func TestAppServesAndDrainsOnShutdown(t *testing.T) {
	for _, engine := range []string{"nethttp", "fasthttp"} {
		t.Run(engine, func(t *testing.T) {
			base, cancel, errCh := runApp(t, testConfig(t, engine))
			defer cancel()

			client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
			resp, err := client.Post(base+"/api/v1/events/stateful", "application/x-ndjson", strings.NewReader(payload))
			require.NoError(t, err)
			var out api.EventsResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Len(t, out.Results, 2)
			assert.Equal(t, 201, out.Results[0].Status)
			assert.Equal(t, 404, out.Results[1].Status)

			resp, err = client.Get(base + "/readyz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			cancel()
			select {
			case err := <-errCh:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		})
	}
}

func TestNewRejectsMissingTLSFiles(t *testing.T) {
	eff := testConfig(t, "nethttp")
	eff.Config.Server.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	eff.Config.Server.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")
	_, err := New(eff, "test", "none", "unknown")
	assert.ErrorContains(t, err, "tls cert file not accessible")
}

func TestNewRedisUnreachable(t *testing.T) {
	eff := testConfig(t, "nethttp")
	eff.Config.Queue.Backend = "redis"
	eff.Config.Queue.Redis.Addr = "127.0.0.1:1"
	_, err := New(eff, "test", "none", "unknown")
	assert.ErrorContains(t, err, "open redis queue")
}
