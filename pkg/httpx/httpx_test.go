package httpx

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Path", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(b)
	})
}

func TestEnginesServeHandler(t *testing.T) {
	for _, engine := range []string{EngineNetHTTP, EngineFastHTTP} {
		t.Run(engine, func(t *testing.T) {
			srv, err := New(engine, echo(), Options{})
			require.NoError(t, err)
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			resp, err := http.Post("http://"+ln.Addr().String()+"/echo", "text/plain", strings.NewReader("ping"))
			require.NoError(t, err)
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			assert.Equal(t, http.StatusAccepted, resp.StatusCode)
			assert.Equal(t, "/echo", resp.Header.Get("X-Path"))
			assert.Equal(t, "ping", string(b))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, srv.Shutdown(ctx))
			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, ErrServerClosed)
			case <-time.After(5 * time.Second):
				t.Fatal("Serve did not return after Shutdown")
			}
		})
	}
}

func TestUnknownEngine(t *testing.T) {
	_, err := New("gopher", echo(), Options{})
	assert.Error(t, err)
}
