package docker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIProberAgainstFakeDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Api-Version", "1.45")
		switch {
		case r.URL.Path == "/_ping":
			_, _ = w.Write([]byte("OK"))
		case len(r.URL.Path) >= 8 && r.URL.Path[len(r.URL.Path)-8:] == "/version":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"Version":    "27.3.1",
				"ApiVersion": "1.47",
				"Os":         "linux",
				"Arch":       "amd64",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	info, err := APIProber{Host: "tcp://" + srv.Listener.Addr().String()}.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "27.3.1", info.Version)
	assert.Equal(t, "linux", info.OS)
}

func TestAPIProberNoDaemon(t *testing.T) {
	_, err := APIProber{Host: "unix:///nonexistent/docker.sock"}.Probe(context.Background())
	assert.Error(t, err)
}
