package nintendo

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
)

// newTestServer serves handler and returns options pointing every base URL at it.
func newTestServer(t *testing.T, handler http.Handler) ClientOptions {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := NewClientOptions(config.Default())
	opts.HTTPClient = srv.Client()
	opts.Timeout = 2 * time.Second
	opts.AccountsURL = srv.URL
	opts.AccountsAPIURL = srv.URL
	opts.ZncURL = srv.URL
	opts.MoonURL = srv.URL + "/moon"
	opts.SplatNet2URL = srv.URL + "/splatnet2"
	opts.FlapgURL = srv.URL + "/flapg"
	opts.S2SURL = srv.URL + "/s2s"
	return opts
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
