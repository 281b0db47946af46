package nintendo

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/internal/domain"
)

func TestSplatNet2Client_Schedules(t *testing.T) {
	var gameToken, lang, session string
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/splatnet2/":
			gameToken = r.Header.Get("X-GameWebToken")
			lang = r.URL.Query().Get("lang")
			http.SetCookie(w, &http.Cookie{Name: "iksm_session", Value: "iksm-1", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case "/splatnet2" + splatnet2SchedulesPath:
			if c, err := r.Cookie("iksm_session"); err == nil {
				session = c.Value
			}
			writeJSON(w, http.StatusOK, `{"regular":[],"gachi":[],"league":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))

	client := NewSplatNet2Client(opts, "game-token")
	require.NoError(t, client.Authenticate(context.Background()))
	assert.Equal(t, "iksm-1", client.Session())

	schedules, err := client.Schedules(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"regular":[],"gachi":[],"league":[]}`, string(schedules))
	assert.Equal(t, "game-token", gameToken)
	assert.Equal(t, opts.Language, lang)
	assert.Equal(t, "iksm-1", session)
}

func TestSplatNet2Client_NoSessionCookie(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	client := NewSplatNet2Client(opts, "game-token")
	assert.ErrorIs(t, client.Authenticate(context.Background()), ErrNoGameSession)

	_, err := client.Schedules(context.Background())
	assert.ErrorIs(t, err, ErrNoGameSession)
}

func TestSplatNet2Client_RejectedToken(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := NewSplatNet2Client(opts, "expired").Authenticate(context.Background())
	assert.NotErrorIs(t, err, domain.ErrCredentialRejected)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusForbidden, upErr.Status)
}
