package nintendo

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/internal/domain"
)

func TestMoonClient_Devices(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/moon/v1/users/user-1/devices", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("filter.device.activated.$eq"))
		assert.Equal(t, "Bearer moon-token", r.Header.Get("Authorization"))
		assert.Equal(t, "com.nintendo.znma", r.Header.Get("X-Moon-App-Id"))
		writeJSON(w, http.StatusOK, `{"count":1,"items":[{"deviceId":"dev-1","label":"Living room","device":{"activated":true,"synchronized":true}}]}`)
	}))

	client := NewMoonClient(opts, "moon-token", "user-1")
	assert.Equal(t, "user-1", client.UserID())

	devices, err := client.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices.Items, 1)
	assert.Equal(t, "dev-1", devices.Items[0].DeviceID)
	assert.True(t, devices.Items[0].Device.Activated)
}

func TestMoonClient_Unauthorized(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"errorCode":"invalid_token","title":"Unauthorized","detail":"The access token expired."}`)
	}))

	_, err := NewMoonClient(opts, "expired", "user-1").DailySummaries(context.Background(), "dev-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCredentialRejected)

	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "invalid_token", upErr.Code)
	assert.Equal(t, "The access token expired.", upErr.Message)
}

func TestMoonClient_ServerError(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := NewMoonClient(opts, "t", "user-1").Devices(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCredentialRejected)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
