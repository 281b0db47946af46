package nintendo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/internal/domain"
)

func TestProxyTransport_HashMethodPerStep(t *testing.T) {
	var bodies []map[string]any
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/znca/f", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		writeJSON(w, http.StatusOK, `{"f":"f-value"}`)
	}))
	base := opts.ZncURL + "/api/znca/"
	transport := NewAttestationTransport(base, opts)

	require.Equal(t, "proxy", transport.Name())
	assert.Equal(t, opts.ZncURL+"/api/znca", transport.ProxyURL())

	for _, step := range []domain.AttestationStep{domain.AttestNSO, domain.AttestAPP} {
		res, err := transport.Attest(context.Background(), domain.AttestationRequest{
			IdentityToken: "id-token",
			Timestamp:     "1700000000",
			RequestID:     "req-" + string(step),
			Step:          step,
		})
		require.NoError(t, err)
		assert.Equal(t, "f-value", res.F)
		assert.Equal(t, "req-"+string(step), res.RequestID)
	}

	require.Len(t, bodies, 2)
	assert.Equal(t, float64(1), bodies[0]["hash_method"])
	assert.Equal(t, float64(2), bodies[1]["hash_method"])
	assert.Equal(t, "id-token", bodies[0]["token"])
	assert.Equal(t, "1700000000", bodies[0]["timestamp"])
	assert.Equal(t, "req-nso", bodies[0]["request_id"])
}

func TestProxyTransport_ErrorPayload(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"unknown_error","error_message":"device busy"}`)
	}))

	_, err := NewProxyTransport(opts.ZncURL, opts).Attest(context.Background(), domain.AttestationRequest{IdentityToken: "t", Step: domain.AttestNSO})
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, domain.StepAttestation, upErr.Step)
	assert.Equal(t, "unknown_error", upErr.Code)
	assert.Equal(t, "device busy", upErr.Message)
	assert.ErrorIs(t, err, domain.ErrAttestationFailed)
}

func TestProxyTransport_EmptyF(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"f":""}`)
	}))

	_, err := NewProxyTransport(opts.ZncURL, opts).Attest(context.Background(), domain.AttestationRequest{IdentityToken: "t", Step: domain.AttestNSO})
	assert.ErrorIs(t, err, domain.ErrAttestationFailed)
}

func TestFlapgTransport_Attest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /s2s", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "id-token", r.PostForm.Get("naIdToken"))
		assert.Equal(t, "1700000000", r.PostForm.Get("timestamp"))
		writeJSON(w, http.StatusOK, `{"hash":"hash-1"}`)
	})
	mux.HandleFunc("GET /flapg", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id-token", r.Header.Get("x-token"))
		assert.Equal(t, "1700000000", r.Header.Get("x-time"))
		assert.Equal(t, "req-1", r.Header.Get("x-guid"))
		assert.Equal(t, "hash-1", r.Header.Get("x-hash"))
		assert.Equal(t, "nso", r.Header.Get("x-iid"))
		writeJSON(w, http.StatusOK, `{"result":{"f":"f-flapg","p1":"a","p2":"b","p3":"c"}}`)
	})
	opts := newTestServer(t, mux)

	transport := NewAttestationTransport("", opts)
	require.Equal(t, "flapg", transport.Name())
	assert.Empty(t, transport.ProxyURL())

	res, err := transport.Attest(context.Background(), domain.AttestationRequest{
		IdentityToken: "id-token",
		Timestamp:     "1700000000",
		RequestID:     "req-1",
		Step:          domain.AttestNSO,
	})
	require.NoError(t, err)
	assert.Equal(t, "f-flapg", res.F)
}

func TestFlapgTransport_HashFailure(t *testing.T) {
	opts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `rate limited`)
	}))

	_, err := NewFlapgTransport(opts).Attest(context.Background(), domain.AttestationRequest{IdentityToken: "t", Step: domain.AttestNSO})
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
	assert.Equal(t, domain.StepAttestation, upErr.Step)
}
