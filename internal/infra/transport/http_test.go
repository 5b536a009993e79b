package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

func TestBuildBearerRoundTripperPassesThroughWhenNoEnvVarConfigured(t *testing.T) {
	rt, err := buildBearerRoundTripper(&domain.HTTPTransportSpec{URL: "https://upstream.example"})
	require.NoError(t, err)
	require.Equal(t, http.DefaultTransport, rt)
}

func TestBuildBearerRoundTripperFailsWhenEnvVarUnset(t *testing.T) {
	_, err := buildBearerRoundTripper(&domain.HTTPTransportSpec{BearerEnvVar: "GATEWAY_UNSET_TOKEN_VAR"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "GATEWAY_UNSET_TOKEN_VAR")
}

func TestHeaderRoundTripperInjectsBearerToken(t *testing.T) {
	t.Setenv("GATEWAY_TEST_TOKEN", "shh")

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt, err := buildBearerRoundTripper(&domain.HTTPTransportSpec{BearerEnvVar: "GATEWAY_TEST_TOKEN"})
	require.NoError(t, err)

	client := &http.Client{Transport: rt}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "Bearer shh", gotAuth)
}

func TestHeaderRoundTripperOverridesExistingAuthorizationHeader(t *testing.T) {
	rt := &headerRoundTripper{
		base:    http.DefaultTransport,
		headers: http.Header{"Authorization": []string{"Bearer new"}},
	}

	req, err := http.NewRequest(http.MethodGet, "https://upstream.example", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer old")

	seen := make(chan string, 1)
	rt.base = roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		seen <- r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "Bearer new", <-seen)
	require.Equal(t, "Bearer old", req.Header.Get("Authorization"))
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
