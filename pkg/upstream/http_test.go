package upstream_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAccount = model.MonitoredAccount{
	ID:          7,
	UserID:      1,
	Phone:       "13800000000",
	Credentials: model.Credentials{TokenOnline: "tok"},
}

func TestHTTPProvider_QueryFlow(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/7/flow", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"success":true,"data":{"sum":"1024"},"is_cached":true,"query_time":0.4}`))
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL+"/", "bridge-token", time.Second)
	res, err := p.QueryFlow(context.Background(), testAccount)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.IsCached)
	assert.Equal(t, 0.4, res.QueryTime)
	assert.JSONEq(t, `{"sum":"1024"}`, string(res.Data))
	assert.Equal(t, "Bearer bridge-token", gotAuth)
	assert.Equal(t, "13800000000", gotBody["phone"])
	assert.Equal(t, "tok", gotBody["credentials"].(map[string]any)["token_online"])
}

func TestHTTPProvider_QueryFlowProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"code":"999999","message":"token过期"}`))
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL, "", time.Second)
	res, err := p.QueryFlow(context.Background(), testAccount)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "999999", res.Code)
}

func TestHTTPProvider_QueryFlowUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL, "", time.Second)
	res, err := p.QueryFlow(context.Background(), testAccount)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.AuthError)
	assert.Equal(t, "401", res.Code)
}

func TestHTTPProvider_QueryFlowServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL, "", time.Second)
	_, err := p.QueryFlow(context.Background(), testAccount)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPProvider_RefreshAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/7/refresh", r.URL.Path)
		w.Write([]byte(`{"success":true,"credentials":{"token_online":"new","app_id":"app"}}`))
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL, "", time.Second)
	creds, err := p.RefreshAuth(context.Background(), testAccount)
	require.NoError(t, err)
	assert.Equal(t, "new", creds.TokenOnline)
	assert.Equal(t, "app", creds.AppID)
}

func TestHTTPProvider_RefreshAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"password changed"}`))
	}))
	defer server.Close()

	p := upstream.NewHTTPProvider("unicom", server.URL, "", time.Second)
	_, err := p.RefreshAuth(context.Background(), testAccount)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "password changed")
}
