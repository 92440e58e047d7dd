package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danieleschmidt/request-sentinel/pkg/types"
)

// Descriptor builds a benign request descriptor with overridable fields.
func Descriptor(ip, endpoint string) types.RequestDescriptor {
	return types.RequestDescriptor{
		RequestID: fmt.Sprintf("req-%d", time.Now().UnixNano()),
		IP:        ip,
		Endpoint:  endpoint,
		Method:    "GET",
		UserAgent: "integration-test/1.0",
		Timestamp: time.Now().UTC(),
	}
}

// Rule builds an enabled rate limit rule counting per IP.
func Rule(name, endpoint string, max int64, window time.Duration) types.RateLimitRule {
	return types.RateLimitRule{
		Name:          name,
		Endpoint:      endpoint,
		Identifier:    types.IdentifierIP,
		MaxRequests:   max,
		Window:        window,
		BlockDuration: 5 * time.Minute,
		Enabled:       true,
		Priority:      100,
	}
}

// DoJSON performs one request against the router and decodes the body.
func DoJSON(t *testing.T, env *Env, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.RemoteAddr = "192.0.2.1:51234"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	decoded := make(map[string]interface{})
	if w.Body.Len() > 0 {
		// Some endpoints return arrays; those tests decode on their own.
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}
