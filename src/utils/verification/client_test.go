package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vianetwork/btcwatch/src/utils/config"

	"github.com/stretchr/testify/require"
)

func newServer(status int, response *Response) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if response != nil {
			_ = json.NewEncoder(w).Encode(response)
		}
	}))
}

func newClient(url string) *Client {
	config := config.Default()
	config.Verifier.ProverUrl = url
	return NewClient(config)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	req := &Request{BatchNumber: 1, Proof: []byte{1}}

	server := newServer(http.StatusOK, &Response{Valid: true})
	defer server.Close()
	valid, err := newClient(server.URL).Verify(ctx, req)
	require.NoError(t, err)
	require.True(t, valid)

	invalid := newServer(http.StatusOK, &Response{Valid: false, Reason: "bad proof"})
	defer invalid.Close()
	valid, err = newClient(invalid.URL).Verify(ctx, req)
	require.NoError(t, err)
	require.False(t, valid)

	malformed := newServer(http.StatusUnprocessableEntity, &Response{Reason: "can't parse"})
	defer malformed.Close()
	valid, err = newClient(malformed.URL).Verify(ctx, req)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestVerifyUnreachable(t *testing.T) {
	ctx := context.Background()
	req := &Request{BatchNumber: 1}

	failing := newServer(http.StatusInternalServerError, nil)
	defer failing.Close()
	_, err := newClient(failing.URL).Verify(ctx, req)
	require.ErrorIs(t, err, ErrUnreachable)

	closed := newServer(http.StatusOK, &Response{Valid: true})
	closed.Close()
	_, err = newClient(closed.URL).Verify(ctx, req)
	require.ErrorIs(t, err, ErrUnreachable)
}
