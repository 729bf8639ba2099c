package celestia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vianetwork/btcwatch/src/utils/config"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
)

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

type ClientTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	server *httptest.Server
	calls  atomic.Int64
	blobs  map[uint64][]byte
	auth   atomic.String
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	s.calls.Store(0)
	s.blobs = make(map[uint64][]byte)

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Inc()
		s.auth.Store(r.Header.Get("Authorization"))

		var req rpcRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil || req.Method != "blob.Get" || len(req.Params) != 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		height := uint64(req.Params[0].(float64))
		data, ok := s.blobs[height]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": 1, "message": "blob: not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"data": data},
		})
	}))

	s.config = config.Default()
	s.config.Celestia.Url = s.server.URL
	s.config.Celestia.AuthToken = "secret"
	s.config.Celestia.MaxBlobSize = 1024
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

func (s *ClientTestSuite) TestFetchProofIsCached() {
	blob := &ProofBlob{BatchNumber: 7, Proof: []byte("proof"), PublicInputs: []byte("inputs")}
	data, err := blob.Encode()
	require.NoError(s.T(), err)
	s.blobs[10] = data

	client, err := NewClient(s.config)
	require.NoError(s.T(), err)

	for i := 0; i < 2; i++ {
		got, err := client.FetchProof(s.ctx, "10:abcd")
		require.NoError(s.T(), err)
		require.Equal(s.T(), blob, got)
	}
	require.Equal(s.T(), int64(1), s.calls.Load())
	require.Equal(s.T(), "Bearer secret", s.auth.Load())
}

func (s *ClientTestSuite) TestNotFoundIsUnavailable() {
	client, err := NewClient(s.config)
	require.NoError(s.T(), err)

	_, err = client.FetchBlob(s.ctx, "11:abcd")
	require.ErrorIs(s.T(), err, ErrDaUnavailable)
}

func (s *ClientTestSuite) TestBlobTooLarge() {
	s.blobs[12] = make([]byte, 2048)

	client, err := NewClient(s.config)
	require.NoError(s.T(), err)

	_, err = client.FetchBlob(s.ctx, "12:abcd")
	require.ErrorIs(s.T(), err, ErrBlobTooLarge)
}

func (s *ClientTestSuite) TestServerDown() {
	client, err := NewClient(s.config)
	require.NoError(s.T(), err)
	s.server.Close()

	_, err = client.FetchBlob(s.ctx, "13:abcd")
	require.ErrorIs(s.T(), err, ErrDaUnavailable)
}

func (s *ClientTestSuite) TestInvalidBlob() {
	s.blobs[14] = []byte{0xff}

	client, err := NewClient(s.config)
	require.NoError(s.T(), err)

	_, err = client.FetchProof(s.ctx, "14:abcd")
	require.ErrorIs(s.T(), err, ErrInvalidBlob)
}

func (s *ClientTestSuite) TestParseBlobID() {
	id, err := ParseBlobID("42:0xdeadbeef")
	require.NoError(s.T(), err)
	require.Equal(s.T(), uint64(42), id.Height)
	require.Equal(s.T(), "42:deadbeef", id.String())

	for _, bad := range []string{"", "42", "x:abcd", "0:abcd", "42:", "42:zz"} {
		_, err = ParseBlobID(bad)
		require.ErrorIs(s.T(), err, ErrInvalidBlob, bad)
	}
}
