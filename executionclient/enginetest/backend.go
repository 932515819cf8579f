// Package enginetest runs execution backends over real HTTP for tests of engine API clients.
package enginetest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/executionclient"
	"go.uber.org/atomic"
)

// Backend serves the engine, eth and miner namespaces the way an execution client does:
// engine_* on a JWT protected auth endpoint, eth_* and miner_* on a plain endpoint.
// Behaviour is programmed through the embedded MockExecutionClient.
type Backend struct {
	*executionclient.MockExecutionClient

	secret common.JWTSecret

	HTTPServer *httptest.Server
	AuthServer *httptest.Server

	mu             sync.Mutex
	lastAuthHeader http.Header

	rejectedRequests *atomic.Int64
}

func NewBackend(id common.BackendID, secret common.JWTSecret) *Backend {
	b := &Backend{
		MockExecutionClient: executionclient.NewMockExecutionClient(id),
		secret:              secret,
		rejectedRequests:    atomic.NewInt64(0),
	}

	plain := rpc.NewServer()
	mustRegister(plain, "eth", &ethService{b.MockExecutionClient})
	mustRegister(plain, "miner", &minerService{b.MockExecutionClient})

	auth := rpc.NewServer()
	mustRegister(auth, "engine", &engineService{b.MockExecutionClient})
	mustRegister(auth, "eth", &ethService{b.MockExecutionClient})

	b.HTTPServer = httptest.NewServer(plain)
	b.AuthServer = httptest.NewServer(b.authenticate(auth))
	return b
}

func mustRegister(server *rpc.Server, namespace string, service interface{}) {
	if err := server.RegisterName(namespace, service); err != nil {
		panic(err)
	}
}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.lastAuthHeader = r.Header.Clone()
		b.mu.Unlock()

		if err := executionclient.ValidateJWTRequest(b.secret, r); err != nil {
			b.rejectedRequests.Inc()
			http.Error(w, "invalid JWT token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Config returns a client config pointing at this backend
func (b *Backend) Config(secret common.JWTSecret, timeout time.Duration) executionclient.Config {
	httpEndpoint, err := common.NewEndpoint(b.HTTPServer.URL)
	if err != nil {
		panic(err)
	}
	authEndpoint, err := common.NewEndpoint(b.AuthServer.URL)
	if err != nil {
		panic(err)
	}
	return executionclient.Config{
		ID:        b.ID(),
		HTTP:      httpEndpoint,
		Auth:      authEndpoint,
		JWTSecret: secret,
		Timeout:   timeout,
	}
}

// LastAuthHeader returns the headers of the latest request received on the auth endpoint
func (b *Backend) LastAuthHeader() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuthHeader
}

// RejectedRequests returns the number of requests that failed JWT validation
func (b *Backend) RejectedRequests() int64 {
	return b.rejectedRequests.Load()
}

func (b *Backend) Close() {
	b.HTTPServer.CloseClientConnections()
	b.AuthServer.CloseClientConnections()
	b.HTTPServer.Close()
	b.AuthServer.Close()
}

// rpcError carries an error code through the rpc server
type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string  { return e.message }
func (e *rpcError) ErrorCode() int { return e.code }

func toRPCError(err error) error {
	var upstream *executionclient.UpstreamError
	if errors.As(err, &upstream) {
		return &rpcError{code: upstream.Code, message: upstream.Message}
	}
	return err
}

type engineService struct {
	client *executionclient.MockExecutionClient
}

func (s *engineService) ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	resp, err := s.client.ForkchoiceUpdatedV3(ctx, fcs, attrs)
	return resp, toRPCError(err)
}

func (s *engineService) GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	resp, err := s.client.GetPayloadV3(ctx, payloadID)
	return resp, toRPCError(err)
}

func (s *engineService) NewPayloadV3(ctx context.Context, payload engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot *ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	var root ethcommon.Hash
	if parentBeaconBlockRoot != nil {
		root = *parentBeaconBlockRoot
	}
	resp, err := s.client.NewPayloadV3(ctx, &payload, versionedHashes, root)
	return resp, toRPCError(err)
}

type ethService struct {
	client *executionclient.MockExecutionClient
}

func (s *ethService) SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error) {
	hash, err := s.client.SendRawTransaction(ctx, tx)
	return hash, toRPCError(err)
}

type minerService struct {
	client *executionclient.MockExecutionClient
}

func (s *minerService) SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error) {
	ok, err := s.client.SetExtra(ctx, extra)
	return ok, toRPCError(err)
}

func (s *minerService) SetGasPrice(ctx context.Context, gasPrice hexutil.Big) (bool, error) {
	ok, err := s.client.SetGasPrice(ctx, &gasPrice)
	return ok, toRPCError(err)
}

func (s *minerService) SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error) {
	ok, err := s.client.SetGasLimit(ctx, gasLimit)
	return ok, toRPCError(err)
}
