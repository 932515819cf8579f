// Package executionclient provides an authenticated engine API client for one execution backend
package executionclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/tracing"
	"github.com/sirupsen/logrus"
)

const (
	MethodForkchoiceUpdatedV3 = "engine_forkchoiceUpdatedV3"
	MethodGetPayloadV3        = "engine_getPayloadV3"
	MethodNewPayloadV3        = "engine_newPayloadV3"
	MethodSendRawTransaction  = "eth_sendRawTransaction"
	MethodSetExtra            = "miner_setExtra"
	MethodSetGasPrice         = "miner_setGasPrice"
	MethodSetGasLimit         = "miner_setGasLimit"
)

// IExecutionClient is the interface for a single execution backend
type IExecutionClient interface {
	ID() common.BackendID

	// authenticated engine API
	ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error)
	GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error)
	NewPayloadV3(ctx context.Context, payload *engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot ethcommon.Hash) (*engine.PayloadStatusV1, error)

	// plain JSON-RPC
	SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error)
	SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error)
	SetGasPrice(ctx context.Context, gasPrice *hexutil.Big) (bool, error)
	SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error)
}

// Config holds the endpoints, secret and timeout for one backend
type Config struct {
	ID        common.BackendID
	HTTP      common.Endpoint
	Auth      common.Endpoint
	JWTSecret common.JWTSecret
	Timeout   time.Duration
}

// ExecutionClient talks to one backend over two transports: plain JSON-RPC on the HTTP
// endpoint, and JWT authenticated JSON-RPC on the auth endpoint for engine_* methods.
type ExecutionClient struct {
	log     *logrus.Entry
	id      common.BackendID
	timeout time.Duration

	client     *rpc.Client
	authClient *rpc.Client
}

func NewExecutionClient(log *logrus.Entry, cfg Config) (*ExecutionClient, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: %s: negative timeout %s", common.ErrConstruction, cfg.ID, cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = common.DefaultBackendTimeout
	}
	for _, endpoint := range []common.Endpoint{cfg.HTTP, cfg.Auth} {
		if endpoint.Addr == "" || endpoint.Port == 0 {
			return nil, fmt.Errorf("%w: %s: incomplete endpoint %q", common.ErrConstruction, cfg.ID, endpoint.String())
		}
	}

	auth, err := NewJWTAuth(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", common.ErrConstruction, cfg.ID, err)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	ctx := context.Background()

	client, err := rpc.DialOptions(ctx, cfg.HTTP.URL(), rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: invalid http endpoint: %w", common.ErrConstruction, cfg.ID, err)
	}

	authClient, err := rpc.DialOptions(ctx, cfg.Auth.URL(), rpc.WithHTTPClient(httpClient), rpc.WithHTTPAuth(auth))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: invalid auth endpoint: %w", common.ErrConstruction, cfg.ID, err)
	}

	return &ExecutionClient{
		log: log.WithFields(logrus.Fields{
			"component": "executionClient",
			"backend":   cfg.ID.String(),
			"httpURI":   cfg.HTTP.URL(),
			"authURI":   cfg.Auth.URL(),
		}),
		id:         cfg.ID,
		timeout:    cfg.Timeout,
		client:     client,
		authClient: authClient,
	}, nil
}

func (c *ExecutionClient) ID() common.BackendID {
	return c.id
}

func (c *ExecutionClient) Timeout() time.Duration {
	return c.timeout
}

func (c *ExecutionClient) Close() {
	c.client.Close()
	c.authClient.Close()
}

// call performs one request bounded by the client timeout, with the trace context of ctx
// added to the outgoing headers. Errors are classified, never retried.
func (c *ExecutionClient) call(ctx context.Context, client *rpc.Client, result interface{}, method string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx = rpc.NewContextWithHeaders(ctx, tracing.Inject(ctx))
	if err := client.CallContext(ctx, result, method, args...); err != nil {
		err = classifyError(method, err)
		c.log.WithField("method", method).WithField("errorKind", common.ErrorKind(err)).Debug("backend call failed")
		return err
	}
	return nil
}

func (c *ExecutionClient) ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	resp := new(engine.ForkChoiceResponse)
	if err := c.call(ctx, c.authClient, resp, MethodForkchoiceUpdatedV3, fcs, attrs); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ExecutionClient) GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	resp := new(common.ExecutionPayloadEnvelopeV3)
	if err := c.call(ctx, c.authClient, resp, MethodGetPayloadV3, payloadID); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ExecutionClient) NewPayloadV3(ctx context.Context, payload *engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	if versionedHashes == nil {
		versionedHashes = []ethcommon.Hash{}
	}
	resp := new(engine.PayloadStatusV1)
	if err := c.call(ctx, c.authClient, resp, MethodNewPayloadV3, payload, versionedHashes, parentBeaconBlockRoot); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ExecutionClient) SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error) {
	var hash ethcommon.Hash
	err := c.call(ctx, c.client, &hash, MethodSendRawTransaction, tx)
	return hash, err
}

func (c *ExecutionClient) SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error) {
	var ok bool
	err := c.call(ctx, c.client, &ok, MethodSetExtra, extra)
	return ok, err
}

func (c *ExecutionClient) SetGasPrice(ctx context.Context, gasPrice *hexutil.Big) (bool, error) {
	var ok bool
	err := c.call(ctx, c.client, &ok, MethodSetGasPrice, gasPrice)
	return ok, err
}

func (c *ExecutionClient) SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error) {
	var ok bool
	err := c.call(ctx, c.client, &ok, MethodSetGasLimit, gasLimit)
	return ok, err
}
