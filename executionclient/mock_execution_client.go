package executionclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/engine-relay/common"
)

// MockPrefix is the first byte of payload ids minted by mocks for the given backend
func MockPrefix(id common.BackendID) byte {
	if id == common.BackendBuilding {
		return 0xb0
	}
	return 0xc0
}

// MockExecutionClient is an in-process IExecutionClient with programmable responses
type MockExecutionClient struct {
	mu      sync.Mutex
	id      common.BackendID
	builder *mockPayloadBuilder

	MockForkchoiceStatus string
	MockForkchoiceErr    error
	DisableBuild         bool // respond to forkchoiceUpdated without a payload id
	MockGetPayloadErr    error
	MockPayloadStatus    *engine.PayloadStatusV1
	MockNewPayloadErr    error
	MockForwardErr       error

	ResponseDelay time.Duration

	calls               map[string]int
	requestedPayloadIDs []engine.PayloadID
}

func NewMockExecutionClient(id common.BackendID) *MockExecutionClient {
	return &MockExecutionClient{
		id:                   id,
		builder:              newMockPayloadBuilder(MockPrefix(id)),
		MockForkchoiceStatus: engine.VALID,
		MockPayloadStatus:    &engine.PayloadStatusV1{Status: engine.VALID},
		calls:                make(map[string]int),
	}
}

func (c *MockExecutionClient) ID() common.BackendID {
	return c.id
}

// GetCallCount returns the number of requests made for a method
func (c *MockExecutionClient) GetCallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// RequestedPayloadIDs returns the payload ids passed to GetPayloadV3, in order
func (c *MockExecutionClient) RequestedPayloadIDs() []engine.PayloadID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.PayloadID{}, c.requestedPayloadIDs...)
}

// Payload returns the payload the mock built for id
func (c *MockExecutionClient) Payload(id engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, bool) {
	return c.builder.get(id)
}

func (c *MockExecutionClient) begin(ctx context.Context, method string) error {
	c.mu.Lock()
	c.calls[method]++
	delay := c.ResponseDelay
	c.mu.Unlock()

	if delay == 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", common.ErrTimeout, method)
	}
}

func (c *MockExecutionClient) ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	if err := c.begin(ctx, MethodForkchoiceUpdatedV3); err != nil {
		return nil, err
	}

	c.mu.Lock()
	status, err, disableBuild := c.MockForkchoiceStatus, c.MockForkchoiceErr, c.DisableBuild
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	resp := &engine.ForkChoiceResponse{
		PayloadStatus: engine.PayloadStatusV1{Status: status, LatestValidHash: &fcs.HeadBlockHash},
	}
	if attrs != nil && !disableBuild && status == engine.VALID {
		id := c.builder.build(fcs, attrs)
		resp.PayloadID = &id
	}
	return resp, nil
}

func (c *MockExecutionClient) GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	if err := c.begin(ctx, MethodGetPayloadV3); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requestedPayloadIDs = append(c.requestedPayloadIDs, payloadID)
	err := c.MockGetPayloadErr
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	payload, ok := c.builder.get(payloadID)
	if !ok {
		return nil, &UpstreamError{Method: MethodGetPayloadV3, Code: engine.UnknownPayload.ErrorCode(), Message: engine.UnknownPayload.Error()}
	}
	return payload, nil
}

func (c *MockExecutionClient) NewPayloadV3(ctx context.Context, payload *engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	if err := c.begin(ctx, MethodNewPayloadV3); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MockNewPayloadErr != nil {
		return nil, c.MockNewPayloadErr
	}
	status := *c.MockPayloadStatus
	return &status, nil
}

func (c *MockExecutionClient) SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error) {
	if err := c.begin(ctx, MethodSendRawTransaction); err != nil {
		return ethcommon.Hash{}, err
	}
	if err := c.forwardErr(); err != nil {
		return ethcommon.Hash{}, err
	}
	return crypto.Keccak256Hash(tx), nil
}

func (c *MockExecutionClient) SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error) {
	return c.minerCall(ctx, MethodSetExtra)
}

func (c *MockExecutionClient) SetGasPrice(ctx context.Context, gasPrice *hexutil.Big) (bool, error) {
	return c.minerCall(ctx, MethodSetGasPrice)
}

func (c *MockExecutionClient) SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error) {
	return c.minerCall(ctx, MethodSetGasLimit)
}

func (c *MockExecutionClient) minerCall(ctx context.Context, method string) (bool, error) {
	if err := c.begin(ctx, method); err != nil {
		return false, err
	}
	if err := c.forwardErr(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MockExecutionClient) forwardErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MockForwardErr
}
