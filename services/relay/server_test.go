package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/datastore"
	"github.com/flashbots/engine-relay/executionclient"
	"github.com/flashbots/engine-relay/executionclient/enginetest"
	"github.com/flashbots/engine-relay/tracing"
	"github.com/stretchr/testify/require"
)

var testSecret = common.JWTSecret{0x42, 0x42}

type testStack struct {
	builder   *enginetest.Backend
	canonical *enginetest.Backend
	store     *datastore.PayloadStore
	server    *httptest.Server
	rpc       *rpc.Client
}

// newTestStack wires real execution clients against two mock backends, and serves the relay
func newTestStack(t *testing.T, timeout time.Duration, metricsEnabled bool) *testStack {
	t.Helper()

	stack := &testStack{
		builder:   enginetest.NewBackend(common.BackendBuilding, testSecret),
		canonical: enginetest.NewBackend(common.BackendCanonical, testSecret),
	}
	t.Cleanup(stack.builder.Close)
	t.Cleanup(stack.canonical.Close)

	builderClient, err := executionclient.NewExecutionClient(common.TestLog, stack.builder.Config(testSecret, timeout))
	require.NoError(t, err)
	t.Cleanup(builderClient.Close)
	canonicalClient, err := executionclient.NewExecutionClient(common.TestLog, stack.canonical.Config(testSecret, timeout))
	require.NoError(t, err)
	t.Cleanup(canonicalClient.Close)

	stack.store, err = datastore.NewPayloadStore(common.DefaultPayloadCacheSize)
	require.NoError(t, err)

	relay, err := NewRelay(RelayOpts{
		Log:       common.TestLog,
		Builder:   builderClient,
		Canonical: canonicalClient,
		Store:     stack.store,
	})
	require.NoError(t, err)

	server, err := NewServer(ServerOpts{Log: common.TestLog, Relay: relay, MetricsEnabled: metricsEnabled})
	require.NoError(t, err)
	stack.server = httptest.NewServer(server.Handler())
	t.Cleanup(stack.server.Close)

	stack.rpc, err = rpc.Dial(stack.server.URL)
	require.NoError(t, err)
	t.Cleanup(stack.rpc.Close)
	return stack
}

func TestEndToEndBuildAndRetrieve(t *testing.T) {
	stack := newTestStack(t, time.Second, false)
	ctx := context.Background()

	var fcu engine.ForkChoiceResponse
	err := stack.rpc.CallContext(ctx, &fcu, executionclient.MethodForkchoiceUpdatedV3, common.TestForkchoiceState("0xaa"), common.TestPayloadAttributes(12))
	require.NoError(t, err)
	require.Equal(t, engine.VALID, fcu.PayloadStatus.Status)
	require.NotNil(t, fcu.PayloadID)
	require.Equal(t, executionclient.MockPrefix(common.BackendCanonical), fcu.PayloadID[0])

	var envelope common.ExecutionPayloadEnvelopeV3
	err = stack.rpc.CallContext(ctx, &envelope, executionclient.MethodGetPayloadV3, fcu.PayloadID)
	require.NoError(t, err)
	require.Equal(t, executionclient.MockBlockHash(executionclient.MockPrefix(common.BackendBuilding), 1), envelope.BlockHash())

	var status engine.PayloadStatusV1
	err = stack.rpc.CallContext(ctx, &status, executionclient.MethodNewPayloadV3, envelope.ExecutionPayload, []ethcommon.Hash{}, *common.TestPayloadAttributes(12).ParentBeaconBlockRoot)
	require.NoError(t, err)
	require.Equal(t, engine.VALID, status.Status)

	require.Equal(t, int64(0), stack.builder.RejectedRequests())
	require.Equal(t, int64(0), stack.canonical.RejectedRequests())
}

// Canonical answers within the timeout without building, the building backend is too slow:
// the call succeeds with the canonical verdict and nothing can be retrieved afterwards.
func TestEndToEndTimeoutScenario(t *testing.T) {
	stack := newTestStack(t, 100*time.Millisecond, false)
	stack.canonical.ResponseDelay = 50 * time.Millisecond
	stack.canonical.DisableBuild = true
	stack.builder.ResponseDelay = 200 * time.Millisecond
	ctx := context.Background()

	start := time.Now()
	var fcu engine.ForkChoiceResponse
	err := stack.rpc.CallContext(ctx, &fcu, executionclient.MethodForkchoiceUpdatedV3, common.TestForkchoiceState("0xaa"), common.TestPayloadAttributes(12))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 190*time.Millisecond)
	require.Equal(t, engine.VALID, fcu.PayloadStatus.Status)
	require.Nil(t, fcu.PayloadID)
	require.Equal(t, 0, stack.store.Len())

	var envelope common.ExecutionPayloadEnvelopeV3
	err = stack.rpc.CallContext(ctx, &envelope, executionclient.MethodGetPayloadV3, engine.PayloadID{0xc0})
	requireRPCErrorCode(t, err, codeUnknownPayload)
}

func TestEndToEndCanonicalTimeout(t *testing.T) {
	stack := newTestStack(t, 100*time.Millisecond, false)
	stack.canonical.ResponseDelay = 200 * time.Millisecond
	ctx := context.Background()

	var fcu engine.ForkChoiceResponse
	err := stack.rpc.CallContext(ctx, &fcu, executionclient.MethodForkchoiceUpdatedV3, common.TestForkchoiceState("0xaa"), common.TestPayloadAttributes(12))
	requireRPCErrorCode(t, err, codeServerError)
	require.NotContains(t, err.Error(), "127.0.0.1")
	require.Equal(t, 0, stack.store.Len())

	var status engine.PayloadStatusV1
	err = stack.rpc.CallContext(ctx, &status, executionclient.MethodNewPayloadV3, common.TestExecutableData("0xbb"), []ethcommon.Hash{}, *common.TestPayloadAttributes(12).ParentBeaconBlockRoot)
	requireRPCErrorCode(t, err, codeServerError)
}

func TestEndToEndUpstreamErrorPassthrough(t *testing.T) {
	stack := newTestStack(t, time.Second, false)
	stack.canonical.MockForkchoiceErr = &executionclient.UpstreamError{Code: -38002, Message: "Invalid forkchoice state"}

	var fcu engine.ForkChoiceResponse
	err := stack.rpc.CallContext(context.Background(), &fcu, executionclient.MethodForkchoiceUpdatedV3, common.TestForkchoiceState("0xaa"), nil)
	requireRPCErrorCode(t, err, -38002)
	require.Equal(t, "Invalid forkchoice state", err.Error())
}

func TestEndToEndTracePropagation(t *testing.T) {
	setupSpanRecorder(t)
	stack := newTestStack(t, time.Second, false)

	ctx, span := tracing.StartSpan(context.Background(), "driver")
	defer span.End()
	ctx = rpc.NewContextWithHeaders(ctx, tracing.Inject(ctx))

	var fcu engine.ForkChoiceResponse
	err := stack.rpc.CallContext(ctx, &fcu, executionclient.MethodForkchoiceUpdatedV3, common.TestForkchoiceState("0xaa"), nil)
	require.NoError(t, err)

	traceID := span.SpanContext().TraceID().String()
	for _, backend := range []*enginetest.Backend{stack.builder, stack.canonical} {
		header := backend.LastAuthHeader()
		require.NotNil(t, header)
		require.Contains(t, header.Get("traceparent"), traceID)
	}
}

func TestEndToEndForwarders(t *testing.T) {
	stack := newTestStack(t, time.Second, false)
	ctx := context.Background()

	tx := hexutil.Bytes{0x02, 0x03}
	var hash ethcommon.Hash
	require.NoError(t, stack.rpc.CallContext(ctx, &hash, executionclient.MethodSendRawTransaction, tx))
	require.Equal(t, crypto.Keccak256Hash(tx), hash)
	require.Equal(t, 1, stack.canonical.GetCallCount(executionclient.MethodSendRawTransaction))

	var ok bool
	require.NoError(t, stack.rpc.CallContext(ctx, &ok, executionclient.MethodSetGasLimit, hexutil.Uint64(30_000_000)))
	require.True(t, ok)
	require.Equal(t, 1, stack.builder.GetCallCount(executionclient.MethodSetGasLimit))

	err := stack.rpc.CallContext(ctx, &ok, executionclient.MethodSetGasPrice, "0x"+strings.Repeat("f", 33))
	requireRPCErrorCode(t, err, codeInvalidParams)
	require.Equal(t, 0, stack.builder.GetCallCount(executionclient.MethodSetGasPrice))
}

func TestServerRoutes(t *testing.T) {
	stack := newTestStack(t, time.Second, false)

	resp, err := http.Get(stack.server.URL + pathHealthz)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(stack.server.URL + pathMetrics)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(stack.server.URL + pathRPC)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerMetricsRoute(t *testing.T) {
	stack := newTestStack(t, time.Second, true)

	resp, err := http.Get(stack.server.URL + pathMetrics)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRPCMethod(t *testing.T) {
	require.Equal(t, "engine_getPayloadV3", rpcMethod([]byte(`{"jsonrpc":"2.0","id":1,"method":"engine_getPayloadV3","params":["0x01"]}`)))
	require.Equal(t, "eth_sendRawTransaction (batch)", rpcMethod([]byte(`[{"jsonrpc":"2.0","id":1,"method":"eth_sendRawTransaction","params":[]}]`)))
	require.Equal(t, "", rpcMethod([]byte(`not json`)))
}
