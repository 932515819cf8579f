// Package relay implements the engine API relay: it fans engine calls out to the building and
// the canonical execution backend, correlates their payload ids, and answers with the
// canonical backend's verdict.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/datastore"
	"github.com/flashbots/engine-relay/executionclient"
	"github.com/flashbots/engine-relay/metrics"
	"github.com/flashbots/engine-relay/tracing"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventNewPayloadDivergence = "new_payload_divergence"

	maxGasPriceBits = 128
)

// PayloadIDPolicy selects which backend's payload id is handed to the driver when both
// backends accepted a build job
type PayloadIDPolicy int

const (
	PolicyCanonicalFirst PayloadIDPolicy = iota
	PolicyBuilderFirst
)

func (p PayloadIDPolicy) String() string {
	switch p {
	case PolicyCanonicalFirst:
		return "canonical-first"
	case PolicyBuilderFirst:
		return "builder-first"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

func ParsePayloadIDPolicy(s string) (PayloadIDPolicy, error) {
	switch s {
	case "", "canonical-first":
		return PolicyCanonicalFirst, nil
	case "builder-first":
		return PolicyBuilderFirst, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// preferred returns the backend whose payload id is handed out first
func (p PayloadIDPolicy) preferred() common.BackendID {
	if p == PolicyBuilderFirst {
		return common.BackendBuilding
	}
	return common.BackendCanonical
}

// RelayOpts contains the options for a relay
type RelayOpts struct {
	Log *logrus.Entry

	Builder   executionclient.IExecutionClient
	Canonical executionclient.IExecutionClient
	Store     *datastore.PayloadStore

	PayloadIDPolicy PayloadIDPolicy
}

// Relay dispatches engine API calls to both backends. The canonical backend is authoritative,
// the building backend advisory.
type Relay struct {
	opts RelayOpts
	log  *logrus.Entry

	builder   executionclient.IExecutionClient
	canonical executionclient.IExecutionClient
	store     *datastore.PayloadStore
}

func NewRelay(opts RelayOpts) (*Relay, error) {
	if opts.Log == nil {
		return nil, ErrMissingLogOpt
	}
	if opts.Builder == nil {
		return nil, ErrMissingBuilderOpt
	}
	if opts.Canonical == nil {
		return nil, ErrMissingCanonicalOpt
	}
	if opts.Store == nil {
		return nil, ErrMissingStoreOpt
	}
	if opts.Builder.ID() != common.BackendBuilding || opts.Canonical.ID() != common.BackendCanonical {
		return nil, fmt.Errorf("%w: builder=%s canonical=%s", ErrBackendMismatch, opts.Builder.ID(), opts.Canonical.ID())
	}

	return &Relay{
		opts:      opts,
		log:       opts.Log.WithField("module", "relay"),
		builder:   opts.Builder,
		canonical: opts.Canonical,
		store:     opts.Store,
	}, nil
}

func (r *Relay) client(id common.BackendID) executionclient.IExecutionClient {
	if id == common.BackendBuilding {
		return r.builder
	}
	return r.canonical
}

type backendResult[T any] struct {
	value    T
	err      error
	duration time.Duration
}

// callBackend performs one backend call and records its outcome on the span and in metrics
func callBackend[T any](ctx context.Context, span trace.Span, method string, client executionclient.IExecutionClient, call func(context.Context, executionclient.IExecutionClient) (T, error)) backendResult[T] {
	start := time.Now()
	value, err := call(ctx, client)
	duration := time.Since(start)

	tracing.RecordBackendCall(span, client.ID(), method, duration, err)
	metrics.RecordBackendRequest(ctx, client.ID().String(), method, common.MillisecondsSince(start), err == nil)
	return backendResult[T]{value: value, err: err, duration: duration}
}

// callBoth calls both backends concurrently and waits for both. Results are indexed by BackendID.
func callBoth[T any](ctx context.Context, r *Relay, span trace.Span, method string, call func(context.Context, executionclient.IExecutionClient) (T, error)) [2]backendResult[T] {
	var results [2]backendResult[T]
	var wg sync.WaitGroup
	for _, id := range common.Backends {
		wg.Add(1)
		go func(client executionclient.IExecutionClient) {
			defer wg.Done()
			results[client.ID()] = callBackend(ctx, span, method, client, call)
		}(r.client(id))
	}
	wg.Wait()
	return results
}

func (r *Relay) logBackendError(log *logrus.Entry, backend common.BackendID, err error) {
	log = log.WithFields(logrus.Fields{
		"backend":   backend.String(),
		"errorKind": common.ErrorKind(err),
	}).WithError(err)

	switch {
	case errors.Is(err, common.ErrAuthRejected):
		log.Error("backend rejected authentication, check the JWT secret")
	case common.IsBackendUnavailable(err):
		log.Warn("backend unavailable")
	default:
		log.Info("backend returned an error")
	}
}

func (r *Relay) builderFailed(ctx context.Context, log *logrus.Entry, method string, err error) {
	r.logBackendError(log, common.BackendBuilding, err)
	metrics.IncBuilderFailure(ctx, method, common.ErrorKind(err))
}

// ForkchoiceUpdatedV3 forwards the forkchoice update to both backends. With attributes, the
// payload ids of both backends are recorded under the job's identity, and one of them is
// returned as the external payload id.
func (r *Relay) ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	ctx, span := tracing.StartSpan(ctx, executionclient.MethodForkchoiceUpdatedV3,
		attribute.String("head", fcs.HeadBlockHash.Hex()),
		attribute.Bool("has_attributes", attrs != nil),
	)
	resp, err := r.forkchoiceUpdated(ctx, span, fcs, attrs)
	tracing.EndSpan(span, err)
	return resp, err
}

func (r *Relay) forkchoiceUpdated(ctx context.Context, span trace.Span, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	method := executionclient.MethodForkchoiceUpdatedV3
	log := r.log.WithFields(logrus.Fields{
		"method":        method,
		"head":          fcs.HeadBlockHash.Hex(),
		"hasAttributes": attrs != nil,
	})

	var job common.JobID
	if attrs != nil {
		var err error
		job, err = NewJobID(fcs, attrs)
		if err != nil {
			return nil, invalidParams(err)
		}
		log = log.WithField("jobID", job.String())
		span.SetAttributes(attribute.String("job_id", job.String()))
	}

	results := callBoth(ctx, r, span, method, func(ctx context.Context, client executionclient.IExecutionClient) (*engine.ForkChoiceResponse, error) {
		return client.ForkchoiceUpdatedV3(ctx, fcs, attrs)
	})
	builder, canonical := results[common.BackendBuilding], results[common.BackendCanonical]

	if builder.err != nil {
		r.builderFailed(ctx, log, method, builder.err)
	}
	if canonical.err != nil {
		r.logBackendError(log, common.BackendCanonical, canonical.err)
		return nil, toRPCError(canonical.err)
	}

	resp := &engine.ForkChoiceResponse{PayloadStatus: canonical.value.PayloadStatus}
	log = log.WithField("status", resp.PayloadStatus.Status)
	if attrs == nil {
		log.Debug("forkchoice updated")
		return resp, nil
	}
	// a payload id is only handed out on top of a head the canonical backend accepted
	if resp.PayloadStatus.Status != engine.VALID {
		log.Info("canonical backend did not accept the head, build job dropped")
		return resp, nil
	}

	ids := make(map[common.BackendID]engine.PayloadID, 2)
	for _, id := range common.Backends {
		result := results[id]
		if result.err == nil && result.value != nil && result.value.PayloadID != nil {
			ids[id] = *result.value.PayloadID
			r.store.Record(job, id, *result.value.PayloadID)
		}
	}

	external, ok := ids[r.opts.PayloadIDPolicy.preferred()]
	if !ok {
		external, ok = ids[r.opts.PayloadIDPolicy.preferred().Other()]
	}
	if !ok {
		log.Info("no backend accepted the build job")
		return resp, nil
	}

	r.store.SetExternalID(job, external)
	resp.PayloadID = &external
	span.SetAttributes(attribute.String("payload_id", external.String()))
	log.WithFields(logrus.Fields{
		"payloadID":     external.String(),
		"acceptedBy":    len(ids),
		"builderTookMs": builder.duration.Milliseconds(),
	}).Info("build job started")
	return resp, nil
}

// GetPayloadV3 retrieves the payload of the job behind an external payload id, trying the
// building backend first and the canonical backend second. A job can be retrieved once.
func (r *Relay) GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	ctx, span := tracing.StartSpan(ctx, executionclient.MethodGetPayloadV3,
		attribute.String("payload_id", payloadID.String()),
	)
	resp, err := r.getPayload(ctx, span, payloadID)
	tracing.EndSpan(span, err)
	return resp, err
}

func (r *Relay) getPayload(ctx context.Context, span trace.Span, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	method := executionclient.MethodGetPayloadV3
	log := r.log.WithFields(logrus.Fields{
		"method":    method,
		"payloadID": payloadID.String(),
	})

	job, ids, ok := r.store.TakeExternal(payloadID)
	if !ok || len(ids) == 0 {
		log.Info("unknown payload id")
		return nil, toRPCError(fmt.Errorf("%w: %s", common.ErrPayloadNotFound, payloadID))
	}
	log = log.WithField("jobID", job.String())

	var lastErr error
	for _, backend := range common.Backends {
		id, ok := ids[backend]
		if !ok {
			continue
		}

		result := callBackend(ctx, span, method, r.client(backend), func(ctx context.Context, client executionclient.IExecutionClient) (*common.ExecutionPayloadEnvelopeV3, error) {
			return client.GetPayloadV3(ctx, id)
		})
		if result.err != nil {
			if backend == common.BackendBuilding {
				r.builderFailed(ctx, log, method, result.err)
			} else {
				r.logBackendError(log, backend, result.err)
			}
			lastErr = result.err
			continue
		}

		metrics.IncPayloadSource(ctx, backend.String())
		span.SetAttributes(attribute.String("payload_source", backend.String()))
		log.WithFields(logrus.Fields{
			"source":    backend.String(),
			"blockHash": result.value.BlockHash().Hex(),
		}).Info("payload delivered")
		return result.value, nil
	}

	return nil, toRPCError(lastErr)
}

// NewPayloadV3 sends the payload to both backends and returns the canonical verdict. A building
// backend verdict that differs is only reported.
func (r *Relay) NewPayloadV3(ctx context.Context, payload *engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	if payload == nil {
		return nil, invalidParams(errors.New("missing execution payload"))
	}
	ctx, span := tracing.StartSpan(ctx, executionclient.MethodNewPayloadV3,
		attribute.String("block_hash", payload.BlockHash.Hex()),
		attribute.Int64("block_number", int64(payload.Number)),
	)
	resp, err := r.newPayload(ctx, span, payload, versionedHashes, parentBeaconBlockRoot)
	tracing.EndSpan(span, err)
	return resp, err
}

func (r *Relay) newPayload(ctx context.Context, span trace.Span, payload *engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	method := executionclient.MethodNewPayloadV3
	log := r.log.WithFields(logrus.Fields{
		"method":      method,
		"blockHash":   payload.BlockHash.Hex(),
		"blockNumber": payload.Number,
	})

	results := callBoth(ctx, r, span, method, func(ctx context.Context, client executionclient.IExecutionClient) (*engine.PayloadStatusV1, error) {
		return client.NewPayloadV3(ctx, payload, versionedHashes, parentBeaconBlockRoot)
	})
	builder, canonical := results[common.BackendBuilding], results[common.BackendCanonical]

	if builder.err != nil {
		r.builderFailed(ctx, log, method, builder.err)
	}
	if canonical.err != nil {
		r.logBackendError(log, common.BackendCanonical, canonical.err)
		return nil, toRPCError(canonical.err)
	}

	if builder.err == nil && builder.value.Status != canonical.value.Status {
		metrics.IncNewPayloadDivergence(ctx, canonical.value.Status, builder.value.Status)
		span.AddEvent(EventNewPayloadDivergence, trace.WithAttributes(
			attribute.String("canonical_status", canonical.value.Status),
			attribute.String("builder_status", builder.value.Status),
		))
		log.WithFields(logrus.Fields{
			"canonicalStatus": canonical.value.Status,
			"builderStatus":   builder.value.Status,
		}).Warn("backends disagree on payload validity")
	}

	log.WithField("status", canonical.value.Status).Debug("payload validated")
	return canonical.value, nil
}

// forward performs a single-backend call with the same tracing and error mapping as the
// fan-out methods
func forward[T any](ctx context.Context, r *Relay, backend common.BackendID, method string, call func(context.Context, executionclient.IExecutionClient) (T, error)) (T, error) {
	ctx, span := tracing.StartSpan(ctx, method)
	result := callBackend(ctx, span, method, r.client(backend), call)
	if result.err != nil {
		r.logBackendError(r.log.WithField("method", method), backend, result.err)
		result.err = toRPCError(result.err)
	}
	tracing.EndSpan(span, result.err)
	return result.value, result.err
}

// SendRawTransaction forwards a transaction to the canonical backend
func (r *Relay) SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error) {
	return forward(ctx, r, common.BackendCanonical, executionclient.MethodSendRawTransaction, func(ctx context.Context, client executionclient.IExecutionClient) (ethcommon.Hash, error) {
		return client.SendRawTransaction(ctx, tx)
	})
}

func (r *Relay) SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error) {
	return forward(ctx, r, common.BackendBuilding, executionclient.MethodSetExtra, func(ctx context.Context, client executionclient.IExecutionClient) (bool, error) {
		return client.SetExtra(ctx, extra)
	})
}

// SetGasPrice forwards the minimum gas price to the building backend. Prices must fit in 128 bits.
func (r *Relay) SetGasPrice(ctx context.Context, gasPrice *hexutil.Big) (bool, error) {
	if gasPrice == nil {
		return false, invalidParams(errors.New("missing gas price"))
	}
	price, overflow := uint256.FromBig(gasPrice.ToInt())
	if overflow || gasPrice.ToInt().Sign() < 0 || price.BitLen() > maxGasPriceBits {
		return false, invalidParams(ErrGasPriceTooLarge)
	}
	return forward(ctx, r, common.BackendBuilding, executionclient.MethodSetGasPrice, func(ctx context.Context, client executionclient.IExecutionClient) (bool, error) {
		return client.SetGasPrice(ctx, gasPrice)
	})
}

func (r *Relay) SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error) {
	return forward(ctx, r, common.BackendBuilding, executionclient.MethodSetGasLimit, func(ctx context.Context, client executionclient.IExecutionClient) (bool, error) {
		return client.SetGasLimit(ctx, gasLimit)
	})
}
