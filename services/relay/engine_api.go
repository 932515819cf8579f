package relay

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/engine-relay/common"
)

// EngineAPI is registered under the engine namespace
type EngineAPI struct {
	relay *Relay
}

func (api *EngineAPI) ForkchoiceUpdatedV3(ctx context.Context, fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (*engine.ForkChoiceResponse, error) {
	return api.relay.ForkchoiceUpdatedV3(ctx, fcs, attrs)
}

func (api *EngineAPI) GetPayloadV3(ctx context.Context, payloadID engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, error) {
	return api.relay.GetPayloadV3(ctx, payloadID)
}

func (api *EngineAPI) NewPayloadV3(ctx context.Context, payload engine.ExecutableData, versionedHashes []ethcommon.Hash, parentBeaconBlockRoot *ethcommon.Hash) (*engine.PayloadStatusV1, error) {
	if versionedHashes == nil {
		return nil, invalidParams(errors.New("nil versionedHashes post-cancun"))
	}
	if parentBeaconBlockRoot == nil {
		return nil, invalidParams(errors.New("nil parentBeaconBlockRoot post-cancun"))
	}
	return api.relay.NewPayloadV3(ctx, &payload, versionedHashes, *parentBeaconBlockRoot)
}

// EthAPI is registered under the eth namespace
type EthAPI struct {
	relay *Relay
}

func (api *EthAPI) SendRawTransaction(ctx context.Context, tx hexutil.Bytes) (ethcommon.Hash, error) {
	return api.relay.SendRawTransaction(ctx, tx)
}

// MinerAPI is registered under the miner namespace
type MinerAPI struct {
	relay *Relay
}

func (api *MinerAPI) SetExtra(ctx context.Context, extra hexutil.Bytes) (bool, error) {
	return api.relay.SetExtra(ctx, extra)
}

func (api *MinerAPI) SetGasPrice(ctx context.Context, gasPrice hexutil.Big) (bool, error) {
	return api.relay.SetGasPrice(ctx, &gasPrice)
}

func (api *MinerAPI) SetGasLimit(ctx context.Context, gasLimit hexutil.Uint64) (bool, error) {
	return api.relay.SetGasLimit(ctx, gasLimit)
}
