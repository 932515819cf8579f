package common

import (
	"math/big"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// TestLog is used to log information in the test methods
var TestLog = logrus.WithField("testing", true)

// TestForkchoiceState returns a forkchoice state with the given head
func TestForkchoiceState(head string) engine.ForkchoiceStateV1 {
	return engine.ForkchoiceStateV1{
		HeadBlockHash:      ethcommon.HexToHash(head),
		SafeBlockHash:      ethcommon.HexToHash("0x02"),
		FinalizedBlockHash: ethcommon.HexToHash("0x01"),
	}
}

// TestPayloadAttributes returns V3 payload attributes for the given timestamp
func TestPayloadAttributes(timestamp uint64) *PayloadAttributes {
	beaconRoot := ethcommon.HexToHash("0xbeac0")
	gasLimit := hexutil.Uint64(30_000_000)
	return &PayloadAttributes{
		Timestamp:             hexutil.Uint64(timestamp),
		PrevRandao:            ethcommon.HexToHash("0x9962816e9d0a39fd4c80935338a741dc916d1545694e41eb5a505e1a3098f9e4"),
		SuggestedFeeRecipient: ethcommon.HexToAddress("0x0000000000000000000000000000000000000001"),
		Withdrawals: []*types.Withdrawal{
			{Index: 5, Validator: 10, Address: ethcommon.HexToAddress("0x02"), Amount: 15640},
		},
		ParentBeaconBlockRoot: &beaconRoot,
		NoTxPool:              true,
		GasLimit:              &gasLimit,
	}
}

// TestExecutableData returns a minimal payload with the given block hash
func TestExecutableData(blockHash string) *engine.ExecutableData {
	blobGasUsed := uint64(0)
	excessBlobGas := uint64(0)
	return &engine.ExecutableData{
		ParentHash:    ethcommon.HexToHash("0xbd3291854dc822b7ec585925cda0e18f06af28fa2886e15f52d52dd4b6f94ed6"),
		FeeRecipient:  ethcommon.HexToAddress("0x01"),
		StateRoot:     ethcommon.HexToHash("0x03"),
		ReceiptsRoot:  ethcommon.HexToHash("0x04"),
		LogsBloom:     make([]byte, 256),
		Random:        ethcommon.HexToHash("0x05"),
		Number:        100,
		GasLimit:      30_000_000,
		GasUsed:       21_000,
		Timestamp:     1700000000,
		ExtraData:     []byte{},
		BaseFeePerGas: big.NewInt(1),
		BlockHash:     ethcommon.HexToHash(blockHash),
		Transactions:  [][]byte{},
		Withdrawals:   []*types.Withdrawal{},
		BlobGasUsed:   &blobGasUsed,
		ExcessBlobGas: &excessBlobGas,
	}
}
