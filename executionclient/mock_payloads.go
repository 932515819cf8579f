package executionclient

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/engine-relay/common"
)

// mockPayloadBuilder mints payload ids and payloads the way a backend would. The prefix
// byte keeps ids of different mock backends apart.
type mockPayloadBuilder struct {
	mu       sync.Mutex
	prefix   byte
	counter  uint64
	payloads map[engine.PayloadID]*common.ExecutionPayloadEnvelopeV3
}

func newMockPayloadBuilder(prefix byte) *mockPayloadBuilder {
	return &mockPayloadBuilder{
		prefix:   prefix,
		payloads: make(map[engine.PayloadID]*common.ExecutionPayloadEnvelopeV3),
	}
}

func (b *mockPayloadBuilder) build(fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) engine.PayloadID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counter++
	var id engine.PayloadID
	id[0] = b.prefix
	binary.BigEndian.PutUint32(id[4:], uint32(b.counter))

	payload := common.TestExecutableData(MockBlockHash(b.prefix, b.counter).Hex())
	payload.ParentHash = fcs.HeadBlockHash
	payload.Timestamp = uint64(attrs.Timestamp)
	b.payloads[id] = &common.ExecutionPayloadEnvelopeV3{
		ExecutionPayload: payload,
		BlockValue:       (*hexutil.Big)(big.NewInt(int64(b.counter))),
		BlobsBundle:      &engine.BlobsBundleV1{Commitments: []hexutil.Bytes{}, Proofs: []hexutil.Bytes{}, Blobs: []hexutil.Bytes{}},
	}
	return id
}

func (b *mockPayloadBuilder) get(id engine.PayloadID) (*common.ExecutionPayloadEnvelopeV3, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.payloads[id]
	return payload, ok
}

// MockBlockHash is the block hash of the n-th payload built by the mock with the given prefix
func MockBlockHash(prefix byte, n uint64) ethcommon.Hash {
	buf := make([]byte, 9)
	buf[0] = prefix
	binary.BigEndian.PutUint64(buf[1:], n)
	return crypto.Keccak256Hash(buf)
}
