package relay

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/flashbots/engine-relay/common"
)

// NewJobID derives the identity of a build job from the forkchoice state and the payload
// attributes. Equal inputs always give the same JobID.
func NewJobID(fcs engine.ForkchoiceStateV1, attrs *common.PayloadAttributes) (common.JobID, error) {
	if attrs == nil {
		return common.JobID{}, fmt.Errorf("%w: missing payload attributes", engine.InvalidPayloadAttributes)
	}

	h := sha256.New()
	h.Write(fcs.HeadBlockHash[:])
	h.Write(fcs.SafeBlockHash[:])
	h.Write(fcs.FinalizedBlockHash[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(attrs.Timestamp))
	h.Write(buf[:])
	h.Write(attrs.PrevRandao[:])
	h.Write(attrs.SuggestedFeeRecipient[:])

	withdrawals, err := rlp.EncodeToBytes(attrs.Withdrawals)
	if err != nil {
		return common.JobID{}, fmt.Errorf("failed to encode withdrawals: %w", err)
	}
	h.Write(withdrawals)

	if attrs.ParentBeaconBlockRoot != nil {
		h.Write([]byte{1})
		h.Write(attrs.ParentBeaconBlockRoot[:])
	} else {
		h.Write([]byte{0})
	}

	// rollup extension fields only contribute when set
	if attrs.NoTxPool || attrs.Transactions != nil || attrs.GasLimit != nil {
		if attrs.NoTxPool {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		binary.BigEndian.PutUint64(buf[:], uint64(len(attrs.Transactions)))
		h.Write(buf[:])
		for _, tx := range attrs.Transactions {
			h.Write(crypto.Keccak256(tx))
		}
		if attrs.GasLimit != nil {
			h.Write([]byte{1})
			binary.BigEndian.PutUint64(buf[:], uint64(*attrs.GasLimit))
			h.Write(buf[:])
		} else {
			h.Write([]byte{0})
		}
	}

	var job common.JobID
	copy(job[:], h.Sum(nil))
	return job, nil
}
