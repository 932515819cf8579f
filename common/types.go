package common

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// BackendID identifies one of the two execution backends behind the relay
type BackendID int

const (
	BackendBuilding BackendID = iota
	BackendCanonical
)

// Backends lists all backends, building first
var Backends = []BackendID{BackendBuilding, BackendCanonical}

func (b BackendID) String() string {
	switch b {
	case BackendBuilding:
		return "builder"
	case BackendCanonical:
		return "l2"
	default:
		return fmt.Sprintf("unknown(%d)", int(b))
	}
}

// Other returns the opposite backend
func (b BackendID) Other() BackendID {
	if b == BackendBuilding {
		return BackendCanonical
	}
	return BackendBuilding
}

// Endpoint is a scheme://addr:port triple for one transport of a backend
type Endpoint struct {
	Scheme string
	Addr   string
	Port   uint16
}

// NewEndpoint parses "host:port" or "scheme://host:port" into an Endpoint.
// The scheme defaults to http.
func NewEndpoint(s string) (Endpoint, error) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + s)
		if err != nil {
			return Endpoint{}, err
		}
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return Endpoint{Scheme: u.Scheme, Addr: host, Port: uint16(port)}, nil
}

func (e Endpoint) URL() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + e.String()
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(int(e.Port)))
}

// PayloadAttributes are the engine_forkchoiceUpdatedV3 payload attributes, including the
// rollup extension fields (forced transactions, noTxPool, gasLimit). They are forwarded
// to both backends verbatim.
type PayloadAttributes struct {
	Timestamp             hexutil.Uint64      `json:"timestamp"`
	PrevRandao            ethcommon.Hash      `json:"prevRandao"`
	SuggestedFeeRecipient ethcommon.Address   `json:"suggestedFeeRecipient"`
	Withdrawals           []*types.Withdrawal `json:"withdrawals"`
	ParentBeaconBlockRoot *ethcommon.Hash     `json:"parentBeaconBlockRoot"`

	Transactions []hexutil.Bytes `json:"transactions,omitempty"`
	NoTxPool     bool            `json:"noTxPool,omitempty"`
	GasLimit     *hexutil.Uint64 `json:"gasLimit,omitempty"`
}

// ExecutionPayloadEnvelopeV3 is the engine_getPayloadV3 response
type ExecutionPayloadEnvelopeV3 struct {
	ExecutionPayload      *engine.ExecutableData `json:"executionPayload"`
	BlockValue            *hexutil.Big           `json:"blockValue"`
	BlobsBundle           *engine.BlobsBundleV1  `json:"blobsBundle"`
	ShouldOverrideBuilder bool                   `json:"shouldOverrideBuilder"`
	ParentBeaconBlockRoot *ethcommon.Hash        `json:"parentBeaconBlockRoot,omitempty"`
}

// BlockHash returns the payload's block hash, or the zero hash if there is no payload
func (e *ExecutionPayloadEnvelopeV3) BlockHash() ethcommon.Hash {
	if e == nil || e.ExecutionPayload == nil {
		return ethcommon.Hash{}
	}
	return e.ExecutionPayload.BlockHash
}

// JobID identifies one build job: a forkchoice state together with its payload attributes
type JobID [32]byte

func (j JobID) String() string {
	return hexutil.Encode(j[:])
}
