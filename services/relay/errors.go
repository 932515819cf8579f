package relay

import (
	"errors"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/executionclient"
)

var (
	ErrMissingLogOpt       = errors.New("log parameter is nil")
	ErrMissingBuilderOpt   = errors.New("building backend client is nil")
	ErrMissingCanonicalOpt = errors.New("canonical backend client is nil")
	ErrMissingStoreOpt     = errors.New("payload store is nil")
	ErrBackendMismatch     = errors.New("backend client bound to the wrong backend")
	ErrUnknownPolicy       = errors.New("unknown payload id policy")
	ErrGasPriceTooLarge    = errors.New("gas price exceeds 128 bits")
)

// upstreamRPCError returns a backend's JSON-RPC error object to the caller unchanged
type upstreamRPCError struct {
	code    int
	message string
	data    interface{}
}

func (e *upstreamRPCError) Error() string          { return e.message }
func (e *upstreamRPCError) ErrorCode() int         { return e.code }
func (e *upstreamRPCError) ErrorData() interface{} { return e.data }

// toRPCError maps an error from a backend call to the error object sent to the driver.
// Backend error objects pass through; anything else becomes a generic server error so that
// addresses and transport details never leave the relay.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}

	var upstream *executionclient.UpstreamError
	if errors.As(err, &upstream) {
		return &upstreamRPCError{code: upstream.Code, message: upstream.Message, data: upstream.Data}
	}

	var engineErr *engine.EngineAPIError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if errors.Is(err, common.ErrPayloadNotFound) {
		return engine.UnknownPayload
	}
	return engine.GenericServerError
}

func invalidParams(err error) error {
	return engine.InvalidParams.With(err)
}
