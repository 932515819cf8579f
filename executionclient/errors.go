package executionclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
)

// UpstreamError is a JSON-RPC error object returned by a backend. It keeps the backend's
// code, message and data so the relay can propagate them unchanged.
type UpstreamError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Method, e.Message, e.Code)
}

func (e *UpstreamError) Unwrap() error { return common.ErrUpstream }

func (e *UpstreamError) ErrorCode() int { return e.Code }

func (e *UpstreamError) ErrorData() interface{} { return e.Data }

func classifyError(method string, err error) error {
	var httpErr rpc.HTTPError
	var rpcErr rpc.Error
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s", common.ErrTimeout, method)
	case errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden):
		return fmt.Errorf("%w: %s: status %d", common.ErrAuthRejected, method, httpErr.StatusCode)
	case errors.As(err, &rpcErr):
		upstream := &UpstreamError{
			Method:  method,
			Code:    rpcErr.ErrorCode(),
			Message: rpcErr.Error(),
		}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			upstream.Data = dataErr.ErrorData()
		}
		return upstream
	default:
		return fmt.Errorf("%w: %s: %w", common.ErrTransport, method, err)
	}
}
