package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/buger/jsonparser"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
	"github.com/flashbots/engine-relay/metrics"
	"github.com/flashbots/engine-relay/tracing"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	uberatomic "go.uber.org/atomic"
)

const maxRequestContentLength = 5 * 1024 * 1024

var (
	pathRPC     = "/"
	pathHealthz = "/healthz"
	pathMetrics = "/metrics"
)

// ServerOpts contains the options for the JSON-RPC server
type ServerOpts struct {
	Log        *logrus.Entry
	ListenAddr string
	Relay      *Relay

	MetricsEnabled bool
	Timeouts       common.HTTPServerTimeouts
}

// Server exposes the relay over JSON-RPC, under the engine, eth and miner namespaces
type Server struct {
	opts ServerOpts
	log  *logrus.Entry

	rpcServer *rpc.Server

	srv        *http.Server
	srvStarted uberatomic.Bool
}

func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Log == nil {
		return nil, ErrMissingLogOpt
	}
	if opts.Relay == nil {
		return nil, errors.New("relay is nil")
	}

	rpcServer := rpc.NewServer()
	for namespace, service := range map[string]interface{}{
		"engine": &EngineAPI{opts.Relay},
		"eth":    &EthAPI{opts.Relay},
		"miner":  &MinerAPI{opts.Relay},
	} {
		if err := rpcServer.RegisterName(namespace, service); err != nil {
			return nil, err
		}
	}

	return &Server{
		opts:      opts,
		log:       opts.Log.WithField("module", "server"),
		rpcServer: rpcServer,
	}, nil
}

// Handler returns the HTTP handler with all routes and middlewares
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(pathHealthz, s.handleHealthz).Methods(http.MethodGet)
	if s.opts.MetricsEnabled {
		r.Handle(pathMetrics, metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc(pathRPC, s.handleRPC).Methods(http.MethodPost)

	loggedRouter := httplogger.LoggingMiddlewareLogrus(s.log, r)
	return gziphandler.GzipHandler(loggedRouter)
}

func (s *Server) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleRPC continues the caller's trace and hands the request to the rpc server
func (s *Server) handleRPC(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestContentLength))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		s.log.WithFields(logrus.Fields{
			"rpcMethod": rpcMethod(body),
			"ip":        common.GetIPXForwardedFor(req),
		}).Debug("rpc request")
	}

	ctx := tracing.Extract(req.Context(), req.Header)
	s.rpcServer.ServeHTTP(w, req.WithContext(ctx))
}

// rpcMethod peeks at the method name of a single or batched JSON-RPC request
func rpcMethod(body []byte) string {
	if method, err := jsonparser.GetString(body, "method"); err == nil {
		return method
	}
	if method, err := jsonparser.GetString(body, "[0]", "method"); err == nil {
		return method + " (batch)"
	}
	return ""
}

// StartServer starts the HTTP server for this instance
func (s *Server) StartServer() (err error) {
	if s.srvStarted.Swap(true) {
		return common.ErrServerAlreadyRunning
	}

	s.srv = &http.Server{
		Addr:    s.opts.ListenAddr,
		Handler: s.Handler(),

		ReadTimeout:       s.opts.Timeouts.Read,
		ReadHeaderTimeout: s.opts.Timeouts.ReadHeader,
		WriteTimeout:      s.opts.Timeouts.Write,
		IdleTimeout:       s.opts.Timeouts.Idle,
	}

	s.log.WithField("listenAddr", s.opts.ListenAddr).Info("starting JSON-RPC server")
	err = s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StopServer gracefully shuts down the HTTP server
func (s *Server) StopServer(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
