package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/rpc"
	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/conroydamien/eth-squid-station/api"
	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/publish"
)

const maxRequestSize = 1 << 20

var methods = map[string]string{
	"stop":         "Service.Stop",
	"status":       "Service.Status",
	"gasprice":     "Service.GasPrice",
	"predicttable": "Service.PredictTable",
	"waittime":     "Service.WaitTime",
	"confirmtable": "Service.ConfirmTable",
	"setdebug":     "Service.SetDebug",
	"config":       "Service.Config",
	"metrics":      "Service.Metrics",
}

type Service struct {
	Oracle *Oracle
	DLog   *DebugLog
	Cfg    config

	server *http.Server
}

func NewService(oracle *Oracle, dlog *DebugLog, cfg config) (*Service, error) {
	s := &Service{Oracle: oracle, DLog: dlog, Cfg: cfg}
	h, err := s.Handler()
	if err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.AppRPC.Host, cfg.AppRPC.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler serves the JSON-RPC API at /, Prometheus metrics at /metrics and a
// liveness probe at /healthz.
func (s *Service) Handler() (http.Handler, error) {
	srv := rpc.NewServer()
	srv.RegisterCodec(jsonrpc.NewCodec(), "application/json")
	if err := srv.RegisterService(s, ""); err != nil {
		return nil, errors.Wrap(err, "RegisterService")
	}
	rpcHandler := promhttp.InstrumentHandlerDuration(rpcRequestDuration,
		promhttp.InstrumentHandlerCounter(rpcRequestsTotal, renameMethods(srv, methods)))

	mux := http.NewServeMux()
	mux.Handle("/", rpcHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-s.Oracle.done:
			http.Error(w, errShutdown.Error(), http.StatusServiceUnavailable)
		default:
			w.Write([]byte("ok"))
		}
	})
	return mux, nil
}

// ListenAndServe blocks until the server fails or is shut down.
func (s *Service) ListenAndServe() error {
	s.DLog.Logger.Info("RPC server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// renameMethods rewrites the short method names of JSON-RPC requests to the
// names of the registered Service methods.
func renameMethods(h http.Handler, names map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
		r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req map[string]json.RawMessage
		if err := json.Unmarshal(body, &req); err == nil {
			var method string
			if err := json.Unmarshal(req["method"], &method); err == nil {
				if name, ok := names[method]; ok {
					req["method"], _ = json.Marshal(name)
					body, _ = json.Marshal(req)
				}
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		h.ServeHTTP(w, r)
	})
}

func (s *Service) Stop(r *http.Request, args *struct{}, reply *struct{}) error {
	go s.Oracle.Stop()
	return nil
}

func (s *Service) Status(r *http.Request, args *struct{}, reply *map[string]string) error {
	*reply = s.Oracle.Status()
	return nil
}

func (s *Service) GasPrice(r *http.Request, args *struct{}, reply *est.Recommendation) error {
	rec, err := s.Oracle.Recommendation()
	if err != nil {
		return err
	}
	*reply = rec
	return nil
}

func (s *Service) PredictTable(r *http.Request, args *struct{}, reply *[]publish.PredictRow) error {
	t, err := s.Oracle.PredictTable()
	if err != nil {
		return err
	}
	*reply = publish.PredictRows(t)
	return nil
}

// WaitTime takes a gas price in gwei.
func (s *Service) WaitTime(r *http.Request, args *float64, reply *api.WaitTime) error {
	w, err := s.Oracle.WaitTime(*args)
	if err != nil {
		return err
	}
	*reply = *w
	return nil
}

func (s *Service) ConfirmTable(r *http.Request, args *struct{}, reply *publish.ConfirmDoc) error {
	t, blockInterval, err := s.Oracle.ConfirmTable()
	if err != nil {
		return err
	}
	*reply = *publish.NewConfirmDoc(t, blockInterval)
	return nil
}

func (s *Service) SetDebug(r *http.Request, args *bool, reply *bool) error {
	s.DLog.SetDebug(*args)
	*reply = *args
	return nil
}

func (s *Service) Config(r *http.Request, args *struct{}, reply *interface{}) error {
	c := s.Cfg
	// Node URLs often carry an API key
	c.EthRPC.URL = redactURL(c.EthRPC.URL)
	*reply = c
	return nil
}

func (s *Service) Metrics(r *http.Request, args *struct{}, reply *metrics.Registry) error {
	*reply = metrics.DefaultRegistry
	return nil
}

// redactURL keeps only the scheme and host of u.
func redactURL(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return "********"
	}
	r := p.Scheme + "://" + p.Host
	if p.User != nil || (p.Path != "" && p.Path != "/") || p.RawQuery != "" {
		r += "/********"
	}
	return r
}
