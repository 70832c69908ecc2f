// Package api exposes the hedge saga over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"hl-hedger/internal/hedge"
	"hl-hedger/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type HedgeOpener interface {
	Open(ctx context.Context, owner string, req hedge.Request) (hedge.Result, error)
}

type ErrorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	Details        string `json:"details,omitempty"`
	SagaID         string `json:"sagaId,omitempty"`
	RollbackFailed bool   `json:"rollbackFailed,omitempty"`
}

type openHedgeRequest struct {
	PositionHash     string          `json:"positionHash"`
	Coin             string          `json:"coin"`
	Leverage         int             `json:"leverage"`
	NotionalValueUSD decimal.Decimal `json:"notionalValueUsd"`
	HedgeSize        decimal.Decimal `json:"hedgeSize"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
}

type openHedgeResponse struct {
	SubaccountAddress string `json:"subaccountAddress"`
	SubaccountName    string `json:"subaccountName"`
	OrderID           int64  `json:"orderId"`
	FillPrice         string `json:"fillPrice"`
	FillSize          string `json:"fillSize"`
	MarginTransferred string `json:"marginTransferred"`
	Market            string `json:"market"`
	Approximate       bool   `json:"approximate"`
	SagaID            string `json:"sagaId"`
}

type Deps struct {
	Opener      HedgeOpener
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	OwnerHeader string
}

// Server owns the HTTP handlers and tracks sagas that outlive their request.
type Server struct {
	opener      HedgeOpener
	metrics     *metrics.Metrics
	log         *zap.Logger
	ownerHeader string
	inflight    sync.WaitGroup
}

func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.OwnerHeader == "" {
		deps.OwnerHeader = "X-Owner-Address"
	}
	return &Server{
		opener:      deps.Opener,
		metrics:     deps.Metrics,
		log:         deps.Log,
		ownerHeader: deps.OwnerHeader,
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(Recovery(s.log))
	router.Use(Logging(s.log))
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/hedges/open", s.openHedge).Methods(http.MethodPost)
	return router
}

// Wait blocks until every saga started by a handler has finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type sagaOutcome struct {
	res hedge.Result
	err error
}

// openHedge runs the saga on a context detached from the request. A caller
// that disconnects does not stop it; the outcome is still logged.
func (s *Server) openHedge(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(s.ownerHeader))
	if !common.IsHexAddress(owner) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "missing or invalid owner address",
			Code:  hedge.CodeValidation,
		})
		return
	}
	var body openHedgeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    hedge.CodeValidation,
			Details: err.Error(),
		})
		return
	}
	req := hedge.Request{
		PositionHash:     strings.TrimSpace(body.PositionHash),
		Coin:             strings.TrimSpace(body.Coin),
		Leverage:         body.Leverage,
		NotionalValueUSD: body.NotionalValueUSD,
		HedgeSize:        body.HedgeSize,
		MarkPrice:        body.MarkPrice,
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	sagaID := uuid.New()
	log := s.log.With(zap.String("saga_id", sagaID.String()), zap.String("owner", strings.ToLower(owner)))
	ctx := hedge.WithSagaID(context.WithoutCancel(r.Context()), sagaID)
	done := make(chan sagaOutcome, 1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("hedge saga panic", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				done <- sagaOutcome{err: fmt.Errorf("hedge saga panic: %v", rec)}
			}
		}()
		res, err := s.opener.Open(ctx, owner, req)
		done <- sagaOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			s.writeError(w, out.err)
			return
		}
		writeJSON(w, http.StatusOK, responseFromResult(out.res))
	case <-r.Context().Done():
		s.metrics.CallersAbandoned.Inc()
		log.Warn("hedge caller abandoned", zap.Error(r.Context().Err()))
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			out := <-done
			if out.err != nil {
				log.Warn("abandoned hedge saga failed", zap.String("code", hedge.ErrorCode(out.err)), zap.Error(out.err))
				return
			}
			log.Info("abandoned hedge saga filled", zap.String("subaccount", out.res.SubaccountAddress), zap.Int64("oid", out.res.OrderID))
		}()
	}
}

func responseFromResult(res hedge.Result) openHedgeResponse {
	return openHedgeResponse{
		SubaccountAddress: res.SubaccountAddress,
		SubaccountName:    res.SubaccountName,
		OrderID:           res.OrderID,
		FillPrice:         res.FillPrice.String(),
		FillSize:          res.FillSize.String(),
		MarginTransferred: res.MarginTransferred.String(),
		Market:            res.Market,
		Approximate:       res.Approximate,
		SagaID:            res.SagaID,
	}
}

// writeError reports the root cause. Validation and balance failures are the
// caller's problem (400); everything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := hedge.ErrorCode(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var sagaErr *hedge.SagaError
	if errors.As(err, &sagaErr) {
		resp.Error = sagaErr.Err.Error()
		resp.SagaID = sagaErr.SagaID
		resp.RollbackFailed = sagaErr.RollbackFailed()
		if resp.RollbackFailed {
			resp.Details = "rollback incomplete: " + sagaErr.Rollback.Err().Error()
		}
	}
	status := http.StatusInternalServerError
	switch code {
	case hedge.CodeValidation, hedge.CodeInsufficientBalance:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
