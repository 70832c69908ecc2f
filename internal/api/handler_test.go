package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hl-hedger/internal/hedge"
	"hl-hedger/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testOwner = "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"

const validBody = `{"positionHash":"ph-1","coin":"ETH","leverage":5,"notionalValueUsd":1000,"hedgeSize":"1","markPrice":"2000"}`

type openerFunc func(ctx context.Context, owner string, req hedge.Request) (hedge.Result, error)

func (f openerFunc) Open(ctx context.Context, owner string, req hedge.Request) (hedge.Result, error) {
	return f(ctx, owner, req)
}

type countingCounter struct {
	n atomic.Int64
}

func (c *countingCounter) Inc() { c.n.Add(1) }

func newTestServer(opener HedgeOpener) (*Server, *countingCounter) {
	m := metrics.NewNoop()
	abandoned := &countingCounter{}
	m.CallersAbandoned = abandoned
	return NewServer(Deps{Opener: opener, Metrics: m}), abandoned
}

func postOpen(t *testing.T, srv *Server, owner, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hedges/open", strings.NewReader(body))
	if owner != "" {
		req.Header.Set("X-Owner-Address", owner)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestOpenHedgeSuccess(t *testing.T) {
	var gotOwner string
	var gotReq hedge.Request
	srv, _ := newTestServer(openerFunc(func(ctx context.Context, owner string, req hedge.Request) (hedge.Result, error) {
		gotOwner, gotReq = owner, req
		return hedge.Result{
			SagaID:            "saga-1",
			SubaccountAddress: "0xsub",
			SubaccountName:    "mc-ph-1",
			OrderID:           7,
			FillPrice:         decimal.NewFromInt(1980),
			FillSize:          decimal.NewFromInt(1),
			MarginTransferred: decimal.NewFromInt(204),
			Market:            "ETH",
		}, nil
	}))

	rec, body := postOpen(t, srv, testOwner, validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, testOwner, gotOwner)
	require.Equal(t, 5, gotReq.Leverage)
	require.True(t, gotReq.NotionalValueUSD.Equal(decimal.NewFromInt(1000)))
	require.True(t, gotReq.MarkPrice.Equal(decimal.NewFromInt(2000)))

	require.Equal(t, "1980", body["fillPrice"])
	require.Equal(t, "1", body["fillSize"])
	require.Equal(t, "204", body["marginTransferred"])
	require.Equal(t, "ETH", body["market"])
	require.Equal(t, float64(7), body["orderId"])
	require.Equal(t, false, body["approximate"])
	require.Equal(t, "saga-1", body["sagaId"])
}

func TestOpenHedgeRejectsBadOwner(t *testing.T) {
	srv, _ := newTestServer(nil)
	for _, owner := range []string{"", "0x123", "not-an-address"} {
		rec, body := postOpen(t, srv, owner, validBody)
		require.Equal(t, http.StatusBadRequest, rec.Code, owner)
		require.Equal(t, hedge.CodeValidation, body["code"])
	}
}

func TestOpenHedgeRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(nil)
	for _, body := range []string{
		`{`,
		`{"coin":"ETH","unexpected":1}`,
		`{"positionHash":"p","coin":"ETH","leverage":5,"notionalValueUsd":"abc","hedgeSize":"1","markPrice":"1"}`,
	} {
		rec, decoded := postOpen(t, srv, testOwner, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Equal(t, hedge.CodeValidation, decoded["code"])
	}
}

func TestOpenHedgeValidatesBeforeSaga(t *testing.T) {
	called := false
	srv, _ := newTestServer(openerFunc(func(context.Context, string, hedge.Request) (hedge.Result, error) {
		called = true
		return hedge.Result{}, nil
	}))
	rec, body := postOpen(t, srv, testOwner, `{"positionHash":"p","coin":"ETH","leverage":0,"notionalValueUsd":"1","hedgeSize":"1","markPrice":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, hedge.CodeValidation, body["code"])
	require.Contains(t, body["error"], "leverage")
	require.False(t, called)
}

func TestOpenHedgeInsufficientBalanceIs400(t *testing.T) {
	srv, _ := newTestServer(openerFunc(func(context.Context, string, hedge.Request) (hedge.Result, error) {
		return hedge.Result{}, &hedge.SagaError{
			SagaID: "saga-2",
			Stage:  hedge.StageInit,
			Err:    &hedge.InsufficientBalanceError{Required: decimal.NewFromInt(204), Available: decimal.NewFromInt(100)},
		}
	}))
	rec, body := postOpen(t, srv, testOwner, validBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, hedge.CodeInsufficientBalance, body["code"])
	require.Equal(t, "saga-2", body["sagaId"])
	require.Equal(t, "insufficient balance: required 204, available 100", body["error"])
	require.NotContains(t, body, "rollbackFailed")
}

func TestOpenHedgeSagaFailureIs500WithRollbackFlag(t *testing.T) {
	srv, _ := newTestServer(openerFunc(func(context.Context, string, hedge.Request) (hedge.Result, error) {
		return hedge.Result{}, &hedge.SagaError{
			SagaID:   "saga-3",
			Stage:    hedge.StageMarginTransferred,
			Err:      &hedge.OrderRejectedError{Reason: "margin"},
			Rollback: &hedge.RollbackReport{Errors: []error{errors.New("withdraw failed")}},
		}
	}))
	rec, body := postOpen(t, srv, testOwner, validBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, hedge.CodeOrderRejected, body["code"])
	require.Equal(t, "order rejected: margin", body["error"], "root cause, not the rollback failure")
	require.Equal(t, true, body["rollbackFailed"])
	require.Contains(t, body["details"], "withdraw failed")
}

func TestOpenHedgeSagaPanicIs500(t *testing.T) {
	srv, _ := newTestServer(openerFunc(func(context.Context, string, hedge.Request) (hedge.Result, error) {
		panic("boom")
	}))
	rec, body := postOpen(t, srv, testOwner, validBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, hedge.CodeInternal, body["code"])
	srv.Wait()
}

func TestAbandonedCallerDoesNotCancelSaga(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var sagaCtxErr atomic.Value
	srv, abandoned := newTestServer(openerFunc(func(ctx context.Context, _ string, _ hedge.Request) (hedge.Result, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			sagaCtxErr.Store(ctx.Err())
		}
		return hedge.Result{SagaID: "late"}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/hedges/open", strings.NewReader(validBody)).WithContext(ctx)
	req.Header.Set("X-Owner-Address", testOwner)
	rec := httptest.NewRecorder()
	handled := make(chan struct{})
	go func() {
		srv.Router().ServeHTTP(rec, req)
		close(handled)
	}()

	<-started
	cancel()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not return after caller went away")
	}
	require.Equal(t, int64(1), abandoned.n.Load())

	close(release)
	srv.Wait()
	require.Nil(t, sagaCtxErr.Load(), "saga context must survive the caller")
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _ := newTestServer(nil)
	h := Recovery(srv.log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
