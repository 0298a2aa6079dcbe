package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldlabs/txshield/internal/config"
	"github.com/shieldlabs/txshield/internal/history"
	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeExecutor returns scripted results.
type fakeExecutor struct {
	result   *intent.ExecutionResult
	err      error
	received *intent.TransactionIntent
}

func (f *fakeExecutor) Execute(ctx context.Context, in *intent.TransactionIntent) (*intent.ExecutionResult, error) {
	f.received = in
	return f.result, f.err
}

// fakeLedger serves health checks.
type fakeLedger struct {
	slotErr error
}

func (f *fakeLedger) CurrentSlot(ctx context.Context) (uint64, error) {
	if f.slotErr != nil {
		return 0, f.slotErr
	}
	return 100, nil
}

func (f *fakeLedger) SubmitRaw(ctx context.Context, payload []byte) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLedger) SignatureStatus(ctx context.Context, sig string) (ledgerclient.Status, error) {
	return ledgerclient.StatusNotFound, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   "test",
		LogLevel:              "error",
		RPCURL:                "http://localhost:8545",
		FragmentThresholdBase: config.DefaultFragmentThreshold,
		MinFragmentUnitBase:   config.DefaultMinFragmentUnit,
		RateLimitRPS:          1000,
	}
}

func newTestServer(exec Executor, store history.Store, ledger ledgerclient.Client) *Server {
	if store == nil {
		store = history.NewMemoryStore()
	}
	if ledger == nil {
		ledger = &fakeLedger{}
	}
	return New(testConfig(), exec, store, ledger, slog.New(slog.DiscardHandler))
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func validExecuteBody() string {
	return `{
		"instructions": ["0xdead", "0xbeef"],
		"amount": "1500",
		"deadlineSeconds": 60,
		"maxSlippageBps": 50
	}`
}

func TestExecuteEndpointSuccess(t *testing.T) {
	exec := &fakeExecutor{
		result: &intent.ExecutionResult{
			Signatures:       []string{"sig-1"},
			StrategyUsed:     intent.StrategyFragmented,
			EstimatedSavings: big.NewInt(42),
			ProtectionCost:   big.NewInt(7),
		},
	}
	s := newTestServer(exec, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", validExecuteBody())
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"sig-1"}, resp.Signatures)
	assert.Equal(t, "fragmented", resp.StrategyUsed)
	assert.Equal(t, "42", resp.EstimatedSavings)
	assert.Equal(t, "7", resp.ProtectionCost)
	assert.False(t, resp.Partial)
	assert.Empty(t, resp.FailureReason)

	// 1500 base units, 9 decimals
	require.NotNil(t, exec.received)
	want, _ := new(big.Int).SetString("1500000000000", 10)
	assert.Zero(t, want.Cmp(exec.received.EconomicAmount))
	assert.Equal(t, [][]byte{{0xde, 0xad}, {0xbe, 0xef}}, exec.received.Instructions)
	assert.Equal(t, uint16(50), exec.received.MaxSlippageBps)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exec.received.Deadline, 5*time.Second)
}

func TestExecuteEndpointRejectsMalformedBody(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", `{"amount": "100"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteEndpointRejectsBadHexInstruction(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	body := `{"instructions": ["nothex"], "amount": "100", "deadlineSeconds": 60}`
	w := doJSON(t, s, http.MethodPost, "/v1/executions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "instruction 0")
}

func TestExecuteEndpointRejectsBadAmount(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	body := `{"instructions": ["0xdead"], "amount": "not-a-number", "deadlineSeconds": 60}`
	w := doJSON(t, s, http.MethodPost, "/v1/executions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteEndpointInvalidIntent(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("%w: no instructions", intent.ErrInvalidIntent)}
	s := newTestServer(exec, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", validExecuteBody())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_intent")
}

func TestExecuteEndpointPartialResultIsTerminal(t *testing.T) {
	exec := &fakeExecutor{
		result: &intent.ExecutionResult{
			Signatures:   []string{"sig-1", "sig-2"},
			StrategyUsed: intent.StrategyFragmented,
			Partial:      true,
		},
		err: errors.New("fragment 2: ledger rejected payload"),
	}
	s := newTestServer(exec, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", validExecuteBody())
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Partial)
	assert.Len(t, resp.Signatures, 2)
	assert.Contains(t, resp.FailureReason, "fragment 2")
}

func TestExecuteEndpointRevealVerificationError(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("%w: hash mismatch", intent.ErrRevealVerification)}
	s := newTestServer(exec, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", validExecuteBody())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "reveal_verification_failed")
}

func TestExecuteEndpointUpstreamFailure(t *testing.T) {
	exec := &fakeExecutor{err: fmt.Errorf("%w: relay and ledger both down", intent.ErrCommitmentSubmission)}
	s := newTestServer(exec, nil, nil)

	w := doJSON(t, s, http.MethodPost, "/v1/executions", validExecuteBody())
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListExecutions(t *testing.T) {
	store := history.NewMemoryStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(context.Background(), &history.Record{
			ID:       fmt.Sprintf("exec-%d", i),
			Amount:   "1000000000",
			Tier:     "low",
			Strategy: "basic",
		}))
	}
	s := newTestServer(&fakeExecutor{}, store, nil)

	w := doJSON(t, s, http.MethodGet, "/v1/executions?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Executions []*history.Record `json:"executions"`
		Count      int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "exec-2", resp.Executions[0].ID)
}

func TestListExecutionsRejectsBadLimit(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	w := doJSON(t, s, http.MethodGet, "/v1/executions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExecution(t *testing.T) {
	store := history.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &history.Record{
		ID: "exec-1", Amount: "1000000000", Tier: "low", Strategy: "basic",
	}))
	s := newTestServer(&fakeExecutor{}, store, nil)

	w := doJSON(t, s, http.MethodGet, "/v1/executions/exec-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"exec-1"`)

	w = doJSON(t, s, http.MethodGet, "/v1/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	w := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessBeforeRun(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	w := doJSON(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunBindFailureNeverReady(t *testing.T) {
	// Occupy a port so the server's own bind fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Port = port
	s := New(cfg, &fakeExecutor{}, history.NewMemoryStore(), &fakeLedger{}, slog.New(slog.DiscardHandler))

	err = s.Run(context.Background())
	require.Error(t, err)

	w := doJSON(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthDegradedWhenRPCDown(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, &fakeLedger{slotErr: errors.New("connection refused")})

	w := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestHealthHealthy(t *testing.T) {
	s := newTestServer(&fakeExecutor{}, nil, nil)

	w := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
