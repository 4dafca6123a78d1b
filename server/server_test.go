package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
	"github.com/blndgs/safeauto/config"
	"github.com/blndgs/safeauto/contracts"
	"github.com/blndgs/safeauto/devnet"
)

var (
	safeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	receiver1 = common.HexToAddress("0x0000000000000000000000000000000000000101")
	receiver2 = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBackend struct {
	canExec  bool
	payload  []byte
	roster   []safeauto.Receiver
	balances map[common.Address]*big.Int
	tasks    []*automate.Task
	err      error
	// authorized is the batch last passed to Authorize.
	authorized []safeauto.SafeTransaction
	denyErr    error
}

func (b *stubBackend) Checker(context.Context, common.Address) (bool, []byte, error) {
	return b.canExec, b.payload, b.err
}

func (b *stubBackend) Roster(context.Context, common.Address) ([]safeauto.Receiver, error) {
	return b.roster, b.err
}

func (b *stubBackend) ReceiverBalance(_ context.Context, _, receiver common.Address) (*big.Int, error) {
	return b.balances[receiver], b.err
}

func (b *stubBackend) TasksByUser(context.Context, common.Address) ([]*automate.Task, error) {
	return b.tasks, b.err
}

func (b *stubBackend) Authorize(_ context.Context, _ common.Address, txs []safeauto.SafeTransaction) error {
	b.authorized = txs
	if b.denyErr != nil {
		return b.denyErr
	}
	return b.err
}

func newRouter(t *testing.T, backend Backend) *gin.Engine {
	t.Helper()
	s, err := New(backend, 1000, 1000, nil)
	require.NoError(t, err)
	return s.Router()
}

func do(t *testing.T, r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(t, newRouter(t, &stubBackend{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestChecker(t *testing.T) {
	perform, err := contracts.EncodePerformTopUps(safeAddr, []common.Address{receiver1, receiver2})
	require.NoError(t, err)
	payload, err := contracts.EncodeExecute(safeAddr, safeauto.SafeTransaction{
		To:        common.HexToAddress("0xe1"),
		Data:      perform,
		Value:     new(big.Int),
		Operation: safeauto.DelegateCall,
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		backend  *stubBackend
		code     int
		canExec  bool
		targets  []common.Address
		execData []byte
	}{
		{
			name:    "nothing to do",
			path:    "/v1/safes/" + safeAddr.Hex() + "/checker",
			backend: &stubBackend{payload: []byte{}},
			code:    http.StatusOK,
			targets: []common.Address{},
		},
		{
			name:     "two receivers to refill",
			path:     "/v1/safes/" + safeAddr.Hex() + "/checker",
			backend:  &stubBackend{canExec: true, payload: payload},
			code:     http.StatusOK,
			canExec:  true,
			targets:  []common.Address{receiver1, receiver2},
			execData: payload,
		},
		{
			name:    "invalid address",
			path:    "/v1/safes/0xnope/checker",
			backend: &stubBackend{},
			code:    http.StatusBadRequest,
		},
		{
			name:    "backend failure",
			path:    "/v1/safes/" + safeAddr.Hex() + "/checker",
			backend: &stubBackend{err: errors.New("node unavailable")},
			code:    http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newRouter(t, tt.backend), http.MethodGet, tt.path, nil)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var resp checkerResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.canExec, resp.CanExec)
			assert.Equal(t, tt.targets, resp.Targets)
			if tt.execData != nil {
				assert.Equal(t, hexutil.Bytes(tt.execData), resp.ExecData)
			}
			if !tt.canExec {
				assert.Empty(t, resp.Transactions)
				return
			}
			require.Len(t, resp.Transactions, 1)
			assert.Equal(t, common.HexToAddress("0xe1"), resp.Transactions[0].To)
			assert.Equal(t, perform, resp.Transactions[0].Data)
			assert.Equal(t, safeauto.DelegateCall, resp.Transactions[0].Operation)
		})
	}
}

func TestReceivers(t *testing.T) {
	backend := &stubBackend{
		roster: []safeauto.Receiver{
			{Address: receiver1, Amount: safeauto.Ether(10), Threshold: safeauto.Ether(7)},
			{Address: receiver2, Amount: safeauto.Ether(10), Threshold: safeauto.Ether(5)},
		},
		balances: map[common.Address]*big.Int{
			receiver1: safeauto.Ether(6),
			receiver2: safeauto.Ether(5),
		},
	}
	w := do(t, newRouter(t, backend), http.MethodGet, "/v1/safes/"+safeAddr.Hex()+"/receivers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Safe      common.Address     `json:"safe"`
		Receivers []receiverResponse `json:"receivers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, safeAddr, resp.Safe)
	assert.Equal(t, []receiverResponse{
		{Address: receiver1, Amount: "10", Threshold: "7", Balance: "6", NeedsTopUp: true},
		{Address: receiver2, Amount: "10", Threshold: "5", Balance: "5", NeedsTopUp: false},
	}, resp.Receivers)
}

func TestTasks(t *testing.T) {
	md, err := automate.TimeTask(1_700_000_420, 420)
	require.NoError(t, err)
	backend := &stubBackend{tasks: []*automate.Task{{
		ID:          common.HexToHash("0x01"),
		ExecAddress: common.HexToAddress("0xd1"),
		Modules:     md,
		NextExec:    1_700_000_420,
		Interval:    420,
	}}}

	w := do(t, newRouter(t, backend), http.MethodGet, "/v1/safes/"+safeAddr.Hex()+"/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tasks []taskResponse `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, []string{"TIME", "PROXY"}, resp.Tasks[0].Modules)
	assert.Equal(t, uint64(420), resp.Tasks[0].Interval)
}

func TestValidateRoster(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{
			name: "valid roster",
			body: `{"treasuryDeposit":"1000000000000000000","receivers":["` + receiver1.Hex() + `"],"amounts":["10000000000000000000"],"thresholds":["7000000000000000000"]}`,
			code: http.StatusOK,
		},
		{
			name: "invalid receiver address",
			body: `{"treasuryDeposit":"1","receivers":["0x01"],"amounts":["1"],"thresholds":["1"]}`,
			code: http.StatusBadRequest,
		},
		{
			name: "negative amount",
			body: `{"treasuryDeposit":"1","receivers":["` + receiver1.Hex() + `"],"amounts":["-1"],"thresholds":["1"]}`,
			code: http.StatusBadRequest,
		},
		{
			name: "length mismatch",
			body: `{"treasuryDeposit":"1","receivers":["` + receiver1.Hex() + `"],"amounts":["1","2"],"thresholds":["1"]}`,
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "missing deposit",
			body: `{"receivers":["` + receiver1.Hex() + `"],"amounts":["1"],"thresholds":["1"]}`,
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newRouter(t, &stubBackend{}), http.MethodPost, "/v1/rosters/validate", []byte(tt.body))
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var resp rosterResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "1", resp.TreasuryDeposit)
			require.Len(t, resp.Receivers, 1)
			assert.Equal(t, "10", resp.Receivers[0].Amount)

			expected, err := contracts.EncodeStartAutoTopUp(safeauto.Ether(1), []safeauto.Receiver{
				{Address: receiver1, Amount: safeauto.Ether(10), Threshold: safeauto.Ether(7)},
			})
			require.NoError(t, err)
			assert.Equal(t, hexutil.Bytes(expected), resp.CallData)
		})
	}
}

func TestAuthorize(t *testing.T) {
	path := "/v1/safes/" + safeAddr.Hex() + "/authorize"
	counterCall := `{"to":"0x00000000000000000000000000000000000000c1","data":"0x4ba0e9ad","value":"0x0","operation":0}`

	tests := []struct {
		name    string
		body    string
		backend *stubBackend
		code    int
		batch   int
	}{
		{
			name:    "whitelisted batch",
			body:    `{"transactions":[` + counterCall + `,` + counterCall + `]}`,
			backend: &stubBackend{},
			code:    http.StatusOK,
			batch:   2,
		},
		{
			name:    "batch not whitelisted",
			body:    `{"transactions":[` + counterCall + `]}`,
			backend: &stubBackend{denyErr: fmt.Errorf("%w: transaction 0", safeauto.ErrAuthorizationDenied)},
			code:    http.StatusForbidden,
			batch:   1,
		},
		{
			name:    "unknown operation",
			body:    `{"transactions":[{"to":"0x00000000000000000000000000000000000000c1","data":"0x","value":"0x0","operation":4}]}`,
			backend: &stubBackend{},
			code:    http.StatusBadRequest,
		},
		{
			name:    "empty batch",
			body:    `{"transactions":[]}`,
			backend: &stubBackend{},
			code:    http.StatusBadRequest,
		},
		{
			name:    "backend failure",
			body:    `{"transactions":[` + counterCall + `]}`,
			backend: &stubBackend{err: errors.New("node unavailable")},
			code:    http.StatusInternalServerError,
			batch:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newRouter(t, tt.backend), http.MethodPost, path, []byte(tt.body))
			require.Equal(t, tt.code, w.Code, w.Body.String())
			require.Len(t, tt.backend.authorized, tt.batch)
			for _, tx := range tt.backend.authorized {
				assert.Equal(t, common.HexToAddress("0xc1"), tx.To)
				assert.Equal(t, []byte{0x4b, 0xa0, 0xe9, 0xad}, tx.Data)
			}
		})
	}
}

func TestEncodeWhitelist(t *testing.T) {
	counter := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	w := do(t, newRouter(t, &stubBackend{}), http.MethodPost, "/v1/whitelist/encode",
		[]byte(`{"specs":[{"to":"`+counter.Hex()+`","signature":"increaseCount(uint256)","operation":0}]}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp whitelistResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	spec := safeauto.NewTransactionSpec(counter, "increaseCount(uint256)", false, safeauto.Call)
	assert.Equal(t, []safeauto.TransactionSpec{spec}, resp.Specs)
	expected, err := contracts.EncodeWhitelistTransaction(spec)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(expected), resp.CallData)

	w = do(t, newRouter(t, &stubBackend{}), http.MethodPost, "/v1/whitelist/encode",
		[]byte(`{"specs":[{"to":"`+counter.Hex()+`","operation":3}]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	s, err := New(&stubBackend{}, 1, 1, nil)
	require.NoError(t, err)
	r := s.Router()
	path := "/v1/safes/" + safeAddr.Hex() + "/tasks"

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, r, http.MethodGet, path, nil).Code)
	// health checks are never limited
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", nil).Code)
}

func TestDevnetBackend(t *testing.T) {
	addrs, err := config.AddressesFor("hardhat")
	require.NoError(t, err)
	d, err := devnet.New(addrs, devnet.WithStart(time.Unix(1_700_000_000, 0)))
	require.NoError(t, err)
	d.Fund(receiver1, safeauto.Ether(6))

	_, err = d.StartAutoTopUp(context.Background(), safeauto.Ether(1), []safeauto.Receiver{
		{Address: receiver1, Amount: safeauto.Ether(10), Threshold: safeauto.Ether(7)},
		{Address: addrs.Treasury, Amount: safeauto.Ether(1), Threshold: safeauto.Ether(1)},
	})
	require.NoError(t, err)

	r := newRouter(t, d)
	w := do(t, r, http.MethodGet, "/v1/safes/"+d.Safe().Hex()+"/checker", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var checker checkerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &checker))
	assert.True(t, checker.CanExec)
	assert.Equal(t, []common.Address{receiver1}, checker.Targets)

	w = do(t, r, http.MethodGet, "/v1/safes/"+d.Safe().Hex()+"/receivers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":"1"`)
	assert.Contains(t, w.Body.String(), `"needsTopUp":true`)

	w = do(t, r, http.MethodGet, "/v1/safes/"+d.Safe().Hex()+"/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"RESOLVER"`)

	// the engine call the checker proposes is whitelisted, a counter call is not
	batch, err := json.Marshal(gin.H{"transactions": checker.Transactions})
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/v1/safes/"+d.Safe().Hex()+"/authorize", batch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	increase, err := contracts.EncodeIncreaseCount(big.NewInt(1))
	require.NoError(t, err)
	batch, err = json.Marshal(gin.H{"transactions": []*safeauto.SafeTransaction{
		{To: d.Contracts().Counter, Data: increase, Value: new(big.Int), Operation: safeauto.Call},
	}})
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/v1/safes/"+d.Safe().Hex()+"/authorize", batch)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
}
