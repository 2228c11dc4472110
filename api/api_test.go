package api_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/dca-exchange/adapter/memory"
	"github.com/vultisig/dca-exchange/api"
	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/exchange"
	"github.com/vultisig/dca-exchange/internal/sigutil"
	"github.com/vultisig/dca-exchange/internal/types"
	"github.com/vultisig/dca-exchange/service"
	"github.com/vultisig/dca-exchange/storage"
)

var (
	custody  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	oracle   = common.HexToAddress("0x0000000000000000000000000000000000000f04")
	provider = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000f02")
	router   = common.HexToAddress("0x0000000000000000000000000000000000000f03")
)

type nopDB struct{}

func (nopDB) Close() error { return nil }
func (nopDB) WithTx(ctx context.Context, fn func(ctx context.Context, dbTx pgx.Tx) error) error {
	return fn(ctx, nil)
}
func (nopDB) LoadState(context.Context) (*types.State, uint64, error) { return nil, 0, nil }
func (nopDB) SaveStateTx(context.Context, pgx.Tx, *types.State, uint64) error {
	return nil
}
func (nopDB) InsertEventsTx(context.Context, pgx.Tx, []events.Record) error { return nil }
func (nopDB) LoadEvents(context.Context, uint64) ([]events.Record, error) {
	return nil, nil
}

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

var _ storage.KeyValueStore = (*memoryKV)(nil)

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrKeyNotFound
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type account struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return account{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

type testServer struct {
	t      *testing.T
	server *api.Server
	net    *memory.Network
	owner  account
	alice  account
	bob    account
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	net := memory.NewNetwork(custody, clk)
	o := net.NewOracle(oracle)
	o.SetPrice(uint256.NewInt(2_00000000))
	net.NewLendingPool(provider, poolAddr)
	net.NewSwapRouter(router).AddPool(tokenA, tokenB, 8, o)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	owner := newAccount(t)
	projector := events.NewProjector(10)
	opts := exchange.DefaultOptions()
	opts.Address = custody
	svc, err := service.NewExchangeService(opts, exchange.NewOwnerAccess(owner.addr), net.Ledger, net, nopDB{}, events.NewLog(projector), clk, logger)
	require.NoError(t, err)

	server := api.NewServer(api.ServerConfig{}, svc, projector, &memoryKV{data: map[string]string{}}, nil, nil, logger)
	return &testServer{t: t, server: server, net: net, owner: owner, alice: newAccount(t), bob: newAccount(t)}
}

func (ts *testServer) do(method, path string, body interface{}, signer *account, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(ts.t, err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(string(raw)))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signer != nil {
		signedAt := time.Now().Unix()
		if v := headerValue(headers, api.HeaderCallerTimestamp); v != "" {
			var err error
			signedAt, err = strconv.ParseInt(v, 10, 64)
			require.NoError(ts.t, err)
		}
		key := headerValue(headers, api.HeaderIdempotencyKey)
		if key == "" {
			key = uuid.NewString()
		}
		sig, err := sigutil.Sign(signer.key, sigutil.CallerMessage(method, req.URL.Path, signedAt, key, raw))
		require.NoError(ts.t, err)
		req.Header.Set(api.HeaderCallerAddress, signer.addr.Hex())
		req.Header.Set(api.HeaderCallerSignature, "0x"+common.Bytes2Hex(sig))
		req.Header.Set(api.HeaderCallerTimestamp, strconv.FormatInt(signedAt, 10))
		req.Header.Set(api.HeaderIdempotencyKey, key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func headerValue(headers []string, name string) string {
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i] == name {
			return headers[i+1]
		}
	}
	return ""
}

func pairRequest() api.AddTokenPairRequest {
	return api.AddTokenPairRequest{
		TokenA:              tokenA.Hex(),
		TokenB:              tokenB.Hex(),
		SegmentSize:         "2500000000",
		DecimalNumber:       8,
		PriceOracle:         oracle.Hex(),
		LendingPoolProvider: provider.Hex(),
		SwapRouter:          router.Hex(),
	}
}

func (ts *testServer) addPair() common.Hash {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/pairs", pairRequest(), &ts.owner)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp api.IDResponse
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func (ts *testServer) deposit(user account, pairID common.Hash, token string, amount uint64) {
	ts.t.Helper()
	addr := tokenA
	if token == "B" {
		addr = tokenB
	}
	ts.net.Ledger.Mint(addr, user.addr, uint256.NewInt(amount))
	rec := ts.do(http.MethodPost, "/pairs/"+pairID.Hex()+"/deposit",
		api.TokenAmountRequest{Token: token, Amount: fmt.Sprint(amount)}, &user)
	require.Equal(ts.t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Message
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenPairEndpoints(t *testing.T) {
	ts := newTestServer(t)
	pairID := ts.addPair()

	rec := ts.do(http.MethodGet, "/pairs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pairs []types.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, pairID, pairs[0].ID)
	assert.Equal(t, uint64(2_500_000_000), pairs[0].SegmentSize.Uint64())

	rec = ts.do(http.MethodPost, "/pairs", pairRequest(), &ts.owner)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/pairs/"+common.HexToHash("0x99").Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/pairs/nothex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := false
	rec = ts.do(http.MethodPut, "/pairs/"+pairID.Hex()+"/enabled", api.SetEnabledRequest{Enabled: &disabled}, &ts.owner)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodGet, "/pairs/"+pairID.Hex(), nil, nil)
	var pair types.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.False(t, pair.Enabled)
}

func TestCallerAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/pairs", pairRequest(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// alice signs but claims to be the owner
	rec = ts.do(http.MethodPost, "/pairs", pairRequest(), &ts.alice, api.HeaderCallerAddress, ts.owner.addr.Hex())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/pairs", pairRequest(), &ts.alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignedRequestReplay(t *testing.T) {
	ts := newTestServer(t)
	pairID := ts.addPair()
	ts.net.Ledger.Mint(tokenA, ts.alice.addr, uint256.NewInt(1000))
	path := "/pairs/" + pairID.Hex() + "/deposit"
	body := api.TokenAmountRequest{Token: "A", Amount: "100"}
	signedAt := strconv.FormatInt(time.Now().Unix(), 10)

	// the same signed request sent twice runs once
	headers := []string{api.HeaderCallerTimestamp, signedAt, api.HeaderIdempotencyKey, "dep-replayed"}
	rec := ts.do(http.MethodPost, path, body, &ts.alice, headers...)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodPost, path, body, &ts.alice, headers...)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))

	stale := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	rec = ts.do(http.MethodPost, path, body, &ts.alice, api.HeaderCallerTimestamp, stale, api.HeaderIdempotencyKey, "dep-stale")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "caller timestamp is outside the signature window", decodeError(t, rec))

	future := strconv.FormatInt(time.Now().Add(10*time.Minute).Unix(), 10)
	rec = ts.do(http.MethodPost, path, body, &ts.alice, api.HeaderCallerTimestamp, future)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a new key is a new deposit
	rec = ts.do(http.MethodPost, path, body, &ts.alice, append(headers[:2:2], api.HeaderIdempotencyKey, "dep-other")...)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/pairs/"+pairID.Hex()+"/balances/"+ts.alice.addr.Hex(), nil, nil)
	var bal api.BalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, uint64(200), bal.TokenA.Uint64())
}

func TestSignedRequestHeaders(t *testing.T) {
	ts := newTestServer(t)
	raw, err := json.Marshal(pairRequest())
	require.NoError(t, err)
	signedAt := time.Now().Unix()
	sig, err := sigutil.Sign(ts.owner.key, sigutil.CallerMessage(http.MethodPost, "/pairs", signedAt, "pair-1", raw))
	require.NoError(t, err)

	send := func(mutate func(h http.Header)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/pairs", strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(api.HeaderCallerAddress, ts.owner.addr.Hex())
		req.Header.Set(api.HeaderCallerSignature, "0x"+common.Bytes2Hex(sig))
		req.Header.Set(api.HeaderCallerTimestamp, strconv.FormatInt(signedAt, 10))
		req.Header.Set(api.HeaderIdempotencyKey, "pair-1")
		mutate(req.Header)
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := send(func(h http.Header) { h.Del(api.HeaderCallerTimestamp) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing or invalid caller timestamp", decodeError(t, rec))

	rec = send(func(h http.Header) { h.Del(api.HeaderIdempotencyKey) })
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(func(h http.Header) { h.Set(api.HeaderIdempotencyKey, "pair-2") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid caller signature", decodeError(t, rec))

	rec = send(func(h http.Header) { h.Set(api.HeaderCallerTimestamp, strconv.FormatInt(signedAt+1, 10)) })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(func(http.Header) {})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	req := pairRequest()
	req.TokenA = "0x1234"
	rec := ts.do(http.MethodPost, "/pairs", req, &ts.owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = pairRequest()
	req.SegmentSize = "-5"
	rec = ts.do(http.MethodPost, "/pairs", req, &ts.owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = pairRequest()
	req.DecimalNumber = 80
	rec = ts.do(http.MethodPost, "/pairs", req, &ts.owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	pairID := ts.addPair()
	rec = ts.do(http.MethodPost, "/pairs/"+pairID.Hex()+"/deposit", api.TokenAmountRequest{Token: "C", Amount: "1"}, &ts.alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/pairs/"+pairID.Hex()+"/withdraw", api.TokenAmountRequest{Token: "A", Amount: "10"}, &ts.alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))

	rec = ts.do(http.MethodPut, "/admin/max-process-per-call", api.SetMaxProcessRequest{Value: 0}, &ts.owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "value must be greater than 0", decodeError(t, rec))
}

func TestDCAFlow(t *testing.T) {
	ts := newTestServer(t)
	pairID := ts.addPair()
	ts.deposit(ts.alice, pairID, "A", 1000)
	ts.deposit(ts.bob, pairID, "B", 1000)

	rec := ts.do(http.MethodPost, "/configs", api.AddDCAConfigRequest{
		PairID:        pairID.Hex(),
		IsSwapAforB:   true,
		Min:           "100000000",
		Max:           "300000000",
		Amount:        "100",
		ScalingFactor: 1,
		DelayBucket:   "hourly",
	}, &ts.alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var aliceCfg api.IDResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aliceCfg))

	rec = ts.do(http.MethodPost, "/configs", api.AddDCAConfigRequest{
		PairID:        pairID.Hex(),
		IsSwapAforB:   false,
		Min:           "100000000",
		Max:           "300000000",
		Amount:        "200",
		ScalingFactor: 1,
		DelayBucket:   "0",
	}, &ts.bob)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/configs/"+aliceCfg.ID.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg types.DCAConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, ts.alice.addr, cfg.Creator)

	rec = ts.do(http.MethodGet, "/pairs/"+pairID.Hex()+"/segments?price=200000000&bucket=hourly", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	rec = ts.do(http.MethodPost, "/pairs/"+pairID.Hex()+"/execute", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res types.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, uint64(200), res.AmountOTC.Uint64())
	assert.True(t, res.AmountSwap.IsZero())

	rec = ts.do(http.MethodGet, "/pairs/"+pairID.Hex()+"/balances/"+ts.alice.addr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal api.BalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, uint64(900), bal.TokenA.Uint64())
	assert.Equal(t, uint64(200), bal.TokenB.Uint64())

	rec = ts.do(http.MethodGet, "/pairs/"+pairID.Hex()+"/executions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var execs []types.PairDCAExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execs))
	require.Len(t, execs, 1)
	assert.Equal(t, 2, execs[0].Processed)

	rec = ts.do(http.MethodGet, "/users/"+ts.alice.addr.Hex()+"/configs?sort=-creation_date", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var userCfgs []types.DCAConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &userCfgs))
	require.Len(t, userCfgs, 1)
	assert.Equal(t, uint64(1), userCfgs[0].ExecutionCount)

	rec = ts.do(http.MethodDelete, "/configs/"+aliceCfg.ID.Hex(), nil, &ts.bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(http.MethodDelete, "/configs/"+aliceCfg.ID.Hex(), nil, &ts.alice)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/configs/"+aliceCfg.ID.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	pairID := ts.addPair()
	ts.net.Ledger.Mint(tokenA, ts.alice.addr, uint256.NewInt(1000))

	body := api.TokenAmountRequest{Token: "A", Amount: "400"}
	path := "/pairs/" + pairID.Hex() + "/deposit"
	first := ts.do(http.MethodPost, path, body, &ts.alice, api.HeaderIdempotencyKey, "dep-1")
	require.Equal(t, http.StatusNoContent, first.Code, first.Body.String())
	second := ts.do(http.MethodPost, path, body, &ts.alice, api.HeaderIdempotencyKey, "dep-1")
	assert.Equal(t, http.StatusNoContent, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))

	rec := ts.do(http.MethodGet, "/pairs/"+pairID.Hex()+"/balances/"+ts.alice.addr.Hex(), nil, nil)
	var bal api.BalancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, uint64(400), bal.TokenA.Uint64())

	// a rejected call is stored too and replayed as is
	bad := api.TokenAmountRequest{Token: "A", Amount: "5000"}
	rec = ts.do(http.MethodPost, path, bad, &ts.alice, api.HeaderIdempotencyKey, "dep-2")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = ts.do(http.MethodPost, path, bad, &ts.alice, api.HeaderIdempotencyKey, "dep-2")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t)
	pairID := ts.addPair()

	rec := ts.do(http.MethodGet, "/events?since=0", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []struct {
		Seq  uint64 `json:"seq"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, types.EventTokenPairAdded, records[0].Name)

	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events/ws?since=0", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var backlog struct {
		Seq  uint64 `json:"seq"`
		Name string `json:"name"`
	}
	require.NoError(t, conn.ReadJSON(&backlog))
	assert.Equal(t, uint64(1), backlog.Seq)

	ts.deposit(ts.alice, pairID, "A", 10)
	var live struct {
		Seq  uint64 `json:"seq"`
		Name string `json:"name"`
	}
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, uint64(2), live.Seq)
	assert.Equal(t, types.EventTokenDeposit, live.Name)
}
