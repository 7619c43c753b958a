package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/flashdex/flashdex/pkg/exchange"
	"github.com/flashdex/flashdex/pkg/token"
)

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000000Ec")
	feeAcct      = common.HexToAddress("0xFee0000000000000000000000000000000000000")
	deployer     = common.HexToAddress("0xDD00000000000000000000000000000000000000")
	alice        = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob          = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

type testServer struct {
	srv   *Server
	eng   *exchange.Exchange
	fdx   *token.Token
	musdc *token.Token
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := token.NewRegistry()
	fdx := token.New("Flashdex", "FDX", 1_000_000, deployer)
	musdc := token.New("Mock USDC", "mUSDC", 1_000_000, deployer)
	reg.Register(fdx)
	reg.Register(musdc)

	eng, err := exchange.New(exchange.Config{
		Address:    exchangeAddr,
		FeeAccount: feeAcct,
		FeePercent: 10,
	}, reg)
	if err != nil {
		t.Fatalf("failed to create exchange: %v", err)
	}

	return &testServer{
		srv:   NewServer(eng, reg, zap.NewNop()),
		eng:   eng,
		fdx:   fdx,
		musdc: musdc,
	}
}

// fund puts tokens in an account's wallet and approves the exchange, so a
// deposit request can succeed.
func (ts *testServer) fund(t *testing.T, tok *token.Token, account common.Address, units int64) {
	t.Helper()
	amount := token.Units(units)
	if err := tok.Transfer(deployer, account, amount); err != nil {
		t.Fatalf("fund transfer failed: %v", err)
	}
	if err := tok.Approve(account, exchangeAddr, amount); err != nil {
		t.Fatalf("fund approve failed: %v", err)
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestGetConfig(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	cfg := decode[ConfigInfo](t, rec)
	if cfg.Exchange != exchangeAddr.Hex() {
		t.Errorf("exchange = %s, want %s", cfg.Exchange, exchangeAddr.Hex())
	}
	if cfg.FeePercent != 10 {
		t.Errorf("feePercent = %d, want 10", cfg.FeePercent)
	}
}

func TestGetAssets(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/assets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	assets := decode[[]AssetInfo](t, rec)
	if len(assets) != 2 {
		t.Fatalf("asset count = %d, want 2", len(assets))
	}
	symbols := map[string]bool{}
	for _, a := range assets {
		symbols[a.Symbol] = true
		if a.OnHand != "0" {
			t.Errorf("%s onHand = %s, want 0", a.Symbol, a.OnHand)
		}
	}
	if !symbols["FDX"] || !symbols["mUSDC"] {
		t.Errorf("symbols = %v, want FDX and mUSDC", symbols)
	}
}

func TestDepositWithdrawEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.fund(t, ts.fdx, alice, 100)

	amount := token.Units(100).String()
	rec := ts.do(t, "POST", "/api/v1/deposits", MoveRequest{
		Asset:   ts.fdx.Address().Hex(),
		Account: alice.Hex(),
		Amount:  amount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	bal := decode[BalanceInfo](t, rec)
	if bal.Balance != amount {
		t.Errorf("balance = %s, want %s", bal.Balance, amount)
	}

	// balance endpoint agrees
	path := fmt.Sprintf("/api/v1/balances/%s/%s", ts.fdx.Address().Hex(), alice.Hex())
	rec = ts.do(t, "GET", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	if got := decode[BalanceInfo](t, rec); got.Balance != amount {
		t.Errorf("balance = %s, want %s", got.Balance, amount)
	}

	rec = ts.do(t, "POST", "/api/v1/withdrawals", MoveRequest{
		Asset:   ts.fdx.Address().Hex(),
		Account: alice.Hex(),
		Amount:  token.Units(40).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[BalanceInfo](t, rec); got.Balance != token.Units(60).String() {
		t.Errorf("balance = %s, want %s", got.Balance, token.Units(60))
	}
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.fund(t, ts.fdx, alice, 100)
	ts.fund(t, ts.musdc, bob, 20)

	ts.do(t, "POST", "/api/v1/deposits", MoveRequest{ts.fdx.Address().Hex(), alice.Hex(), token.Units(100).String()})
	ts.do(t, "POST", "/api/v1/deposits", MoveRequest{ts.musdc.Address().Hex(), bob.Hex(), token.Units(20).String()})

	rec := ts.do(t, "POST", "/api/v1/orders", MakeOrderRequest{
		Maker:      alice.Hex(),
		AssetGet:   ts.musdc.Address().Hex(),
		AmountGet:  token.Units(10).String(),
		AssetGive:  ts.fdx.Address().Hex(),
		AmountGive: token.Units(10).String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("make status = %d, body %s", rec.Code, rec.Body.String())
	}
	o := decode[OrderInfo](t, rec)
	if o.ID != 1 || o.Status != "open" {
		t.Fatalf("order = %+v, want id 1 open", o)
	}

	// list and single fetch
	rec = ts.do(t, "GET", "/api/v1/orders", nil)
	if got := decode[[]OrderInfo](t, rec); len(got) != 1 {
		t.Errorf("order list length = %d, want 1", len(got))
	}
	rec = ts.do(t, "GET", "/api/v1/orders/1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get order status = %d", rec.Code)
	}

	// fill by bob
	rec = ts.do(t, "POST", "/api/v1/orders/1/fill", OrderActionRequest{Caller: bob.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("fill status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[OrderInfo](t, rec); got.Status != "filled" {
		t.Errorf("status = %s, want filled", got.Status)
	}

	// settlement checked through the balance endpoint
	path := fmt.Sprintf("/api/v1/balances/%s/%s", ts.musdc.Address().Hex(), feeAcct.Hex())
	rec = ts.do(t, "GET", path, nil)
	if got := decode[BalanceInfo](t, rec); got.Balance != token.Units(1).String() {
		t.Errorf("fee balance = %s, want %s", got.Balance, token.Units(1))
	}

	// state endpoint reflects the activity
	rec = ts.do(t, "GET", "/api/v1/state", nil)
	st := decode[StateInfo](t, rec)
	if st.OrderCount != 1 {
		t.Errorf("orderCount = %d, want 1", st.OrderCount)
	}
	if st.Digest == "" || st.Digest == (common.Hash{}).Hex() {
		t.Errorf("digest = %q, want nonzero", st.Digest)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.fund(t, ts.fdx, alice, 100)
	ts.do(t, "POST", "/api/v1/deposits", MoveRequest{ts.fdx.Address().Hex(), alice.Hex(), token.Units(100).String()})
	rec := ts.do(t, "POST", "/api/v1/orders", MakeOrderRequest{
		Maker:      alice.Hex(),
		AssetGet:   ts.musdc.Address().Hex(),
		AmountGet:  token.Units(10).String(),
		AssetGive:  ts.fdx.Address().Hex(),
		AmountGive: token.Units(10).String(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup order failed: %d", rec.Code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name: "withdraw more than custody", method: "POST", path: "/api/v1/withdrawals",
			body: MoveRequest{ts.fdx.Address().Hex(), alice.Hex(), token.Units(101).String()},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "deposit without allowance", method: "POST", path: "/api/v1/deposits",
			body: MoveRequest{ts.fdx.Address().Hex(), bob.Hex(), token.Units(1).String()},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "deposit unknown asset", method: "POST", path: "/api/v1/deposits",
			body: MoveRequest{alice.Hex(), alice.Hex(), token.Units(1).String()},
			want: http.StatusNotFound,
		},
		{
			name: "cancel by non-maker", method: "POST", path: "/api/v1/orders/1/cancel",
			body: OrderActionRequest{Caller: bob.Hex()},
			want: http.StatusForbidden,
		},
		{
			name: "fill nonexistent order", method: "POST", path: "/api/v1/orders/99/fill",
			body: OrderActionRequest{Caller: bob.Hex()},
			want: http.StatusConflict,
		},
		{
			name: "get nonexistent order", method: "GET", path: "/api/v1/orders/99",
			want: http.StatusNotFound,
		},
		{
			name: "malformed address", method: "POST", path: "/api/v1/deposits",
			body: MoveRequest{"not-an-address", alice.Hex(), "1"},
			want: http.StatusBadRequest,
		},
		{
			name: "malformed amount", method: "POST", path: "/api/v1/deposits",
			body: MoveRequest{ts.fdx.Address().Hex(), alice.Hex(), "ten"},
			want: http.StatusBadRequest,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := ts.do(t, c.method, c.path, c.body)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, c.want, rec.Body.String())
			}
			var er ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil || er.Error == "" {
				t.Errorf("expected error body, got %q", rec.Body.String())
			}
		})
	}

	// double cancel: first by the maker succeeds, second conflicts
	rec = ts.do(t, "POST", "/api/v1/orders/1/cancel", OrderActionRequest{Caller: alice.Hex()})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	rec = ts.do(t, "POST", "/api/v1/orders/1/cancel", OrderActionRequest{Caller: alice.Hex()})
	if rec.Code != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", rec.Code)
	}
}

func TestEventsEndpointEphemeral(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// no store attached: empty array, never null
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty array", body)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
