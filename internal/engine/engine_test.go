package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cwfork/internal/chain/chaintest"
	"cwfork/internal/models"
	"cwfork/internal/remote"
	"cwfork/internal/retry"
	"cwfork/internal/state"
	"cwfork/internal/vm/vmtest"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testPrefix = "wasm"

	codeToken       uint64 = 1
	codeSemantics   uint64 = 2
	codeRecursor    uint64 = 3
	codeCaller      uint64 = 4
	codeFailer      uint64 = 5
	codeBankSender  uint64 = 6
	codeQueryWriter uint64 = 7
	codePrinter     uint64 = 8
)

var (
	alice = models.AccountAddress(testPrefix, "alice")
	bob   = models.AccountAddress(testPrefix, "bob")
)

type fixture struct {
	ctx     context.Context
	eng     *Engine
	vm      *vmtest.VM
	chain   *chaintest.Client
	overlay *state.Overlay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := chaintest.New()
	v := vmtest.New()
	fake.Codes[codeToken] = v.Register("token", vmtest.Token())
	fake.Codes[codeSemantics] = v.Register("semantics", vmtest.Semantics())
	fake.Codes[codeRecursor] = v.Register("recursor", vmtest.Recursor())
	fake.Codes[codeCaller] = v.Register("caller", vmtest.Caller())
	fake.Codes[codeFailer] = v.Register("failer", vmtest.Failer())
	fake.Codes[codeBankSender] = v.Register("banksender", vmtest.BankSender())
	fake.Codes[codeQueryWriter] = v.Register("querywriter", vmtest.QueryWriter())
	fake.Codes[codePrinter] = v.Register("printer", vmtest.Printer())

	src := remote.NewSource(fake, remote.WithRetry(retry.NewNoRetryStrategy()))
	ov := state.NewOverlay(src)
	eng := New(v, ov, Config{
		Prefix: testPrefix,
		Block: models.BlockInfo{
			Height:  100,
			Time:    models.Uint64(1_700_000_000_000_000_000),
			ChainID: "testchain-1",
		},
	})
	return &fixture{ctx: context.Background(), eng: eng, vm: v, chain: fake, overlay: ov}
}

func (f *fixture) instantiate(t *testing.T, codeID uint64, msg string) string {
	t.Helper()
	res := f.eng.Run(f.ctx, Call{Kind: CallInstantiate, Sender: alice, CodeID: codeID, Msg: []byte(msg), Label: "test"})
	require.False(t, res.Failed(), res.ErrMsg())
	addr := res.ContractAddress()
	require.NotEmpty(t, addr)
	return addr
}

func (f *fixture) execute(contract, msg string, funds ...models.Coin) *Result {
	return f.eng.Run(f.ctx, Call{Kind: CallExecute, Sender: alice, Contract: contract, Msg: []byte(msg), Funds: funds})
}

func (f *fixture) storage(t *testing.T, contract, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.overlay.GetStorage(f.ctx, contract, []byte(key))
	require.NoError(t, err)
	return string(v), ok
}

func (f *fixture) balance(t *testing.T, addr, denom string) uint64 {
	t.Helper()
	b, err := f.overlay.GetBalance(f.ctx, addr, denom)
	require.NoError(t, err)
	return b.Uint64()
}

func forward(t *testing.T, fwd vmtest.Forward) string {
	t.Helper()
	b, err := json.Marshal(fwd)
	require.NoError(t, err)
	return string(b)
}

func TestEngine_TokenTransfer(t *testing.T) {
	f := newFixture(t)

	token := f.instantiate(t, codeToken,
		`{"initial_balances":[{"address":"`+alice+`","amount":"100000000000000000000"}]}`)

	res := f.execute(token, `{"transfer":{"recipient":"`+bob+`","amount":"999000"}}`)
	require.False(t, res.Failed(), res.ErrMsg())
	require.Len(t, res.Log(), 1)
	assert.Contains(t, res.Log()[0], `"key":"amount","value":"999000"`)

	q := f.eng.Query(f.ctx, token, []byte(`{"balance":{"address":"`+bob+`"}}`))
	require.False(t, q.Failed(), q.ErrMsg())
	assert.JSONEq(t, `{"balance":"999000"}`, string(q.Data()))

	q = f.eng.Query(f.ctx, token, []byte(`{"balance":{"address":"`+alice+`"}}`))
	require.False(t, q.Failed(), q.ErrMsg())
	assert.JSONEq(t, `{"balance":"99999999999999001000"}`, string(q.Data()))

	res = f.execute(token, `{"transfer":{"recipient":"`+bob+`","amount":"100000000000000000000"}}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindContractError, res.ErrKind())
	assert.Contains(t, res.ErrMsg(), "Cannot Sub")
}

func TestEngine_SemanticsBranches(t *testing.T) {
	f := newFixture(t)
	addr := f.instantiate(t, codeSemantics, `{}`)

	tests := []struct {
		name    string
		msg     string
		event   string
		wantErr string
	}{
		{"stored number", `{"process_data":{"data1":"x","data2":"4919"}}`, "wasm-branch1", ""},
		{"magic word", `{"process_data":{"data1":"DreamAcademy","data2":"0"}}`, "wasm-branch2", ""},
		{"neither", `{"process_data":{"data1":"x","data2":"0"}}`, "", "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.execute(addr, tt.msg)
			if tt.wantErr != "" {
				require.True(t, res.Failed())
				assert.Equal(t, tt.wantErr, res.ErrMsg())
				assert.Equal(t, KindContractError, res.ErrKind())
				assert.False(t, res.ErrKind().IsHost())
				return
			}
			require.False(t, res.Failed(), res.ErrMsg())
			events := res.Events()
			require.NotEmpty(t, events)
			assert.Equal(t, tt.event, events[len(events)-1].Type)
		})
	}
}

func TestEngine_QueryCannotWrite(t *testing.T) {
	f := newFixture(t)
	addr := f.instantiate(t, codeQueryWriter, `{}`)

	q := f.eng.Query(f.ctx, addr, []byte(`{}`))
	require.True(t, q.Failed())
	assert.True(t, errors.Is(q.Err(), ErrQueryWrite))
	assert.Equal(t, KindVMTrap, q.ErrKind())

	_, ok := f.storage(t, addr, "sneaky")
	assert.False(t, ok)

	// A nested query that writes aborts the whole execute
	height := f.eng.Block().Height
	res := f.execute(addr, `{}`)
	require.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err(), ErrQueryWrite))
	assert.Equal(t, KindVMTrap, res.ErrKind())
	assert.Equal(t, height, f.eng.Block().Height)
	assert.Zero(t, f.overlay.JournalLen())
}

func TestEngine_Coverage(t *testing.T) {
	f := newFixture(t)
	addr := f.instantiate(t, codeSemantics, `{}`)

	res := f.execute(addr, `{"process_data":{"data1":"DreamAcademy","data2":"0"}}`)
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Empty(t, res.CodeCoverageForAddress(addr))

	f.eng.SetCoverage(true)
	res = f.execute(addr, `{"process_data":{"data1":"DreamAcademy","data2":"0"}}`)
	require.False(t, res.Failed(), res.ErrMsg())
	cov := res.CodeCoverageForAddress(addr)
	require.Len(t, cov, 1)
	assert.Equal(t, "semantics-coverage", string(cov[0]))

	// Coverage survives reverts
	res = f.execute(addr, `{"process_data":{"data1":"x","data2":"0"}}`)
	require.True(t, res.Failed())
	assert.Len(t, res.CodeCoverageForAddress(addr), 1)
	assert.Len(t, f.eng.Coverage()[addr], 2)
}

func TestEngine_DepthBound(t *testing.T) {
	f := newFixture(t)
	addr := f.instantiate(t, codeRecursor, `{}`)

	res := f.execute(addr, `{"recurse":{"depth":10}}`)
	require.False(t, res.Failed(), res.ErrMsg())
	for _, key := range []string{"visited/10", "visited/0"} {
		_, ok := f.storage(t, addr, key)
		assert.True(t, ok, key)
	}

	res = f.execute(addr, `{"recurse":{"depth":11}}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindDepthExceeded, res.ErrKind())
	assert.True(t, res.ErrKind().IsHost())
	_, ok := f.storage(t, addr, "visited/11")
	assert.False(t, ok, "writes of a call that exceeded the depth are reverted")
}

func TestEngine_FailedSubMessageRevertsEverything(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	failer := f.instantiate(t, codeFailer, `{}`)
	require.NoError(t, f.overlay.CheatBalance(alice, models.Coin{Denom: "uatom", Amount: "1000"}))

	msg := forward(t, vmtest.Forward{
		Target:  failer,
		Msg:     json.RawMessage(`{"fail":"boom"}`),
		ReplyOn: models.ReplyNever,
		Write:   "dirty",
	})
	res := f.execute(caller, msg, models.Coin{Denom: "uatom", Amount: "10"})
	require.True(t, res.Failed())
	assert.Equal(t, "boom", res.ErrMsg())
	assert.Equal(t, KindContractError, res.ErrKind())
	assert.Empty(t, res.Log())

	_, ok := f.storage(t, caller, "caller")
	assert.False(t, ok)
	_, ok = f.storage(t, failer, "failer")
	assert.False(t, ok)
	assert.Equal(t, uint64(1000), f.balance(t, alice, "uatom"))
	assert.Equal(t, uint64(0), f.balance(t, caller, "uatom"))
}

func TestEngine_TrapIsVMTrap(t *testing.T) {
	f := newFixture(t)
	failer := f.instantiate(t, codeFailer, `{}`)

	res := f.execute(failer, `{"trap":{}}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindVMTrap, res.ErrKind())
	assert.Contains(t, res.ErrMsg(), "failer trapped")
}

func TestEngine_ReplySwallowsError(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	failer := f.instantiate(t, codeFailer, `{}`)

	msg := forward(t, vmtest.Forward{
		Target:  failer,
		Msg:     json.RawMessage(`{"fail":"boom"}`),
		ReplyOn: models.ReplyError,
		ID:      7,
		Write:   "kept",
	})
	res := f.execute(caller, msg)
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Equal(t, "recovered", string(res.Data()))

	v, ok := f.storage(t, caller, "caller")
	require.True(t, ok)
	assert.Equal(t, "kept", v)
	v, ok = f.storage(t, caller, "reply/7")
	require.True(t, ok)
	assert.Equal(t, "err:boom", v)
	_, ok = f.storage(t, failer, "failer")
	assert.False(t, ok, "writes of the failed sub-message are reverted")

	for _, entry := range res.Log() {
		assert.NotContains(t, entry, failer, "log entries of the failed sub-message are discarded")
	}
	require.Len(t, res.Log(), 2)
	assert.Contains(t, res.Log()[1], `"kind":"reply"`)
}

func TestEngine_ReplyRefusalFailsParent(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	failer := f.instantiate(t, codeFailer, `{}`)

	msg := forward(t, vmtest.Forward{
		Target:  failer,
		Msg:     json.RawMessage(`{"fail":"fail-reply"}`),
		ReplyOn: models.ReplyAlways,
		ID:      1,
		Write:   "lost",
	})
	res := f.execute(caller, msg)
	require.True(t, res.Failed())
	assert.Equal(t, "reply refused", res.ErrMsg())
	_, ok := f.storage(t, caller, "caller")
	assert.False(t, ok)
}

func TestEngine_ReplyOnSuccess(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	sem := f.instantiate(t, codeSemantics, `{}`)

	msg := forward(t, vmtest.Forward{
		Target:  sem,
		Msg:     json.RawMessage(`{"process_data":{"data1":"DreamAcademy","data2":"0"}}`),
		ReplyOn: models.ReplySuccess,
		ID:      3,
	})
	res := f.execute(caller, msg)
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Equal(t, "replied", string(res.Data()), "reply data replaces the caller's data")

	v, _ := f.storage(t, caller, "reply/3")
	assert.Equal(t, "ok", v)

	// Events in depth-first emission order
	var types []string
	for _, ev := range res.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"wasm", "wasm-branch2", "wasm"}, types)
}

func TestEngine_ReplyNotRequestedKeepsCallerData(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	sem := f.instantiate(t, codeSemantics, `{}`)

	msg := forward(t, vmtest.Forward{
		Target:  sem,
		Msg:     json.RawMessage(`{"process_data":{"data1":"DreamAcademy","data2":"0"}}`),
		ReplyOn: models.ReplyError,
	})
	res := f.execute(caller, msg)
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Equal(t, "caller-data", string(res.Data()))
}

func TestEngine_BlockAdvancesOnlyOnSuccess(t *testing.T) {
	f := newFixture(t)
	start := f.eng.Block()

	addr := f.instantiate(t, codeSemantics, `{}`)
	after := f.eng.Block()
	assert.Equal(t, start.Height+1, after.Height)
	assert.Equal(t, start.Time+models.Uint64(BlockEpoch.Nanoseconds()), after.Time)

	res := f.execute(addr, `{"process_data":{"data1":"x","data2":"0"}}`)
	require.True(t, res.Failed())
	assert.Equal(t, after, f.eng.Block())
	assert.Equal(t, after.Height, res.Height())

	f.eng.Query(f.ctx, addr, []byte(`{}`))
	assert.Equal(t, after, f.eng.Block())
}

func TestEngine_BankConservation(t *testing.T) {
	f := newFixture(t)
	sender := f.instantiate(t, codeBankSender, `{}`)
	require.NoError(t, f.overlay.CheatBalance(alice, models.Coin{Denom: "uatom", Amount: "500"}))

	total := func() uint64 {
		return f.balance(t, alice, "uatom") + f.balance(t, bob, "uatom") + f.balance(t, sender, "uatom")
	}
	before := total()

	res := f.execute(sender, `{"send":{"to":"`+bob+`","amount":[{"denom":"uatom","amount":"60"}]}}`,
		models.Coin{Denom: "uatom", Amount: "100"})
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Equal(t, uint64(400), f.balance(t, alice, "uatom"))
	assert.Equal(t, uint64(40), f.balance(t, sender, "uatom"))
	assert.Equal(t, uint64(60), f.balance(t, bob, "uatom"))
	assert.Equal(t, before, total())

	var types []string
	for _, ev := range res.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"coin_spent", "coin_received", "transfer", "coin_spent", "coin_received", "transfer"}, types)

	res = f.execute(sender, `{"send":{"to":"`+bob+`","amount":[{"denom":"uatom","amount":"1000"}]}}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindInsufficientFunds, res.ErrKind())
	assert.Contains(t, res.ErrMsg(), "insufficient balance (owner: "+sender)
	assert.Equal(t, before, total())
}

func TestEngine_Printer(t *testing.T) {
	f := newFixture(t)
	addr := f.instantiate(t, codePrinter, `{}`)

	res := f.execute(addr, `{"print":{"msg":"hello "}}`)
	require.False(t, res.Failed(), res.ErrMsg())
	assert.Equal(t, "hello ", res.Stdout())
}

func TestEngine_InstanceSeqRollsBack(t *testing.T) {
	f := newFixture(t)

	res := f.eng.Run(f.ctx, Call{Kind: CallInstantiate, Sender: alice, CodeID: 99, Msg: []byte(`{}`)})
	require.True(t, res.Failed())
	assert.Equal(t, KindCodeNotFound, res.ErrKind())

	addr := f.instantiate(t, codeSemantics, `{}`)
	want, err := models.ContractAddress(testPrefix, codeSemantics, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	second := f.instantiate(t, codeSemantics, `{}`)
	assert.NotEqual(t, addr, second)
}

func TestEngine_ContractNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.execute(models.AccountAddress(testPrefix, "nobody"), `{}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindContractNotFound, res.ErrKind())
}

func TestEngine_CallTrace(t *testing.T) {
	f := newFixture(t)
	caller := f.instantiate(t, codeCaller, `{}`)
	failer := f.instantiate(t, codeFailer, `{}`)

	f.eng.SetCallTrace(true)
	msg := forward(t, vmtest.Forward{Target: failer, Msg: json.RawMessage(`{"fail":"boom"}`), ReplyOn: models.ReplyError, ID: 2})
	res := f.execute(caller, msg)
	require.False(t, res.Failed(), res.ErrMsg())

	graph, labels := res.CallTrace()
	assert.Equal(t, "top", labels[0])
	require.Len(t, graph[0], 1)
	root := graph[0][0]
	assert.True(t, strings.HasPrefix(labels[root], caller+":execute("), labels[root])

	// caller -> failer (-> error leaf), then caller's reply
	children := graph[root]
	require.Len(t, children, 2)
	assert.True(t, strings.HasPrefix(labels[children[0]], failer+":execute("))
	require.Len(t, graph[children[0]], 1)
	assert.Equal(t, "boom", labels[graph[children[0]][0]])
	assert.True(t, strings.HasPrefix(labels[children[1]], caller+":reply("))
}

func TestEngine_UnsupportedMessage(t *testing.T) {
	f := newFixture(t)
	f.chain.Codes[20] = f.vm.Register("staker", &vmtest.Contract{
		Instantiate: func(c *vmtest.Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *vmtest.Ctx, msg []byte) (*models.Response, error) {
			return &models.Response{Messages: []models.SubMsg{{
				ReplyOn: models.ReplyNever,
				Msg:     models.CosmosMsg{Staking: json.RawMessage(`{"delegate":{}}`)},
			}}}, nil
		},
	})
	addr := f.instantiate(t, 20, `{}`)

	res := f.execute(addr, `{}`)
	require.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err(), ErrUnsupportedMessage))
	assert.Equal(t, KindHostError, res.ErrKind())
}

func TestEngine_QueryRequest(t *testing.T) {
	f := newFixture(t)
	token := f.instantiate(t, codeToken,
		`{"initial_balances":[{"address":"`+alice+`","amount":"5"}]}`)
	require.NoError(t, f.overlay.CheatBalance(bob, models.NewCoin("uatom", uint256.NewInt(42))))

	raw, err := f.eng.QueryRequest(f.ctx, models.QueryRequest{Wasm: &models.WasmQuery{
		Raw: &models.RawQuery{ContractAddr: token, Key: []byte("balance/" + alice)},
	}})
	require.NoError(t, err)
	assert.Equal(t, "5", string(raw))

	info, err := f.eng.QueryRequest(f.ctx, models.QueryRequest{Wasm: &models.WasmQuery{
		ContractInfo: &models.ContractInfoQuery{ContractAddr: token},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"code_id":1,"creator":"`+alice+`","pinned":false}`, string(info))

	bal, err := f.eng.QueryRequest(f.ctx, models.QueryRequest{Bank: &models.BankQuery{
		Balance: &models.BalanceQuery{Address: bob, Denom: "uatom"},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":{"denom":"uatom","amount":"42"}}`, string(bal))

	_, err = f.eng.QueryRequest(f.ctx, models.QueryRequest{Wasm: &models.WasmQuery{
		Smart: &models.SmartQuery{ContractAddr: models.AccountAddress(testPrefix, "ghost"), Msg: []byte(`{}`)},
	}})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindContractNotFound, ce.Kind)

	_, err = f.eng.QueryRequest(f.ctx, models.QueryRequest{Custom: json.RawMessage(`{}`)})
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "unsupported_request")
}

func TestEngine_RemoteUnavailableIsFatal(t *testing.T) {
	f := newFixture(t)
	f.chain.Err = errors.New("connection refused")

	res := f.execute(models.AccountAddress(testPrefix, "remote"), `{}`)
	require.True(t, res.Failed())
	assert.Equal(t, KindRemoteUnavailable, res.ErrKind())
}
