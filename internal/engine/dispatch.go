package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cwfork/internal/metrics"
	"cwfork/internal/models"
	"cwfork/internal/trace"
	"cwfork/internal/vm"
)

type frameKind int

const (
	frameExecute frameKind = iota
	frameInstantiate
	frameReply
	frameBank
	frameUnsupported
)

func (k frameKind) String() string {
	switch k {
	case frameExecute:
		return "execute"
	case frameInstantiate:
		return "instantiate"
	case frameReply:
		return "reply"
	case frameBank:
		return "bank"
	}
	return "unsupported"
}

// frame is one message being executed. Frames are pushed for the top-level
// call, for every dispatched sub-message and for every reply.
type frame struct {
	kind  frameKind
	depth int

	sender   string
	contract string
	codeID   uint64
	label    string
	admin    string
	msg      []byte
	funds    models.Coins
	bank     *models.BankMsg
	reply    *models.Reply
	msgKind  string

	// how the emitting contract wants to hear back
	subID   uint64
	replyOn models.ReplyOn

	started     bool
	snapshot    int
	logMark     int
	traceParent int

	events  []models.Event
	data    []byte
	pending []models.SubMsg
}

func (f *frame) traceLabel() string {
	switch f.kind {
	case frameBank:
		return fmt.Sprintf("%s:%s", f.sender, f.msgKind)
	case frameReply:
		b, _ := json.Marshal(f.reply)
		return trace.Label(f.contract, "reply", b)
	case frameUnsupported:
		return fmt.Sprintf("%s:%s", f.sender, f.msgKind)
	}
	return trace.Label(f.contract, f.kind.String(), f.msg)
}

// execution is the mutable context of one top-level call
type execution struct {
	e *Engine

	// tx is set for calls that carry transaction info in their env
	tx bool

	logs     []string
	stdout   strings.Builder
	trace    *trace.CallTrace
	coverage *trace.Coverage
}

func (e *Engine) newExecution(tx bool) *execution {
	return &execution{
		e:        e,
		tx:       tx,
		trace:    trace.NewCallTrace(e.callTrace),
		coverage: trace.NewCoverage(e.coverage.Enabled()),
	}
}

// run drives the frame stack until root is done. Sub-messages are entered in
// emission order, depth first. It returns the first unhandled failure.
func (x *execution) run(ctx context.Context, root *frame) error {
	stack := []*frame{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if !top.started {
			if err := x.enter(ctx, top); err != nil {
				var ferr error
				if stack, ferr = x.fail(stack, err); ferr != nil {
					return ferr
				}
			}
			continue
		}

		if len(top.pending) > 0 {
			sub := top.pending[0]
			top.pending = top.pending[1:]
			stack = append(stack, x.child(top, sub))
			continue
		}

		stack = stack[:len(stack)-1]
		x.trace.End(top.traceParent)
		if len(stack) > 0 {
			stack = x.succeed(stack, top)
		}
	}
	return nil
}

// succeed hands the results of done to the frame below it
func (x *execution) succeed(stack []*frame, done *frame) []*frame {
	parent := stack[len(stack)-1]
	parent.events = append(parent.events, done.events...)

	if done.kind == frameReply {
		if done.data != nil {
			parent.data = done.data
		}
		return stack
	}

	if done.replyOn.OnSuccess() {
		result := models.SubMsgResult{Ok: &models.SubMsgResponse{
			Events: append([]models.Event{}, done.events...),
			Data:   done.data,
		}}
		stack = append(stack, x.replyFrame(parent, done.subID, result))
	}
	return stack
}

// fail unwinds the stack after the top frame failed with err. Each popped
// frame is reverted and loses its log entries. Unwinding stops at the first
// frame whose emitter asked to hear about errors, by pushing that reply.
func (x *execution) fail(stack []*frame, err error) ([]*frame, error) {
	x.trace.Fail(err.Error())
	fatal := isFatal(err)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x.e.overlay.RevertToSnapshot(top.snapshot)
		x.logs = x.logs[:top.logMark]
		x.trace.End(top.traceParent)

		if fatal || len(stack) == 0 {
			continue
		}
		if top.kind != frameReply && top.replyOn.OnError() {
			parent := stack[len(stack)-1]
			msg := err.Error()
			slog.Debug("Sub-message failed, handing error to reply",
				"contract", parent.contract, "id", top.subID, "error", msg)
			return append(stack, x.replyFrame(parent, top.subID, models.SubMsgResult{Err: &msg})), nil
		}
	}
	return nil, err
}

// child builds the frame for a sub-message emitted by parent
func (x *execution) child(parent *frame, sub models.SubMsg) *frame {
	metrics.SubMessagesDispatched.WithLabelValues(sub.Msg.Kind()).Inc()

	f := &frame{
		depth:   parent.depth + 1,
		sender:  parent.contract,
		subID:   sub.ID,
		replyOn: sub.ReplyOn,
		msgKind: sub.Msg.Kind(),
	}
	if f.replyOn == "" {
		f.replyOn = models.ReplyNever
	}

	m := sub.Msg
	switch {
	case m.Wasm != nil && m.Wasm.Execute != nil:
		f.kind = frameExecute
		f.contract = m.Wasm.Execute.ContractAddr
		f.msg = m.Wasm.Execute.Msg
		f.funds = m.Wasm.Execute.Funds.NonNil()
	case m.Wasm != nil && m.Wasm.Instantiate != nil:
		f.kind = frameInstantiate
		f.codeID = m.Wasm.Instantiate.CodeID
		f.msg = m.Wasm.Instantiate.Msg
		f.funds = m.Wasm.Instantiate.Funds.NonNil()
		f.label = m.Wasm.Instantiate.Label
		if m.Wasm.Instantiate.Admin != nil {
			f.admin = *m.Wasm.Instantiate.Admin
		}
	case m.Bank != nil && (m.Bank.Send != nil || m.Bank.Burn != nil):
		f.kind = frameBank
		f.bank = m.Bank
	default:
		f.kind = frameUnsupported
	}
	return f
}

// replyFrame runs the reply entry point of parent's contract. It executes at
// the parent's depth since the reply belongs to the parent's call.
func (x *execution) replyFrame(parent *frame, id uint64, result models.SubMsgResult) *frame {
	return &frame{
		kind:     frameReply,
		depth:    parent.depth,
		sender:   parent.contract,
		contract: parent.contract,
		reply:    &models.Reply{ID: id, Result: result},
		replyOn:  models.ReplyNever,
	}
}

// enter starts f: it takes the frame snapshot, records the trace node and
// runs the frame's message.
func (x *execution) enter(ctx context.Context, f *frame) error {
	f.started = true
	f.snapshot = x.e.overlay.Snapshot()
	f.logMark = len(x.logs)

	var setupErr error
	if f.kind == frameInstantiate {
		seq := x.e.overlay.NextInstanceSeq()
		f.contract, setupErr = models.ContractAddress(x.e.prefix, f.codeID, seq, f.sender)
	}
	f.traceParent = x.trace.Begin(f.traceLabel())
	if setupErr != nil {
		return fmt.Errorf("failed to derive contract address: %w", setupErr)
	}

	if f.depth > x.e.maxDepth {
		metrics.DepthExceeded.Inc()
		return fmt.Errorf("%w: depth %d exceeds limit %d", ErrDepthExceeded, f.depth, x.e.maxDepth)
	}

	slog.Debug("Dispatching frame", "kind", f.kind, "contract", f.contract, "depth", f.depth)

	switch f.kind {
	case frameInstantiate:
		return x.instantiate(ctx, f)
	case frameExecute:
		return x.execute(ctx, f)
	case frameReply:
		return x.replyTo(ctx, f)
	case frameBank:
		return x.bankMsg(ctx, f)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedMessage, f.msgKind)
}

func (x *execution) instantiate(ctx context.Context, f *frame) error {
	code, err := x.e.overlay.Code(ctx, f.codeID)
	if err != nil {
		return err
	}
	x.e.overlay.BindContract(f.contract, f.codeID, code, f.sender, f.admin, f.label)

	events, err := x.transfer(ctx, f.sender, f.contract, f.funds)
	if err != nil {
		return err
	}
	f.events = append(f.events, events...)

	resp, err := x.invoke(ctx, f, code)
	if err != nil {
		return err
	}

	created := models.Event{Type: "instantiate", Attributes: []models.Attribute{
		{Key: "_contract_address", Value: f.contract},
		{Key: "code_id", Value: fmt.Sprint(f.codeID)},
	}}
	f.events = append(f.events, created)
	x.logs = append(x.logs, models.LogEntry{
		Contract: f.contract,
		Kind:     "instantiate",
		Events:   []models.Event{created},
	}.Encode())

	x.handle(f, resp)
	return nil
}

func (x *execution) execute(ctx context.Context, f *frame) error {
	rec, err := x.e.overlay.GetCode(ctx, f.contract)
	if err != nil {
		return err
	}

	events, err := x.transfer(ctx, f.sender, f.contract, f.funds)
	if err != nil {
		return err
	}
	f.events = append(f.events, events...)

	resp, err := x.invoke(ctx, f, rec.Code)
	if err != nil {
		return err
	}
	x.handle(f, resp)
	return nil
}

func (x *execution) replyTo(ctx context.Context, f *frame) error {
	rec, err := x.e.overlay.GetCode(ctx, f.contract)
	if err != nil {
		return err
	}
	metrics.RepliesInvoked.Inc()

	resp, err := x.invoke(ctx, f, rec.Code)
	if err != nil {
		return err
	}
	x.handle(f, resp)
	return nil
}

// invoke loads code and runs the entry point matching f
func (x *execution) invoke(ctx context.Context, f *frame, code []byte) (*models.Response, error) {
	inst, err := x.e.vm.Load(ctx, code, x.newHost(f.contract, f.depth, false))
	if err != nil {
		return nil, fmt.Errorf("failed to load contract %s: %w", f.contract, err)
	}
	defer inst.Close(ctx)

	env, err := json.Marshal(x.env(f.contract, x.tx))
	if err != nil {
		return nil, fmt.Errorf("failed to encode env: %w", err)
	}

	var raw []byte
	switch f.kind {
	case frameInstantiate, frameExecute:
		info, merr := json.Marshal(models.MessageInfo{Sender: f.sender, Funds: f.funds.NonNil()})
		if merr != nil {
			return nil, fmt.Errorf("failed to encode message info: %w", merr)
		}
		if f.kind == frameInstantiate {
			raw, err = inst.Instantiate(ctx, env, info, f.msg)
		} else {
			raw, err = inst.Execute(ctx, env, info, f.msg)
		}
	case frameReply:
		reply, merr := json.Marshal(f.reply)
		if merr != nil {
			return nil, fmt.Errorf("failed to encode reply: %w", merr)
		}
		raw, err = inst.Reply(ctx, env, reply)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, f.kind)
	}
	x.captureCoverage(ctx, f.contract, inst)
	if err != nil {
		return nil, err
	}

	var result models.ContractResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed contract result: %v", vm.ErrTrap, err)
	}
	if result.Err != nil {
		return nil, contractError(*result.Err)
	}
	if result.Ok == nil {
		return nil, fmt.Errorf("%w: contract result has neither ok nor error", vm.ErrTrap)
	}
	return result.Ok, nil
}

// handle records a successful response and queues its sub-messages
func (x *execution) handle(f *frame, resp *models.Response) {
	x.logs = append(x.logs, models.LogEntry{
		Contract:   f.contract,
		Kind:       f.kind.String(),
		Attributes: resp.Attributes,
		Events:     resp.Events,
		Data:       resp.Data,
	}.Encode())

	f.events = append(f.events, models.WasmEvents(f.contract, resp)...)
	f.data = resp.Data
	f.pending = resp.Messages
}

func (x *execution) env(contract string, tx bool) models.Env {
	env := models.Env{
		Block:    x.e.block,
		Contract: models.ContractInfo{Address: contract},
	}
	if tx {
		env.Transaction = &models.TransactionInfo{Index: 0}
	}
	return env
}

// captureCoverage stores the coverage buffer of the run inst just finished
func (x *execution) captureCoverage(ctx context.Context, contract string, inst vm.Instance) {
	if !x.coverage.Enabled() {
		return
	}
	buf, err := inst.Coverage(ctx)
	if err != nil {
		slog.Warn("Failed to dump coverage", "contract", contract, "error", err)
		return
	}
	x.coverage.Capture(contract, buf)
}
