// Package engine executes CosmWasm messages against a state overlay.
//
// A top-level call runs inside one overlay snapshot. Sub-messages are driven
// by an explicit frame stack so failures can be unwound frame by frame; the
// whole call is committed on success and reverted on any unhandled failure.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cwfork/internal/metrics"
	"cwfork/internal/models"
	"cwfork/internal/state"
	"cwfork/internal/trace"
	"cwfork/internal/vm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth bounds sub-message and query nesting
const DefaultMaxDepth = 10

// BlockEpoch is how far the block clock moves after a committed call
const BlockEpoch = time.Second

// CallKind selects the entry point of a top-level call
type CallKind string

const (
	CallInstantiate CallKind = "instantiate"
	CallExecute     CallKind = "execute"
)

// Call is a top-level message signed by Sender
type Call struct {
	Kind   CallKind
	Sender string

	// Contract is the execute target
	Contract string

	// CodeID, Label and Admin are used by instantiate
	CodeID uint64
	Label  string
	Admin  string

	Msg   []byte
	Funds models.Coins
}

// Config holds the engine settings
type Config struct {
	Prefix   string
	MaxDepth int
	Block    models.BlockInfo
}

// Engine runs calls against an overlay. It is not safe for concurrent use.
type Engine struct {
	vm       vm.VM
	overlay  *state.Overlay
	prefix   string
	maxDepth int
	block    models.BlockInfo

	coverage  *trace.Coverage
	callTrace bool

	tracer oteltrace.Tracer
}

// New creates an engine. The block is the first block calls execute in.
func New(machine vm.VM, overlay *state.Overlay, cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	metrics.BlockHeight.Set(float64(cfg.Block.Height))
	return &Engine{
		vm:       machine,
		overlay:  overlay,
		prefix:   cfg.Prefix,
		maxDepth: cfg.MaxDepth,
		block:    cfg.Block,
		coverage: trace.NewCoverage(false),
		tracer:   otel.Tracer("cwfork/engine"),
	}
}

func (e *Engine) Prefix() string { return e.prefix }

func (e *Engine) MaxDepth() int { return e.maxDepth }

func (e *Engine) Overlay() *state.Overlay { return e.overlay }

func (e *Engine) VM() vm.VM { return e.vm }

// Block returns the block the next call executes in
func (e *Engine) Block() models.BlockInfo { return e.block }

// SetBlockHeight overrides the current block height
func (e *Engine) SetBlockHeight(height uint64) {
	e.block.Height = height
	metrics.BlockHeight.Set(float64(height))
}

// SetBlockTime overrides the current block time, in nanoseconds since epoch
func (e *Engine) SetBlockTime(nanos uint64) {
	e.block.Time = models.Uint64(nanos)
}

func (e *Engine) advanceBlock() {
	e.block.Height++
	e.block.Time += models.Uint64(BlockEpoch.Nanoseconds())
	metrics.BlockHeight.Set(float64(e.block.Height))
}

// SetCoverage turns coverage capture on or off for later calls
func (e *Engine) SetCoverage(enabled bool) { e.coverage.SetEnabled(enabled) }

// SetCallTrace turns call-graph recording on or off for later calls
func (e *Engine) SetCallTrace(enabled bool) { e.callTrace = enabled }

// Coverage returns every buffer captured during the session
func (e *Engine) Coverage() map[string][][]byte { return e.coverage.All() }

// Run executes a top-level instantiate or execute. It never returns a Go
// error: failures are recorded in the Result, and the overlay is left as it
// was before the call.
func (e *Engine) Run(ctx context.Context, call Call) *Result {
	start := time.Now()
	target := call.Contract
	if call.Kind == CallInstantiate {
		target = fmt.Sprintf("code:%d", call.CodeID)
	}

	ctx, span := e.tracer.Start(ctx, "engine."+string(call.Kind),
		oteltrace.WithAttributes(
			attribute.String("sender", call.Sender),
			attribute.String("target", target),
			attribute.Int64("height", int64(e.block.Height)),
		))
	defer span.End()

	x := e.newExecution(true)
	root := &frame{
		sender:   call.Sender,
		contract: call.Contract,
		codeID:   call.CodeID,
		label:    call.Label,
		admin:    call.Admin,
		msg:      call.Msg,
		funds:    call.Funds.NonNil(),
		replyOn:  models.ReplyNever,
	}
	switch call.Kind {
	case CallInstantiate:
		root.kind = frameInstantiate
	case CallExecute:
		root.kind = frameExecute
	default:
		root.kind = frameUnsupported
		root.msgKind = string(call.Kind)
	}

	rootSnap := e.overlay.Snapshot()
	err := x.run(ctx, root)
	height := e.block.Height

	outcome := "ok"
	if err != nil {
		e.overlay.RevertToSnapshot(rootSnap)
		e.overlay.Commit()
		outcome = "error"
		metrics.Reverts.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("Call reverted", "kind", call.Kind, "target", target, "error", err)
	} else {
		e.overlay.Commit()
		e.advanceBlock()
		slog.Debug("Call committed", "kind", call.Kind, "target", target, "height", height)
	}

	metrics.CallsTotal.WithLabelValues(string(call.Kind), outcome).Inc()
	metrics.CallDuration.WithLabelValues(string(call.Kind)).Observe(time.Since(start).Seconds())

	return x.result(err, root.data, root.events, height)
}

// Query runs the query entry point of contract. The overlay is always
// restored afterwards and the block does not move.
func (e *Engine) Query(ctx context.Context, contract string, msg []byte) *Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.query",
		oteltrace.WithAttributes(attribute.String("target", contract)))
	defer span.End()

	x := e.newExecution(false)
	snap := e.overlay.Snapshot()
	data, err := x.smartQuery(ctx, contract, msg, 0)
	e.overlay.RevertToSnapshot(snap)
	e.overlay.Commit()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.CallsTotal.WithLabelValues("query", outcome).Inc()
	metrics.CallDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return x.result(err, data, nil, e.block.Height)
}

// QueryRequest answers a bank or wasm QueryRequest the way query_chain would
// and unwraps the reply into the answer bytes.
func (e *Engine) QueryRequest(ctx context.Context, req models.QueryRequest) ([]byte, error) {
	x := e.newExecution(false)
	snap := e.overlay.Snapshot()
	defer func() {
		e.overlay.RevertToSnapshot(snap)
		e.overlay.Commit()
		e.coverage.Merge(x.coverage)
	}()

	result, err := x.route(ctx, req, 0)
	if err != nil {
		return nil, Classify(err)
	}
	return unwrapSystemResult(result)
}
