package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cwfork/internal/engine"
	"cwfork/internal/models"
)

// Model is the session a scenario drives
type Model interface {
	Prefix() string
	CheatMessageSender(addr string) error
	CheatCode(ctx context.Context, addr string, code []byte) error
	CheatBankBalance(addr string, coin models.Coin) error
	CheatStorage(addr string, key, value []byte) error
	CheatBlockHeight(height uint64) error
	CheatBlockTimestamp(nanos uint64) error
	AddCustomCode(ctx context.Context, codeID uint64, code []byte) error
	EnableCodeCoverage()
	EnableCallTrace()
	Instantiate(ctx context.Context, codeID uint64, msg []byte, funds models.Coins) (*engine.Result, error)
	Execute(ctx context.Context, addr string, msg []byte, funds models.Coins) (*engine.Result, error)
	QueryResult(ctx context.Context, addr string, msg []byte) (*engine.Result, error)
	WasmQuery(ctx context.Context, payload []byte) ([]byte, error)
	BankQuery(ctx context.Context, payload []byte) ([]byte, error)
}

// StepReport is the outcome of one step
type StepReport struct {
	Index int
	Name  string
	Kind  string

	// Result is set for instantiate, execute and query steps
	Result *engine.Result

	// Data is the answer of raw wasm and bank queries
	Data []byte

	// Err is the call error of a query step or the setup error of a cheat
	Err error

	// Mismatch describes a failed expectation
	Mismatch string
}

// Passed reports whether the step met its expectation
func (r *StepReport) Passed() bool { return r.Mismatch == "" }

// Report is the outcome of a scenario run
type Report struct {
	Name      string
	Steps     []*StepReport
	Addresses map[string]string
}

// Failed counts steps whose expectation did not hold
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if !s.Passed() {
			n++
		}
	}
	return n
}

// Runner executes scenarios against a model
type Runner struct {
	model Model
}

func NewRunner(model Model) *Runner {
	return &Runner{model: model}
}

// Run executes every step in order. Expectation mismatches are recorded in
// the report; the returned error is reserved for steps that could not run.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	names := aliases{}
	for _, name := range sc.Accounts {
		names[name] = models.AccountAddress(r.model.Prefix(), name)
	}

	if sc.Sender != "" {
		if err := r.model.CheatMessageSender(names.expand(sc.Sender)); err != nil {
			return nil, fmt.Errorf("failed to set sender: %w", err)
		}
	}
	if sc.Coverage {
		r.model.EnableCodeCoverage()
	}
	if sc.CallTrace {
		r.model.EnableCallTrace()
	}

	report := &Report{Name: sc.Name, Addresses: names}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		rep, err := r.runStep(ctx, sc, step, names)
		if err != nil {
			return report, fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
		}
		rep.Index = i + 1
		rep.Name = step.Name
		rep.Kind = step.Kind()
		rep.Mismatch = check(step.Expect, rep, names)
		report.Steps = append(report.Steps, rep)

		if rep.Passed() {
			slog.Debug("Step passed", "step", rep.Index, "name", rep.Name, "kind", rep.Kind)
		} else {
			slog.Warn("Step failed", "step", rep.Index, "name", rep.Name, "kind", rep.Kind, "reason", rep.Mismatch)
		}
	}
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, sc *Scenario, step *Step, names aliases) (*StepReport, error) {
	rep := &StepReport{}
	switch {
	case step.Cheat != nil:
		rep.Err = r.cheat(ctx, sc, step.Cheat, names)

	case step.CustomCode != nil:
		code, err := sc.readFile(step.CustomCode.File)
		if err != nil {
			return nil, err
		}
		rep.Err = r.model.AddCustomCode(ctx, step.CustomCode.CodeID, code)

	case step.Instantiate != nil:
		msg, funds, err := prepare(step.Instantiate.Msg, step.Instantiate.Funds, names)
		if err != nil {
			return nil, err
		}
		res, err := r.model.Instantiate(ctx, step.Instantiate.CodeID, msg, funds)
		if err != nil {
			return nil, err
		}
		rep.Result = res
		if step.Instantiate.Save != "" && !res.Failed() {
			names[step.Instantiate.Save] = res.ContractAddress()
		}

	case step.Execute != nil:
		msg, funds, err := prepare(step.Execute.Msg, step.Execute.Funds, names)
		if err != nil {
			return nil, err
		}
		res, err := r.model.Execute(ctx, names.expand(step.Execute.Contract), msg, funds)
		if err != nil {
			return nil, err
		}
		rep.Result = res

	case step.Query != nil:
		msg, err := names.message(step.Query.Msg)
		if err != nil {
			return nil, err
		}
		res, err := r.model.QueryResult(ctx, names.expand(step.Query.Contract), msg)
		if err != nil {
			return nil, err
		}
		rep.Result = res

	case step.WasmQuery != nil:
		payload, err := names.message(step.WasmQuery)
		if err != nil {
			return nil, err
		}
		rep.Data, rep.Err = r.model.WasmQuery(ctx, payload)

	case step.BankQuery != nil:
		payload, err := names.message(step.BankQuery)
		if err != nil {
			return nil, err
		}
		rep.Data, rep.Err = r.model.BankQuery(ctx, payload)
	}
	return rep, nil
}

func (r *Runner) cheat(ctx context.Context, sc *Scenario, c *Cheat, names aliases) error {
	if c.Sender != "" {
		if err := r.model.CheatMessageSender(names.expand(c.Sender)); err != nil {
			return err
		}
	}
	if c.Balance != nil {
		coin, err := ParseCoin(c.Balance.Coin)
		if err != nil {
			return err
		}
		if err := r.model.CheatBankBalance(names.expand(c.Balance.Address), coin); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		addr := names.expand(c.Storage.Address)
		if err := r.model.CheatStorage(addr, []byte(c.Storage.Key), []byte(names.expand(c.Storage.Value))); err != nil {
			return err
		}
	}
	if c.Code != nil {
		code, err := sc.readFile(c.Code.File)
		if err != nil {
			return err
		}
		if err := r.model.CheatCode(ctx, names.expand(c.Code.Address), code); err != nil {
			return err
		}
	}
	if c.BlockHeight != 0 {
		if err := r.model.CheatBlockHeight(c.BlockHeight); err != nil {
			return err
		}
	}
	if c.BlockTime != 0 {
		if err := r.model.CheatBlockTimestamp(c.BlockTime); err != nil {
			return err
		}
	}
	return nil
}

func prepare(rawMsg any, rawFunds string, names aliases) ([]byte, models.Coins, error) {
	msg, err := names.message(rawMsg)
	if err != nil {
		return nil, nil, err
	}
	funds, err := ParseCoins(rawFunds)
	if err != nil {
		return nil, nil, err
	}
	return msg, funds, nil
}

func (sc *Scenario) readFile(name string) ([]byte, error) {
	if !filepath.IsAbs(name) && sc.dir != "" {
		name = filepath.Join(sc.dir, name)
	}
	code, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read code file: %w", err)
	}
	return code, nil
}

// check compares a step outcome with its expectation. Empty means it holds.
func check(want *Expect, rep *StepReport, names aliases) string {
	if want == nil {
		want = &Expect{}
	}

	var (
		failed  bool
		errMsg  string
		errKind string
		data    []byte
	)
	switch {
	case rep.Result != nil:
		failed = rep.Result.Failed()
		errMsg = rep.Result.ErrMsg()
		errKind = string(rep.Result.ErrKind())
		data = rep.Result.Data()
	case rep.Err != nil:
		failed = true
		errMsg = rep.Err.Error()
		errKind = string(engine.Classify(rep.Err).Kind)
	default:
		data = rep.Data
	}

	if !want.wantsFailure() {
		if failed {
			return fmt.Sprintf("unexpected error (%s): %s", errKind, errMsg)
		}
	} else {
		if !failed {
			return "expected an error, call succeeded"
		}
		if want.ErrorKind != "" && want.ErrorKind != errKind {
			return fmt.Sprintf("error kind %s, want %s", errKind, want.ErrorKind)
		}
		if want.ErrorContains != "" && !strings.Contains(errMsg, want.ErrorContains) {
			return fmt.Sprintf("error %q does not contain %q", errMsg, want.ErrorContains)
		}
	}

	if want.Data != nil {
		if msg := compareData(want.Data, data, names); msg != "" {
			return msg
		}
	}

	if len(want.Events) > 0 && rep.Result != nil {
		got := make([]string, 0, len(rep.Result.Events()))
		for _, ev := range rep.Result.Events() {
			got = append(got, ev.Type)
		}
		if !reflect.DeepEqual(got, want.Events) {
			return fmt.Sprintf("events %v, want %v", got, want.Events)
		}
	}

	if want.Stdout != "" && rep.Result != nil && rep.Result.Stdout() != want.Stdout {
		return fmt.Sprintf("stdout %q, want %q", rep.Result.Stdout(), want.Stdout)
	}
	return ""
}

// compareData compares JSON answers structurally and anything else as text
func compareData(want any, got []byte, names aliases) string {
	if s, ok := want.(string); ok && !json.Valid(got) {
		if exp := names.expand(s); exp != string(got) {
			return fmt.Sprintf("data %q, want %q", got, exp)
		}
		return ""
	}

	wantJSON, err := names.message(want)
	if err != nil {
		return err.Error()
	}
	var a, b any
	if err := json.Unmarshal(wantJSON, &a); err != nil {
		return fmt.Sprintf("expected data is not JSON: %v", err)
	}
	if err := json.Unmarshal(got, &b); err != nil {
		return fmt.Sprintf("data %q is not JSON", got)
	}
	if !reflect.DeepEqual(a, b) {
		return fmt.Sprintf("data %s, want %s", got, wantJSON)
	}
	return ""
}
