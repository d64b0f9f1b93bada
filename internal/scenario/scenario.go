package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cwfork/internal/models"

	"github.com/goccy/go-yaml"
)

// Scenario is a scripted sequence of calls against one sandbox session
type Scenario struct {
	Name string `yaml:"name"`

	// Accounts are named test accounts, referenced as $name in steps
	Accounts []string `yaml:"accounts"`

	// Sender signs top-level calls until a cheat changes it
	Sender string `yaml:"sender"`

	Coverage  bool `yaml:"coverage"`
	CallTrace bool `yaml:"call_trace"`

	Steps []Step `yaml:"steps"`

	// dir resolves code file paths
	dir string
}

// Step holds exactly one action plus an optional expectation
type Step struct {
	Name string `yaml:"name"`

	Cheat       *Cheat       `yaml:"cheat"`
	CustomCode  *CustomCode  `yaml:"custom_code"`
	Instantiate *Instantiate `yaml:"instantiate"`
	Execute     *Execute     `yaml:"execute"`
	Query       *Query       `yaml:"query"`
	WasmQuery   any          `yaml:"wasm_query"`
	BankQuery   any          `yaml:"bank_query"`

	Expect *Expect `yaml:"expect"`
}

type Cheat struct {
	Sender      string        `yaml:"sender"`
	Balance     *BalanceCheat `yaml:"balance"`
	Storage     *StorageCheat `yaml:"storage"`
	Code        *CodeCheat    `yaml:"code"`
	BlockHeight uint64        `yaml:"block_height"`
	BlockTime   uint64        `yaml:"block_time"`
}

type BalanceCheat struct {
	Address string `yaml:"address"`
	Coin    string `yaml:"coin"`
}

type StorageCheat struct {
	Address string `yaml:"address"`
	Key     string `yaml:"key"`
	Value   string `yaml:"value"`
}

type CodeCheat struct {
	Address string `yaml:"address"`
	File    string `yaml:"file"`
}

type CustomCode struct {
	CodeID uint64 `yaml:"code_id"`
	File   string `yaml:"file"`
}

type Instantiate struct {
	CodeID uint64 `yaml:"code_id"`
	Msg    any    `yaml:"msg"`
	Funds  string `yaml:"funds"`

	// Save binds the new contract address to $save
	Save string `yaml:"save"`
}

type Execute struct {
	Contract string `yaml:"contract"`
	Msg      any    `yaml:"msg"`
	Funds    string `yaml:"funds"`
}

type Query struct {
	Contract string `yaml:"contract"`
	Msg      any    `yaml:"msg"`
}

// Expect is checked against the outcome of a step. A step without
// Fail, ErrorKind or ErrorContains is expected to succeed.
type Expect struct {
	Fail          bool     `yaml:"fail"`
	ErrorKind     string   `yaml:"error_kind"`
	ErrorContains string   `yaml:"error_contains"`
	Data          any      `yaml:"data"`
	Events        []string `yaml:"events"`
	Stdout        string   `yaml:"stdout"`
}

func (e *Expect) wantsFailure() bool {
	return e.Fail || e.ErrorKind != "" || e.ErrorContains != ""
}

// Load reads and parses a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// Parse decodes a scenario and checks each step holds exactly one action
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.UnmarshalWithOptions(data, &sc, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	for i := range sc.Steps {
		if n := sc.Steps[i].actions(); n != 1 {
			return nil, fmt.Errorf("step %d (%s): expected exactly one action, got %d", i+1, sc.Steps[i].Name, n)
		}
	}
	return &sc, nil
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Cheat != nil,
		s.CustomCode != nil,
		s.Instantiate != nil,
		s.Execute != nil,
		s.Query != nil,
		s.WasmQuery != nil,
		s.BankQuery != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Kind names the action of the step
func (s *Step) Kind() string {
	switch {
	case s.Cheat != nil:
		return "cheat"
	case s.CustomCode != nil:
		return "custom_code"
	case s.Instantiate != nil:
		return "instantiate"
	case s.Execute != nil:
		return "execute"
	case s.Query != nil:
		return "query"
	case s.WasmQuery != nil:
		return "wasm_query"
	default:
		return "bank_query"
	}
}

// aliases maps $name references to addresses
type aliases map[string]string

// expand replaces every $name in s. Longer names go first so $token2 is not
// read as $token followed by "2".
func (a aliases) expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		s = strings.ReplaceAll(s, "$"+name, a[name])
	}
	return s
}

// message encodes a YAML value as the JSON message sent to a contract
func (a aliases) message(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	if s, ok := v.(string); ok {
		return []byte(a.expand(s)), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return []byte(a.expand(string(raw))), nil
}

// ParseCoins parses "100uatom,5ujuno"
func ParseCoins(s string) (models.Coins, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var coins models.Coins
	for _, part := range strings.Split(s, ",") {
		coin, err := ParseCoin(part)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	if err := coins.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coins %q: %w", s, err)
	}
	return coins, nil
}

// ParseCoin parses "100uatom"
func ParseCoin(s string) (models.Coin, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return models.Coin{}, fmt.Errorf("invalid coin %q", s)
	}
	coin := models.Coin{Denom: s[i:], Amount: s[:i]}
	if _, err := coin.AmountOf(); err != nil {
		return models.Coin{}, fmt.Errorf("invalid coin %q: %w", s, err)
	}
	return coin, nil
}
