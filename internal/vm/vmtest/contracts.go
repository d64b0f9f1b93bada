package vmtest

import (
	"encoding/json"
	"errors"
	"fmt"

	"cwfork/internal/models"

	"github.com/holiman/uint256"
)

// Semantics is a port of the branchy test contract: it stores 0x1337 on
// instantiation and picks an event by comparing its input against it.
func Semantics() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) {
			return &models.Response{}, c.Set([]byte("number"), []byte(uint256.NewInt(0x1337).Dec()))
		},
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				ProcessData *struct {
					Data1 string `json:"data1"`
					Data2 string `json:"data2"`
				} `json:"process_data"`
			}
			if err := json.Unmarshal(msg, &req); err != nil || req.ProcessData == nil {
				return nil, fmt.Errorf("unknown message")
			}
			stored, _, err := c.Get([]byte("number"))
			if err != nil {
				return nil, err
			}
			if string(stored) == req.ProcessData.Data2 {
				return eventResponse("branch1"), nil
			}
			if req.ProcessData.Data1 == "DreamAcademy" {
				return eventResponse("branch2"), nil
			}
			return nil, errors.New("Unauthorized")
		},
		Coverage: []byte("semantics-coverage"),
	}
}

func eventResponse(kind string) *models.Response {
	return &models.Response{Events: []models.Event{{
		Type:       kind,
		Attributes: []models.Attribute{{Key: "value", Value: "1"}},
	}}}
}

//---------- Token ---------

// TokenBalance is one initial holder of Token
type TokenBalance struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func tokenKey(addr string) []byte { return []byte("balance/" + addr) }

func tokenBalance(c *Ctx, addr string) (*uint256.Int, error) {
	raw, ok, err := c.Get(tokenKey(addr))
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return models.ParseAmount(string(raw))
}

// Token is a minimal cw20-style fungible token
func Token() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				InitialBalances []TokenBalance `json:"initial_balances"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				return nil, fmt.Errorf("invalid instantiate message: %w", err)
			}
			for _, b := range req.InitialBalances {
				if err := c.AddrValidate(b.Address); err != nil {
					return nil, err
				}
				if err := c.Set(tokenKey(b.Address), []byte(b.Amount)); err != nil {
					return nil, err
				}
			}
			return &models.Response{Attributes: []models.Attribute{{Key: "action", Value: "instantiate"}}}, nil
		},
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				Transfer *struct {
					Recipient string `json:"recipient"`
					Amount    string `json:"amount"`
				} `json:"transfer"`
			}
			if err := json.Unmarshal(msg, &req); err != nil || req.Transfer == nil {
				return nil, fmt.Errorf("unknown message")
			}
			amount, err := models.ParseAmount(req.Transfer.Amount)
			if err != nil {
				return nil, err
			}
			from, err := tokenBalance(c, c.Info.Sender)
			if err != nil {
				return nil, err
			}
			if from.Lt(amount) {
				return nil, fmt.Errorf("Cannot Sub with %s and %s", from.Dec(), amount.Dec())
			}
			to, err := tokenBalance(c, req.Transfer.Recipient)
			if err != nil {
				return nil, err
			}
			from.Sub(from, amount)
			to.Add(to, amount)
			if err := c.Set(tokenKey(c.Info.Sender), []byte(from.Dec())); err != nil {
				return nil, err
			}
			if err := c.Set(tokenKey(req.Transfer.Recipient), []byte(to.Dec())); err != nil {
				return nil, err
			}
			return &models.Response{Attributes: []models.Attribute{
				{Key: "action", Value: "transfer"},
				{Key: "from", Value: c.Info.Sender},
				{Key: "to", Value: req.Transfer.Recipient},
				{Key: "amount", Value: amount.Dec()},
			}}, nil
		},
		Query: func(c *Ctx, msg []byte) ([]byte, error) {
			var req struct {
				Balance *struct {
					Address string `json:"address"`
				} `json:"balance"`
			}
			if err := json.Unmarshal(msg, &req); err != nil || req.Balance == nil {
				return nil, fmt.Errorf("unknown query")
			}
			bal, err := tokenBalance(c, req.Balance.Address)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"balance": bal.Dec()})
		},
	}
}

//---------- Call graph helpers ---------

// Recursor calls itself {"recurse":{"depth":n}} until depth reaches zero
func Recursor() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				Recurse struct {
					Depth int `json:"depth"`
				} `json:"recurse"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				return nil, err
			}
			resp := &models.Response{Attributes: []models.Attribute{{Key: "depth", Value: fmt.Sprint(req.Recurse.Depth)}}}
			if err := c.Set([]byte(fmt.Sprintf("visited/%d", req.Recurse.Depth)), []byte{1}); err != nil {
				return nil, err
			}
			if req.Recurse.Depth > 0 {
				next, _ := json.Marshal(map[string]interface{}{"recurse": map[string]int{"depth": req.Recurse.Depth - 1}})
				resp.Messages = append(resp.Messages, ExecuteSubMsg(0, c.Env.Contract.Address, next, models.ReplyNever))
			}
			return resp, nil
		},
	}
}

// ExecuteSubMsg builds a wasm execute sub-message
func ExecuteSubMsg(id uint64, contract string, msg []byte, replyOn models.ReplyOn) models.SubMsg {
	return models.SubMsg{
		ID:      id,
		ReplyOn: replyOn,
		Msg: models.CosmosMsg{Wasm: &models.WasmMsg{Execute: &models.ExecuteMsg{
			ContractAddr: contract,
			Msg:          msg,
			Funds:        models.Coins{},
		}}},
	}
}

// Forward is the execute message understood by Caller
type Forward struct {
	Target  string          `json:"target"`
	Msg     json.RawMessage `json:"msg"`
	ReplyOn models.ReplyOn  `json:"reply_on"`
	ID      uint64          `json:"id"`
	Write   string          `json:"write,omitempty"`
	Funds   models.Coins    `json:"funds,omitempty"`
}

// Caller writes Forward.Write to "caller" then forwards Forward.Msg to
// Forward.Target as a sub-message. Its reply records the outcome under
// "reply/<id>" and fails when the sub-message failed with "fail-reply".
func Caller() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var fwd Forward
			if err := json.Unmarshal(msg, &fwd); err != nil {
				return nil, err
			}
			if fwd.Write != "" {
				if err := c.Set([]byte("caller"), []byte(fwd.Write)); err != nil {
					return nil, err
				}
			}
			sub := ExecuteSubMsg(fwd.ID, fwd.Target, fwd.Msg, fwd.ReplyOn)
			sub.Msg.Wasm.Execute.Funds = fwd.Funds
			return &models.Response{
				Messages:   []models.SubMsg{sub},
				Attributes: []models.Attribute{{Key: "action", Value: "forward"}},
				Data:       []byte("caller-data"),
			}, nil
		},
		Reply: func(c *Ctx, reply models.Reply) (*models.Response, error) {
			key := []byte(fmt.Sprintf("reply/%d", reply.ID))
			if reply.Result.Err != nil {
				if err := c.Set(key, []byte("err:"+*reply.Result.Err)); err != nil {
					return nil, err
				}
				if *reply.Result.Err == "fail-reply" {
					return nil, errors.New("reply refused")
				}
				return &models.Response{Data: []byte("recovered")}, nil
			}
			if err := c.Set(key, []byte("ok")); err != nil {
				return nil, err
			}
			return &models.Response{
				Attributes: []models.Attribute{{Key: "replied", Value: fmt.Sprint(reply.ID)}},
				Data:       []byte("replied"),
			}, nil
		},
	}
}

// Failer writes to storage then fails. {"trap":{}} traps instead of returning
// an error; any other message fails with the message text.
func Failer() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			if err := c.Set([]byte("failer"), []byte("dirty")); err != nil {
				return nil, err
			}
			var req struct {
				Trap *struct{} `json:"trap"`
				Fail string    `json:"fail"`
			}
			_ = json.Unmarshal(msg, &req)
			if req.Trap != nil {
				return nil, Trap("failer trapped")
			}
			return nil, errors.New(req.Fail)
		},
	}
}

// BankSender emits {"send":{"to":..,"amount":[..]}} as a bank send sub-message
func BankSender() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				Send struct {
					To     string       `json:"to"`
					Amount models.Coins `json:"amount"`
				} `json:"send"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				return nil, err
			}
			return &models.Response{Messages: []models.SubMsg{{
				ReplyOn: models.ReplyNever,
				Msg: models.CosmosMsg{Bank: &models.BankMsg{Send: &models.SendMsg{
					ToAddress: req.Send.To,
					Amount:    req.Send.Amount,
				}}},
			}}}, nil
		},
	}
}

// QueryWriter writes storage from inside its query entry point
func QueryWriter() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Query: func(c *Ctx, msg []byte) ([]byte, error) {
			if err := c.Set([]byte("sneaky"), []byte("write")); err != nil {
				return nil, err
			}
			return []byte(`{}`), nil
		},
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			// Queries itself through the chain, hitting the write from a nested query
			if _, err := c.QuerySmart(c.Env.Contract.Address, []byte(`{}`)); err != nil {
				return nil, err
			}
			return &models.Response{}, nil
		},
	}
}

// Printer sends {"print":{"msg":..}} text to the printer pseudo-contract
func Printer() *Contract {
	return &Contract{
		Instantiate: func(c *Ctx, msg []byte) (*models.Response, error) { return nil, nil },
		Execute: func(c *Ctx, msg []byte) (*models.Response, error) {
			var req struct {
				Print models.PrinterMsg `json:"print"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				return nil, err
			}
			payload, _ := json.Marshal(req.Print)
			if _, err := c.QuerySmart(models.PrinterAddress, payload); err != nil {
				return nil, err
			}
			return &models.Response{}, nil
		},
	}
}
