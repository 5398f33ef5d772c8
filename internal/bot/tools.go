package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"botmarley/internal/gateway/binance"
	"botmarley/internal/gateway/provider"
	"botmarley/internal/logger"
	"botmarley/internal/state"
	"botmarley/internal/trade"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	ToolBuy  = "buy"
	ToolSell = "sell"
	ToolHold = "hold"
)

const buySchemaJSON = `{
  "type": "object",
  "properties": {
    "pair": {"type": "string", "description": "Trading pair, e.g. BTC_USDC"},
    "amount": {"type": "number", "exclusiveMinimum": 0, "description": "Base asset amount to buy"},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Confidence in this decision, 0-100"},
    "explanation": {"type": "string", "minLength": 1, "description": "Reasoning behind the decision"}
  },
  "required": ["pair", "amount", "confidence", "explanation"],
  "additionalProperties": false
}`

const sellSchemaJSON = buySchemaJSON

const holdSchemaJSON = `{
  "type": "object",
  "properties": {
    "pair": {"type": "string", "description": "Trading pair, e.g. BTC_USDC"},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 100, "description": "Confidence in this decision, 0-100"},
    "explanation": {"type": "string", "minLength": 1, "description": "Reasoning behind the decision"}
  },
  "required": ["pair", "confidence", "explanation"],
  "additionalProperties": false
}`

// ToolOutcome 工具执行的结构化结果，原样序列化进 tool 消息。
// 成功与否只看 OK 字段，绝不解析 Message 前缀。
type ToolOutcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (o ToolOutcome) JSON() string {
	raw, err := json.Marshal(o)
	if err != nil {
		return `{"ok":false,"message":"internal marshal error"}`
	}
	return string(raw)
}

type toolArgs struct {
	Pair        string  `json:"pair"`
	Amount      float64 `json:"amount"`
	Confidence  int     `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// ToolHandler 注册交易工具并执行模型发起的调用。买卖在执行前写入
// pending 标记，决策仅在执行成功后落盘。
type ToolHandler struct {
	executor *trade.Executor
	store    *state.Store
	schemas  map[string]*jsonschema.Schema
	// 允许交易的 pair 白名单（配置里的 allowed_pairs）
	allowed map[string]string
}

func NewToolHandler(executor *trade.Executor, store *state.Store, allowedPairs []string) (*ToolHandler, error) {
	schemas := make(map[string]*jsonschema.Schema, 3)
	for name, raw := range map[string]string{
		ToolBuy:  buySchemaJSON,
		ToolSell: sellSchemaJSON,
		ToolHold: holdSchemaJSON,
	} {
		compiled, err := jsonschema.CompileString(name+".json", raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		schemas[name] = compiled
	}
	allowed := make(map[string]string, len(allowedPairs))
	for _, p := range allowedPairs {
		norm := binance.NormalizePair(p)
		allowed[norm] = norm
	}
	return &ToolHandler{
		executor: executor,
		store:    store,
		schemas:  schemas,
		allowed:  allowed,
	}, nil
}

// Definitions returns the tool schemas registered with the model.
func (h *ToolHandler) Definitions() []provider.Tool {
	return []provider.Tool{
		provider.NewTool(ToolBuy, "Execute a market buy of the base asset for the given pair.", json.RawMessage(buySchemaJSON)),
		provider.NewTool(ToolSell, "Execute a market sell of the base asset for the given pair.", json.RawMessage(sellSchemaJSON)),
		provider.NewTool(ToolHold, "Record a hold decision for the given pair without trading.", json.RawMessage(holdSchemaJSON)),
	}
}

// Dispatch executes one tool call against the candle identified by
// priceTimestamp. The returned decision is non-nil only when a decision was
// durably recorded.
func (h *ToolHandler) Dispatch(ctx context.Context, call provider.ToolCall, priceTimestamp int64) (ToolOutcome, *state.Decision) {
	schema, ok := h.schemas[call.Function.Name]
	if !ok {
		return ToolOutcome{Message: fmt.Sprintf("unknown tool %q; available: buy, sell, hold", call.Function.Name)}, nil
	}

	var generic any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &generic); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("arguments are not valid JSON: %v", err)}, nil
	}
	if err := schema.Validate(generic); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("arguments rejected by schema: %v", err)}, nil
	}
	var args toolArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("arguments unreadable: %v", err)}, nil
	}
	// 模型可能按 schema 示例回传 BTC_USDC 写法，统一成交易所符号再比对
	args.Pair = binance.NormalizePair(args.Pair)
	args.Confidence = clampConfidence(args.Confidence)
	if _, ok := h.allowed[args.Pair]; !ok {
		return ToolOutcome{Message: fmt.Sprintf("pair %s is not in the allowed list", args.Pair)}, nil
	}

	switch call.Function.Name {
	case ToolBuy:
		return h.execute(ctx, state.ActionBuy, args, priceTimestamp)
	case ToolSell:
		return h.execute(ctx, state.ActionSell, args, priceTimestamp)
	case ToolHold:
		return h.hold(ctx, args, priceTimestamp)
	}
	return ToolOutcome{Message: "unreachable tool"}, nil
}

func (h *ToolHandler) execute(ctx context.Context, action state.Action, args toolArgs, priceTimestamp int64) (ToolOutcome, *state.Decision) {
	// 写前标记：崩在下单与落盘之间时，重启后同一根 K 线不会再执行
	if err := h.store.MarkPending(args.Pair, priceTimestamp); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("cannot persist execution intent: %v", err)}, nil
	}

	var (
		res *trade.Result
		err error
	)
	if action == state.ActionBuy {
		res, err = h.executor.Buy(ctx, args.Pair, args.Amount)
	} else {
		res, err = h.executor.Sell(ctx, args.Pair, args.Amount)
	}
	if err != nil {
		if cerr := h.store.ClearPending(args.Pair); cerr != nil {
			logger.Errorf("clear pending for %s: %v", args.Pair, cerr)
		}
		var restriction *trade.RestrictionError
		if errors.As(err, &restriction) {
			return ToolOutcome{Message: fmt.Sprintf("trade rejected: %s", restriction.Reason)}, nil
		}
		return ToolOutcome{Message: fmt.Sprintf("trade failed: %v", err)}, nil
	}

	decision := state.Decision{
		Symbol:          args.Pair,
		Action:          action,
		Amount:          res.Amount,
		Confidence:      args.Confidence,
		Explanation:     args.Explanation,
		PriceAtDecision: res.Price,
		PriceTimestamp:  priceTimestamp,
	}
	if err := h.store.AddDecision(decision); err != nil {
		// 交易已经发生；决策没落盘只能记错误，账本仍是事实来源
		logger.Errorf("record decision for %s: %v", args.Pair, err)
		return ToolOutcome{Message: fmt.Sprintf("trade executed but decision not persisted: %v", err)}, nil
	}

	msg := fmt.Sprintf("%s executed: %g %s @ $%.2f (value $%.2f)",
		strings.ToUpper(string(action)), res.Amount, res.Asset, res.Price, res.ValueUSD)
	if action == state.ActionSell {
		msg += fmt.Sprintf(", realized profit $%.2f", res.ProfitUSD)
	}
	if !res.Live {
		msg += " [paper]"
	}
	return ToolOutcome{OK: true, Message: msg}, &decision
}

func (h *ToolHandler) hold(ctx context.Context, args toolArgs, priceTimestamp int64) (ToolOutcome, *state.Decision) {
	decision := state.Decision{
		Symbol:         args.Pair,
		Action:         state.ActionHold,
		Confidence:     args.Confidence,
		Explanation:    args.Explanation,
		PriceTimestamp: priceTimestamp,
	}
	if price, err := h.executor.Prices.LatestPrice(ctx, args.Pair, h.executor.Interval); err == nil {
		decision.PriceAtDecision = price
	}
	if err := h.store.AddDecision(decision); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("cannot persist hold decision: %v", err)}, nil
	}
	return ToolOutcome{OK: true, Message: fmt.Sprintf("HOLD recorded for %s (confidence %d%%)", args.Pair, args.Confidence)}, &decision
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
