package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/haasonsaas/toolrun/internal/tools"
)

// Names of the built-in tools in this package.
const (
	ContractsToolName = "get_option_contracts"
	HistoricToolName  = "get_option_contract_historic"
	ScreenerToolName  = "options_screener"
)

// Register adds every tool in this package to the catalog.
func Register(catalog *tools.Catalog, client *Client) {
	catalog.RegisterTool(NewContractsTool(client))
	catalog.RegisterTool(NewHistoricTool(client))
	catalog.RegisterTool(NewScreenerTool(client))
}

// failure maps expected upstream failures to an error payload; anything
// else is returned as an error for the caller to classify.
func failure(err error) (any, error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) || errors.Is(err, ErrMissingAPIKey) {
		return tools.Errorf(err.Error()), nil
	}
	return nil, err
}

type contractsArgs struct {
	Ticker string `json:"ticker" jsonschema:"description=The stock ticker."`
}

// ContractsTool fetches option contracts for a ticker.
type ContractsTool struct {
	client *Client
	schema json.RawMessage
}

// NewContractsTool creates the get_option_contracts tool.
func NewContractsTool(client *Client) *ContractsTool {
	return &ContractsTool{client: client, schema: tools.ReflectSchema(&contractsArgs{})}
}

func (t *ContractsTool) Name() string { return ContractsToolName }

func (t *ContractsTool) Description() string {
	return "Fetch option contract data for a specific stock ticker from the Unusual Whales API."
}

func (t *ContractsTool) Schema() json.RawMessage { return t.schema }

func (t *ContractsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	ticker, _ := args["ticker"].(string)
	out, err := t.client.OptionContracts(ctx, ticker)
	if err != nil {
		return failure(err)
	}
	return out, nil
}

type historicArgs struct {
	ContractID string `json:"contract_id" jsonschema:"description=The ID of the option contract."`
}

// HistoricTool fetches the history of one option contract.
type HistoricTool struct {
	client *Client
	schema json.RawMessage
}

// NewHistoricTool creates the get_option_contract_historic tool.
func NewHistoricTool(client *Client) *HistoricTool {
	return &HistoricTool{client: client, schema: tools.ReflectSchema(&historicArgs{})}
}

func (t *HistoricTool) Name() string { return HistoricToolName }

func (t *HistoricTool) Description() string {
	return "Fetch historical data for a specific option contract from the Unusual Whales API."
}

func (t *HistoricTool) Schema() json.RawMessage { return t.schema }

func (t *HistoricTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id, _ := args["contract_id"].(string)
	out, err := t.client.ContractHistoric(ctx, id)
	if err != nil {
		return failure(err)
	}
	return out, nil
}

// screenerArgs mirrors the screener query parameters. The API key comes from
// configuration, never from the model.
type screenerArgs struct {
	TickerSymbol       string   `json:"ticker_symbol,omitempty" jsonschema:"description=Ticker symbol"`
	Sectors            []string `json:"sectors[],omitempty" jsonschema:"description=Sectors"`
	MinUnderlyingPrice float64  `json:"min_underlying_price,omitempty" jsonschema:"description=Minimum underlying price"`
	MaxUnderlyingPrice float64  `json:"max_underlying_price,omitempty" jsonschema:"description=Maximum underlying price"`
	IsOTM              bool     `json:"is_otm,omitempty" jsonschema:"description=Is out of the money"`
	MinDTE             int      `json:"min_dte,omitempty" jsonschema:"description=Minimum days to expiration"`
	MaxDTE             int      `json:"max_dte,omitempty" jsonschema:"description=Maximum days to expiration"`
	MinDiff            float64  `json:"min_diff,omitempty" jsonschema:"description=Minimum price difference"`
	MaxDiff            float64  `json:"max_diff,omitempty" jsonschema:"description=Maximum price difference"`
	MinVolume          int      `json:"min_volume,omitempty" jsonschema:"description=Minimum volume"`
	MaxVolume          int      `json:"max_volume,omitempty" jsonschema:"description=Maximum volume"`
	MinOI              int      `json:"min_oi,omitempty" jsonschema:"description=Minimum open interest"`
	MaxOI              int      `json:"max_oi,omitempty" jsonschema:"description=Maximum open interest"`
	MinFloorVolume     int      `json:"min_floor_volume,omitempty" jsonschema:"description=Minimum floor volume"`
	MaxFloorVolume     int      `json:"max_floor_volume,omitempty" jsonschema:"description=Maximum floor volume"`
	VolGreaterOI       bool     `json:"vol_greater_oi,omitempty" jsonschema:"description=Volume greater than open interest"`
	IssueTypes         []string `json:"issue_types[],omitempty" jsonschema:"description=Issue types"`
	Order              string   `json:"order,omitempty" jsonschema:"description=Order by field"`
	OrderDirection     string   `json:"order_direction,omitempty" jsonschema:"description=Order direction,enum=asc,enum=desc"`
}

// ScreenerTool screens option contracts.
type ScreenerTool struct {
	client *Client
	schema json.RawMessage
}

// NewScreenerTool creates the options_screener tool.
func NewScreenerTool(client *Client) *ScreenerTool {
	return &ScreenerTool{client: client, schema: tools.ReflectSchema(&screenerArgs{})}
}

func (t *ScreenerTool) Name() string { return ScreenerToolName }

func (t *ScreenerTool) Description() string {
	return "Screen option contracts based on various parameters using the Unusual Whales API"
}

func (t *ScreenerTool) Schema() json.RawMessage { return t.schema }

func (t *ScreenerTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	params, err := queryParams(args)
	if err != nil {
		return nil, err
	}
	out, err := t.client.ScreenContracts(ctx, params)
	if err != nil {
		return failure(err)
	}
	return out, nil
}

// queryParams flattens validated arguments into query values. Null values
// are dropped and arrays repeat their key.
func queryParams(args map[string]any) (url.Values, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := url.Values{}
	for _, k := range keys {
		switch v := args[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				s, err := scalar(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				params.Add(k, s)
			}
		default:
			s, err := scalar(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			params.Set(k, s)
		}
	}
	return params, nil
}

func scalar(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
