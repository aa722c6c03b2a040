package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies one of the tools in the closed vocabulary.
type Kind int

// The tool vocabulary. KindUnknown is never registered.
const (
	KindUnknown Kind = iota
	KindSetUsername
	KindBudget
	KindLogExpenses
	KindMath
)

// Wire names as presented to the model.
const (
	NameSetUsername = "set_username"
	NameBudget      = "budget"
	NameLogExpenses = "log_expenses"
	NameMath        = "math_tool"
)

var kindNames = map[Kind]string{
	KindSetUsername: NameSetUsername,
	KindBudget:      NameBudget,
	KindLogExpenses: NameLogExpenses,
	KindMath:        NameMath,
}

var kindByName = map[string]Kind{
	NameSetUsername: KindSetUsername,
	NameBudget:      KindBudget,
	NameLogExpenses: KindLogExpenses,
	NameMath:        KindMath,
	"setUsername":   KindSetUsername,
	"logExpenses":   KindLogExpenses,
	"mathTool":      KindMath,
}

// String returns the wire name of the tool.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind resolves a tool name as sent by the model. Both snake_case
// and camelCase spellings are accepted.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindByName[name]; ok {
		return k, nil
	}
	return KindUnknown, &ErrUnknownTool{Name: name}
}

// Tool describes a tool for the model.
type Tool struct {
	Kind        Kind
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is the outcome of one tool execution. Exactly one payload
// field is set, matching Kind.
type Result struct {
	Kind     Kind
	Budget   *BudgetResult
	Expenses *ExpenseResult
	Username *UsernameResult
	Math     float64
}

// Message returns the confirmation sent back to the model as the body
// of the tool-role message. Math results render as a plain number.
func (r *Result) Message() string {
	switch r.Kind {
	case KindBudget:
		return r.Budget.Message
	case KindLogExpenses:
		return r.Expenses.Message
	case KindSetUsername:
		return r.Username.Message
	case KindMath:
		return formatNumber(r.Math)
	}
	return ""
}

// Registry holds the available tools.
type Registry struct {
	tools []*Tool
}

// NewRegistry creates a registry holding the four financial tools.
func NewRegistry() *Registry {
	r := &Registry{}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Kind:        KindSetUsername,
		Name:        NameSetUsername,
		Description: "Set the name the user wants to be called. Call this as soon as the user tells you their name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"username": map[string]any{
					"type":        "string",
					"description": "The user's preferred name",
				},
			},
			"required": []string{"username"},
		},
	})

	r.Register(&Tool{
		Kind:        KindBudget,
		Name:        NameBudget,
		Description: "Allocate a budget from the user's income and savings goal. Returns savings and the amount left for expenses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"income": map[string]any{
					"type":        "number",
					"description": "The user's total income for the period",
				},
				"savings_goal": map[string]any{
					"type":        "string",
					"description": `The desired savings, as an amount (e.g. "300000") or a percentage of income (e.g. "40%")`,
				},
				"currency": map[string]any{
					"type":        "string",
					"description": "Currency code, e.g. NGN",
				},
			},
			"required": []string{"income", "savings_goal", "currency"},
		},
	})

	r.Register(&Tool{
		Kind:        KindLogExpenses,
		Name:        NameLogExpenses,
		Description: "Log the user's expenses and compute the total. Always pass the complete list of expenses for the period, including ones logged earlier.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expenses": map[string]any{
					"type":        "array",
					"description": "Every expense for the period",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"amount":   map[string]any{"type": "number", "description": "Amount spent"},
							"category": map[string]any{"type": "string", "description": "Spending category, e.g. rent, food"},
							"date":     map[string]any{"type": "string", "description": "Optional date of the expense"},
						},
						"required": []string{"amount", "category"},
					},
				},
				"currency": map[string]any{
					"type":        "string",
					"description": "Currency code, e.g. NGN",
				},
			},
			"required": []string{"expenses", "currency"},
		},
	})

	r.Register(&Tool{
		Kind:        KindMath,
		Name:        NameMath,
		Description: "Perform arithmetic on a list of numbers. Use this instead of computing figures yourself.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"numbers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "number"},
					"description": "Operands in order. Subtract and divide need at least two.",
				},
				"operation": map[string]any{
					"type":        "string",
					"enum":        []string{string(OpAdd), string(OpSubtract), string(OpMultiply), string(OpDivide)},
					"description": "The operation to apply",
				},
			},
			"required": []string{"numbers", "operation"},
		},
	})
}

// Register adds a tool, replacing any existing tool of the same kind.
func (r *Registry) Register(t *Tool) {
	for i, existing := range r.tools {
		if existing.Kind == t.Kind {
			r.tools[i] = t
			return
		}
	}
	r.tools = append(r.tools, t)
}

// Get retrieves a tool by wire name or alias. Returns nil if absent.
func (r *Registry) Get(name string) *Tool {
	k, err := ParseKind(name)
	if err != nil {
		return nil
	}
	for _, t := range r.tools {
		if t.Kind == k {
			return t
		}
	}
	return nil
}

// Names returns the wire names of all registered tools in
// registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

// List returns all tools in the OpenAI function format, in
// registration order so prompts are stable across calls.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

type budgetArgs struct {
	Income      *Amount `json:"income"`
	SavingsGoal *Goal   `json:"savings_goal"`
	Currency    string  `json:"currency"`
}

type expenseArgs struct {
	Expenses expenseList `json:"expenses"`
	Currency string      `json:"currency"`
}

type mathArgs struct {
	Numbers   numberList `json:"numbers"`
	Operation Operation  `json:"operation"`
}

type usernameArgs struct {
	Username string `json:"username"`
}

// Execute runs a tool by name with the arguments the model supplied.
// Unknown names return *ErrUnknownTool; bad arguments return an error
// wrapping one of the package's sentinel errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := r.Get(name)
	if t == nil {
		return nil, &ErrUnknownTool{Name: name}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: encode arguments: %v", ErrInvalidArgument, err)
	}

	switch t.Kind {
	case KindSetUsername:
		var a usernameArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		res, err := SetUsername(a.Username)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindSetUsername, Username: res}, nil

	case KindBudget:
		var a budgetArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		if a.Income == nil {
			return nil, fmt.Errorf("%w: income is required", ErrInvalidAmount)
		}
		if a.SavingsGoal == nil {
			return nil, fmt.Errorf("%w: savings_goal is required", ErrInvalidAmount)
		}
		res, err := Budget(float64(*a.Income), *a.SavingsGoal, a.Currency)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindBudget, Budget: res}, nil

	case KindLogExpenses:
		var a expenseArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		res, err := LogExpenses(a.Expenses, a.Currency)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindLogExpenses, Expenses: res}, nil

	case KindMath:
		var a mathArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		v, err := Math(a.Numbers, a.Operation)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindMath, Math: v}, nil
	}

	return nil, &ErrUnknownTool{Name: name}
}

// decodeArgs unmarshals raw into dst. Errors that already carry a
// sentinel pass through; anything else is reported as an invalid argument.
func decodeArgs(raw []byte, dst any) error {
	err := json.Unmarshal(raw, dst)
	if err == nil {
		return nil
	}
	if isToolError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
