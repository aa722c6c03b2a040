package tools

import (
	"fmt"
	"strings"
)

// Expense is one logged spending entry.
type Expense struct {
	Amount   Amount `json:"amount"`
	Category string `json:"category"`
	Date     string `json:"date,omitempty"`
}

// BudgetResult is the outcome of [Budget].
type BudgetResult struct {
	Income            float64 `json:"income"`
	Savings           float64 `json:"savings"`
	BudgetForExpenses float64 `json:"budget_for_expenses"`
	Currency          string  `json:"currency"`
	Message           string  `json:"message"`
}

// ExpenseResult is the outcome of [LogExpenses].
type ExpenseResult struct {
	Expense  float64   `json:"expense"`
	Expenses []Expense `json:"expenses"`
	Currency string    `json:"currency"`
	Message  string    `json:"message"`
}

// UsernameResult is the outcome of [SetUsername].
type UsernameResult struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Budget splits income into savings and spending money. The savings
// goal may be absolute or a percentage of income.
func Budget(income float64, goal Goal, currency string) (*BudgetResult, error) {
	if income < 0 {
		return nil, fmt.Errorf("%w: income must not be negative, got %s", ErrInvalidAmount, FormatMoney(income))
	}
	if goal.Value < 0 {
		return nil, fmt.Errorf("%w: savings goal must not be negative, got %s", ErrInvalidAmount, goal)
	}

	currency = normalizeCurrency(currency)
	savings := goal.Resolve(income)
	spend := income - savings

	return &BudgetResult{
		Income:            income,
		Savings:           savings,
		BudgetForExpenses: spend,
		Currency:          currency,
		Message: fmt.Sprintf("Budget created! Income: %s, Savings: %s, Expenses: %s",
			money(income, currency), money(savings, currency), money(spend, currency)),
	}, nil
}

// LogExpenses totals the given list. The caller passes the full list of
// expenses for the period; the total is recomputed from it every time.
func LogExpenses(expenses []Expense, currency string) (*ExpenseResult, error) {
	var total float64
	for i, e := range expenses {
		if e.Amount < 0 {
			return nil, fmt.Errorf("%w: expense %d (%s) has negative amount %s",
				ErrInvalidAmount, i+1, e.Category, FormatMoney(float64(e.Amount)))
		}
		total += float64(e.Amount)
	}

	currency = normalizeCurrency(currency)
	list := make([]Expense, len(expenses))
	copy(list, expenses)

	return &ExpenseResult{
		Expense:  total,
		Expenses: list,
		Currency: currency,
		Message:  fmt.Sprintf("Expenses logged! Total: %s", money(total, currency)),
	}, nil
}

// Operation is an arithmetic operation supported by [Math].
type Operation string

// Supported operations.
const (
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
	OpMultiply Operation = "multiply"
	OpDivide   Operation = "divide"
)

// Math applies op across numbers. Add and multiply reduce the whole
// list; subtract and divide fold left starting from numbers[0].
func Math(numbers []float64, op Operation) (float64, error) {
	if len(numbers) == 0 {
		return 0, fmt.Errorf("%w: at least one number is required", ErrInsufficientOperands)
	}

	switch Operation(strings.ToLower(strings.TrimSpace(string(op)))) {
	case OpAdd:
		var sum float64
		for _, n := range numbers {
			sum += n
		}
		return sum, nil

	case OpMultiply:
		product := 1.0
		for _, n := range numbers {
			product *= n
		}
		return product, nil

	case OpSubtract:
		if len(numbers) < 2 {
			return 0, fmt.Errorf("%w: subtract requires at least two numbers", ErrInsufficientOperands)
		}
		result := numbers[0]
		for _, n := range numbers[1:] {
			result -= n
		}
		return result, nil

	case OpDivide:
		if len(numbers) < 2 {
			return 0, fmt.Errorf("%w: divide requires at least two numbers", ErrInsufficientOperands)
		}
		result := numbers[0]
		for _, n := range numbers[1:] {
			if n == 0 {
				return 0, ErrDivisionByZero
			}
			result /= n
		}
		return result, nil

	default:
		return 0, fmt.Errorf("%w: %q (use add, subtract, multiply or divide)", ErrUnsupportedOperation, op)
	}
}

// SetUsername records the name the user wants to be called.
func SetUsername(username string) (*UsernameResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username must not be empty", ErrInvalidArgument)
	}
	return &UsernameResult{
		Username: username,
		Message:  "Username set to " + username,
	}, nil
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func money(v float64, currency string) string {
	if currency == "" {
		return FormatMoney(v)
	}
	return FormatMoney(v) + " " + currency
}
