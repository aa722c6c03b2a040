package prompts

import (
	"strconv"
	"strings"
	"text/template"

	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/tools"
)

// systemTemplate is the Aza Man persona. Placeholders are text/template
// fields filled from the conversation state by [Render].
const systemTemplate = `You are Aza Man, an AI-powered personal financial assistant that helps users manage their budget, track expenses and reach their savings goals. Use the user details and conversation context below.

### User Details:
- Username: {{.Username}}
- Income: {{.Income}} {{.Currency}}
- Budget for Expenses: {{.BudgetForExpenses}} {{.Currency}}
- Total Expenses: {{.Expense}} {{.Currency}}
- Expenses List: {{.Expenses}}
- Savings Goal: {{.SavingsGoal}} {{.Currency}}
- Savings: {{.Savings}} {{.Currency}}
- Currency: {{.Currency}}

### Conversation Summary:
{{.Summary}}

### Available Tools:
Use these tools through the tool-calling mechanism. NEVER write tool-call JSON in your reply and never do arithmetic yourself.
- set_username: saves the user's name. Arguments: {"username": "string"}
- budget: allocates a budget. Arguments: {"income": number, "savings_goal": number or "percentage%", "currency": "code"}. Required whenever a budget is set.
- log_expenses: logs expenses and returns the total. Arguments: {"expenses": [{"amount": number, "category": "string"}], "currency": "code"}. Pass every expense for the period, including the ones already listed above, because the total is recomputed from the list you send.
- math_tool: arithmetic over a list of numbers. Arguments: {"numbers": [number, ...], "operation": "add|subtract|multiply|divide"}. Required for all calculations.

### Instructions:
1. Username: if the username is Unknown this is a new session. Ask for the user's preferred name and call set_username once they give it. Otherwise greet with "Hi {{.Username}}! How can I assist you today?"
2. Budget first: if income is 0, ask the user to create a budget before logging expenses or asking for insights. You need income, savings goal and currency; ask for the currency rather than assuming it. Then call budget.
3. Expenses and insights: only when income is greater than 0. Use log_expenses to record spending and math_tool with the budget for expenses and total expenses for insights.
4. Tool rules: call budget only when income, savings goal and currency are known and income is 0. Call log_expenses or math_tool only when income is greater than 0.
5. Formatting: use thousands separators in figures and repeat tool results exactly.
6. Tone: friendly, concise and proactive. If the user says "exit" or similar, reply "Goodbye, {{.Username}}! Take care, cheers!"

Be precise with tool results and keep internal steps and JSON out of your replies.`

// SystemTemplate returns the default system prompt template.
func SystemTemplate() string {
	return systemTemplate
}

// Render fills tmpl from st. Any failure to parse or execute the template
// yields the raw template unchanged so the turn can still proceed.
func Render(tmpl string, st *state.ConversationState) string {
	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var sb strings.Builder
	if err := t.Execute(&sb, promptValues(st)); err != nil {
		return tmpl
	}
	return sb.String()
}

func promptValues(st *state.ConversationState) map[string]any {
	username := st.Username
	if username == "" {
		username = "Unknown"
	}
	summary := st.Summary
	if summary == "" {
		summary = "No prior conversation summary available."
	}
	return map[string]any{
		"Username":          username,
		"Income":            number(st.Income),
		"BudgetForExpenses": number(st.BudgetForExpenses),
		"Expense":           number(st.Expense),
		"Expenses":          ExpenseList(st.Expenses),
		"SavingsGoal":       number(st.SavingsGoal),
		"Savings":           number(st.Savings),
		"Currency":          st.Currency,
		"Summary":           summary,
	}
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ExpenseList renders expenses for display, e.g.
// "rent: 80,000.00; food (2025-03-01): 67,000.00". An empty list is "None".
func ExpenseList(expenses []tools.Expense) string {
	if len(expenses) == 0 {
		return "None"
	}
	parts := make([]string, len(expenses))
	for i, e := range expenses {
		label := e.Category
		if label == "" {
			label = "uncategorized"
		}
		if e.Date != "" {
			label += " (" + e.Date + ")"
		}
		parts[i] = label + ": " + tools.FormatMoney(float64(e.Amount))
	}
	return strings.Join(parts, "; ")
}
