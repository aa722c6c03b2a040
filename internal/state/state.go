// Package state holds the per-thread conversation state and its
// persistence. A ConversationState carries the model-visible history and
// the user's financial figures; stores persist it as versioned,
// content-only snapshots.
package state

import (
	"regexp"
	"slices"
	"time"

	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/tools"
)

// ConversationState is everything the assistant knows about one thread.
type ConversationState struct {
	ThreadID string        `json:"thread_id"`
	Messages []llm.Message `json:"messages"`
	Username string        `json:"username"`

	Income            float64         `json:"income"`
	BudgetForExpenses float64         `json:"budget_for_expenses"`
	Expense           float64         `json:"expense"`
	Expenses          []tools.Expense `json:"expenses"`
	SavingsGoal       float64         `json:"savings_goal"`
	Savings           float64         `json:"savings"`
	Currency          string          `json:"currency"`

	Summary string `json:"summary"`

	// Store metadata, never shown to the model.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a state at defaults for threadID.
func New(threadID string) *ConversationState {
	return &ConversationState{
		ThreadID: threadID,
		Messages: []llm.Message{},
		Expenses: []tools.Expense{},
	}
}

// Clone returns a deep copy.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Messages = make([]llm.Message, len(s.Messages))
	for i, m := range s.Messages {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		c.Messages[i] = m
	}
	c.Expenses = slices.Clone(s.Expenses)
	if c.Expenses == nil {
		c.Expenses = []tools.Expense{}
	}
	return &c
}

// Project returns a copy whose messages keep only role and content.
// Tool-call ids and structured tool-call payloads are dropped, which is
// the form every store persists.
func (s *ConversationState) Project() *ConversationState {
	c := s.Clone()
	for i, m := range c.Messages {
		c.Messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return c
}

// Apply merges a tool result into the state. Only the fields owned by
// the result's tool change; math results change nothing.
func (s *ConversationState) Apply(res *tools.Result) {
	if res == nil {
		return
	}
	switch res.Kind {
	case tools.KindBudget:
		b := res.Budget
		s.Income = b.Income
		s.Savings = b.Savings
		s.SavingsGoal = b.Savings
		s.BudgetForExpenses = b.BudgetForExpenses
		s.Currency = b.Currency
	case tools.KindLogExpenses:
		e := res.Expenses
		s.Expense = e.Expense
		s.Expenses = slices.Clone(e.Expenses)
		if e.Currency != "" {
			s.Currency = e.Currency
		}
	case tools.KindSetUsername:
		s.Username = res.Username.Username
	}
}

// IsNewSession reports whether the user has not introduced themselves yet.
func (s *ConversationState) IsNewSession() bool {
	return s.Username == ""
}

// HasBudget reports whether a budget has been created.
func (s *ConversationState) HasBudget() bool {
	return s.Income > 0
}

// Remaining returns the spending money left after logged expenses.
func (s *ConversationState) Remaining() float64 {
	return s.BudgetForExpenses - s.Expense
}

var userIDPattern = regexp.MustCompile(`^[A-Za-z]{2,8}[0-9]{2}$`)

// ValidUserID reports whether id has the shape the chat surfaces accept:
// two to eight letters followed by two digits.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ThreadID returns the conversation thread bound to a user id.
func ThreadID(userID string) string {
	return "thread_" + userID
}
