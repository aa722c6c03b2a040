package mqtt

import (
	"time"

	"github.com/nugget/azaman/internal/buildinfo"
	"github.com/nugget/azaman/internal/state"
)

// DeviceInfo is the Home Assistant device block shared by every
// discovery payload, so all sensors group under one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the retained discovery payload for one HA sensor.
type SensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo builds the device block. instanceID is the stable
// identifier; deviceName is what the HA UI shows.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Aza Man",
		Model:        "Aza Man Budget Assistant",
		SWVersion:    buildinfo.Version,
	}
}

// BudgetSnapshot is the retained per-thread payload. It carries the
// financial fields only; conversation history never leaves the store.
type BudgetSnapshot struct {
	ThreadID          string    `json:"thread_id"`
	Username          string    `json:"username,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	Income            float64   `json:"income"`
	BudgetForExpenses float64   `json:"budget_for_expenses"`
	Expense           float64   `json:"expense"`
	Remaining         float64   `json:"remaining"`
	SavingsGoal       float64   `json:"savings_goal"`
	ExpenseCount      int       `json:"expense_count"`
	Version           int       `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewBudgetSnapshot extracts the published fields from st.
func NewBudgetSnapshot(st *state.ConversationState) BudgetSnapshot {
	return BudgetSnapshot{
		ThreadID:          st.ThreadID,
		Username:          st.Username,
		Currency:          st.Currency,
		Income:            st.Income,
		BudgetForExpenses: st.BudgetForExpenses,
		Expense:           st.Expense,
		Remaining:         st.Remaining(),
		SavingsGoal:       st.SavingsGoal,
		ExpenseCount:      len(st.Expenses),
		Version:           st.Version,
		UpdatedAt:         st.UpdatedAt,
	}
}
