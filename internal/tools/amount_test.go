package tools

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"750000", 750000, false},
		{"750,000", 750000, false},
		{" 1,250.50 ", 1250.5, false},
		{"1_000", 1000, false},
		{"", 0, true},
		{"lots", 0, true},
		{"NaN", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseAmount(%q) error = %v, want ErrInvalidAmount", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGoal_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in       string
		income   float64
		resolved float64
	}{
		{`"40%"`, 750000, 300000},
		{`"40 %"`, 750000, 300000},
		{`"300000"`, 750000, 300000},
		{`"300,000"`, 750000, 300000},
		{`300000`, 750000, 300000},
		{`"12.5%"`, 1000, 125},
	}

	for _, tt := range tests {
		var g Goal
		if err := json.Unmarshal([]byte(tt.in), &g); err != nil {
			t.Errorf("Unmarshal(%s) error: %v", tt.in, err)
			continue
		}
		if got := g.Resolve(tt.income); got != tt.resolved {
			t.Errorf("Goal(%s).Resolve(%v) = %v, want %v", tt.in, tt.income, got, tt.resolved)
		}
	}
}

func TestGoal_UnmarshalJSON_Invalid(t *testing.T) {
	for _, in := range []string{`"most of it"`, `"%"`, `true`} {
		var g Goal
		err := json.Unmarshal([]byte(in), &g)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Unmarshal(%s) error = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestAmount_UnmarshalJSON(t *testing.T) {
	var e Expense
	if err := json.Unmarshal([]byte(`{"amount":"80,000","category":"rent"}`), &e); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if e.Amount != 80000 {
		t.Errorf("Amount = %v, want 80000", e.Amount)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(out) != `{"amount":80000,"category":"rent"}` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{750000, "750,000.00"},
		{0, "0.00"},
		{1234.5, "1,234.50"},
		{999, "999.00"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.in); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
