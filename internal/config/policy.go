package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
)

// AlertPolicyFile is the YAML shape of the alert thresholds. Omitted keys
// keep their defaults.
//
//	budget_warning: "0.8"
//	budget_exceeded: "1.0"
//	bill_reminder_days: 3
//	low_balance_floor: "100"
//	debt_due_days: 5
type AlertPolicyFile struct {
	BudgetWarning    *string `yaml:"budget_warning"`
	BudgetExceeded   *string `yaml:"budget_exceeded"`
	BillReminderDays *int    `yaml:"bill_reminder_days"`
	LowBalanceFloor  *string `yaml:"low_balance_floor"`
	DebtDueDays      *int    `yaml:"debt_due_days"`
}

// LoadAlertPolicy reads thresholds from path. An empty path returns the defaults.
func LoadAlertPolicy(path string) (alerts.Thresholds, error) {
	t := alerts.DefaultThresholds()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return t, fmt.Errorf("failed to read alert policy: %w", err)
	}
	var f AlertPolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return t, fmt.Errorf("failed to parse alert policy: %w", err)
	}
	return f.apply(t)
}

func (f AlertPolicyFile) apply(t alerts.Thresholds) (alerts.Thresholds, error) {
	amounts := []struct {
		name string
		src  *string
		dst  *decimal.Decimal
	}{
		{"budget_warning", f.BudgetWarning, &t.BudgetWarning},
		{"budget_exceeded", f.BudgetExceeded, &t.BudgetExceeded},
		{"low_balance_floor", f.LowBalanceFloor, &t.LowBalanceFloor},
	}
	for _, a := range amounts {
		if a.src == nil {
			continue
		}
		v, err := core.ParseAmount(*a.src)
		if err != nil {
			return t, fmt.Errorf("alert policy %s: %w", a.name, err)
		}
		*a.dst = v
	}
	if f.BillReminderDays != nil {
		t.BillReminderDays = *f.BillReminderDays
	}
	if f.DebtDueDays != nil {
		t.DebtDueDays = *f.DebtDueDays
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("alert policy: %w", err)
	}
	return t, nil
}
