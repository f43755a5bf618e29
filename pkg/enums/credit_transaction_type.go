package enums

import "fmt"

// CreditTransactionType classifies a ledger entry.
type CreditTransactionType string

const (
	CreditTransactionIncome  CreditTransactionType = "income"
	CreditTransactionExpense CreditTransactionType = "expense"
	CreditTransactionReset   CreditTransactionType = "reset"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionIncome,
	CreditTransactionExpense,
	CreditTransactionReset,
}

// IsValid reports whether the value matches a known transaction type.
func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts raw input into CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
