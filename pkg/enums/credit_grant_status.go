package enums

import "fmt"

// CreditGrantStatus tracks the lifecycle of a package entitlement.
type CreditGrantStatus string

const (
	CreditGrantActive   CreditGrantStatus = "active"
	CreditGrantCanceled CreditGrantStatus = "canceled"
	CreditGrantRefunded CreditGrantStatus = "refunded"
	CreditGrantExpired  CreditGrantStatus = "expired"
)

var validCreditGrantStatuses = []CreditGrantStatus{
	CreditGrantActive,
	CreditGrantCanceled,
	CreditGrantRefunded,
	CreditGrantExpired,
}

// IsValid reports whether the value matches a known grant status.
func (s CreditGrantStatus) IsValid() bool {
	for _, candidate := range validCreditGrantStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCreditGrantStatus converts raw input into CreditGrantStatus.
func ParseCreditGrantStatus(value string) (CreditGrantStatus, error) {
	for _, candidate := range validCreditGrantStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit grant status %q", value)
}
