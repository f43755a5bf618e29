package enums

import "fmt"

// CreditBucket names the pool a ledger entry touched.
type CreditBucket string

const (
	CreditBucketPackage     CreditBucket = "package"
	CreditBucketIndependent CreditBucket = "independent"
)

var validCreditBuckets = []CreditBucket{
	CreditBucketPackage,
	CreditBucketIndependent,
}

func (b CreditBucket) IsValid() bool {
	for _, candidate := range validCreditBuckets {
		if candidate == b {
			return true
		}
	}
	return false
}

func ParseCreditBucket(value string) (CreditBucket, error) {
	for _, candidate := range validCreditBuckets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit bucket %q", value)
}
