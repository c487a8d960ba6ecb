package enums

import (
	"fmt"
	"strings"
)

// PromotionType selects the discount mechanism of a promotion detail.
type PromotionType string

const (
	PromotionTypePercent  PromotionType = "PERCENT"
	PromotionTypeSubtract PromotionType = "SUBTRACT"
)

var validPromotionTypes = []PromotionType{
	PromotionTypePercent,
	PromotionTypeSubtract,
}

// String implements fmt.Stringer.
func (p PromotionType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PromotionType.
func (p PromotionType) IsValid() bool {
	for _, candidate := range validPromotionTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePromotionType converts raw input into a PromotionType.
func ParsePromotionType(value string) (PromotionType, error) {
	normalized := PromotionType(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid promotion type %q", value)
}
