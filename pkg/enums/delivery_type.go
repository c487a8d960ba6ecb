package enums

import "fmt"

// DeliveryType distinguishes courier delivery from customer pickup.
type DeliveryType string

const (
	DeliveryTypeCourier DeliveryType = "courier"
	DeliveryTypePickup  DeliveryType = "pickup"
)

// IsValid reports whether the value is a known DeliveryType.
func (d DeliveryType) IsValid() bool {
	return d == DeliveryTypeCourier || d == DeliveryTypePickup
}

// ParseDeliveryType converts raw input into a DeliveryType.
func ParseDeliveryType(value string) (DeliveryType, error) {
	d := DeliveryType(value)
	if !d.IsValid() {
		return "", fmt.Errorf("invalid delivery type %q", value)
	}
	return d, nil
}
