package enums

import "testing"

func TestOrderStatusCancelsOnlyOnPaymentFailed(t *testing.T) {
	for status := range orderStatusNames {
		want := status == OrderStatusPaymentFailed
		if got := status.CancelsOrder(); got != want {
			t.Fatalf("status %s: expected cancels=%v got %v", status, want, got)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	if s, err := ParseOrderStatus(66); err != nil || s != OrderStatusUnpaid {
		t.Fatalf("expected unpaid, got %v err=%v", s, err)
	}
	if _, err := ParseOrderStatus(7); err == nil {
		t.Fatal("expected error for unknown status 7")
	}
	if OrderStatus(42).String() != "42" {
		t.Fatalf("unknown status should render its code")
	}
}

func TestParsePromotionType(t *testing.T) {
	if p, err := ParsePromotionType(" percent "); err != nil || p != PromotionTypePercent {
		t.Fatalf("expected PERCENT, got %q err=%v", p, err)
	}
	if _, err := ParsePromotionType("BOGO"); err == nil {
		t.Fatal("expected invalid promotion type")
	}
}
