package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("điện thoại", 4); got != "điện..." {
		t.Errorf("multi-byte truncate: got %q", got)
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price    float64
		currency string
		want     string
	}{
		{28990000, "VND", "28,990,000đ"},
		{28990000, "", "28,990,000đ"},
		{1234.5, "usd", "1,234.50 USD"},
		{999, "EUR", "999.00 EUR"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.price, tt.currency); got != tt.want {
			t.Errorf("FormatPrice(%v, %q) = %q, want %q", tt.price, tt.currency, got, tt.want)
		}
	}
	if got := GroupThousands(5000000); got != "5,000,000" {
		t.Errorf("GroupThousands = %q", got)
	}
}

func TestCollapseSpace(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  what   is\tPython?\n", "what is Python?"},
		{"phone", "phone"},
		{" \n\t ", ""},
	}
	for _, tt := range tests {
		if got := CollapseSpace(tt.in); got != tt.want {
			t.Errorf("CollapseSpace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
