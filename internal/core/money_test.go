package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"¥12.50", "12.5", true},
		{"￥0.01", "0.01", true},
		{"35.00元", "35", true},
		{"1,234.56", "1234.56", true},
		{" 2.50\t", "2.5", true},
		{"-3.20", "-3.2", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"¥", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestAmountsRoundTripExactly(t *testing.T) {
	// 0.1 + 0.2 drifts in float64; it must not here.
	sum := decimal.Zero
	for _, s := range []string{"0.1", "0.2"} {
		d, err := ParseAmount(s)
		if err != nil {
			t.Fatal(err)
		}
		sum = sum.Add(d)
	}
	if FormatAmount(sum) != "0.30" {
		t.Fatalf("expected 0.30, got %s", FormatAmount(sum))
	}
	if got := RoundCents(decimal.RequireFromString("-10.005")); got.String() != "-10.01" {
		t.Fatalf("expected half away from zero, got %s", got)
	}
}

func TestDebitCredit(t *testing.T) {
	d := decimal.RequireFromString("12.5")
	if !Debit(d).Equal(decimal.RequireFromString("-12.5")) || !Debit(d.Neg()).IsNegative() {
		t.Fatalf("Debit must always be negative")
	}
	if !Credit(d.Neg()).Equal(d) {
		t.Fatalf("Credit must always be positive")
	}
}
