package domain

import "testing"

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "899.99", want: 89999},
		{in: "0.01", want: 1},
		{in: "50000", want: 5000000},
		{in: "12.5", want: 1250},
		{in: "1.230", want: 123},
		{in: "1.234", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMoney(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseMoney(%q)=%d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestMoneyStringAndMul(t *testing.T) {
	price := MustMoney("899.99")
	if got := price.Mul(2).String(); got != "1799.98" {
		t.Fatalf("expected 1799.98, got %s", got)
	}
	if got := Money(0).String(); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}
