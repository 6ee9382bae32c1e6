package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSellingPrice(t *testing.T) {
	got := SellingPrice(decimal.NewFromInt(1250), decimal.NewFromInt(20))
	if !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000, got %s", got)
	}

	got = SellingPrice(decimal.NewFromInt(1000), decimal.Zero)
	if !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected unchanged price, got %s", got)
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{amount: "2100", want: 210000},
		{amount: "1575", want: 157500},
		{amount: "10.005", want: 1001},
		{amount: "10.004", want: 1000},
		{amount: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := ToMinorUnits(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Fatalf("ToMinorUnits(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	if got := FromMinorUnits(157550); !got.Equal(decimal.RequireFromString("1575.5")) {
		t.Fatalf("unexpected amount %s", got)
	}
}
