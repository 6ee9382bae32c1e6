package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPayment_Validate(t *testing.T) {
	tests := []struct {
		name     string
		payment  *Payment
		errCount int
	}{
		{
			name:     "valid payment",
			payment:  &Payment{Reference: "ref-1", Amount: decimal.NewFromInt(1000)},
			errCount: 0,
		},
		{
			name:     "missing reference",
			payment:  &Payment{Amount: decimal.NewFromInt(10)},
			errCount: 1,
		},
		{
			name:     "missing reference and negative amount",
			payment:  &Payment{Amount: decimal.NewFromInt(-1)},
			errCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := tt.payment.Validate(); len(errs) != tt.errCount {
				t.Errorf("Validate() errors = %v, want %d", errs, tt.errCount)
			}
		})
	}
}

func TestPayment_CloneCopiesMetadata(t *testing.T) {
	p := Payment{Reference: "ref", Metadata: map[string]string{"orderId": "o-1"}}
	clone := p.Clone()
	clone.Metadata["orderId"] = "o-2"

	if p.Metadata["orderId"] != "o-1" {
		t.Fatal("clone must not share metadata")
	}
}
