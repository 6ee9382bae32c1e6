package domain

import (
	"errors"
	"testing"
)

func TestCartItem_Validate(t *testing.T) {
	tests := []struct {
		name string
		item CartItem
		want error
	}{
		{name: "ok", item: CartItem{ProductID: "p", VariantID: "v", Quantity: 1}},
		{name: "zero qty checked first", item: CartItem{Quantity: 0}, want: ErrItemQtyInvalid},
		{name: "negative qty", item: CartItem{ProductID: "p", VariantID: "v", Quantity: -3}, want: ErrItemQtyInvalid},
		{name: "missing product", item: CartItem{VariantID: "v", Quantity: 1}, want: ErrProductIDRequired},
		{name: "missing variant", item: CartItem{ProductID: "p", Quantity: 1}, want: ErrVariantIDRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected %v (invalid input), got %v", tt.want, err)
			}
		})
	}
}

func TestVendor_DisplayName(t *testing.T) {
	if got := (Vendor{CompanyName: "Acme", FullName: "Jane Doe"}).DisplayName(); got != "Acme" {
		t.Fatalf("expected company name, got %q", got)
	}
	if got := (Vendor{CompanyName: " ", FullName: "Jane Doe"}).DisplayName(); got != "Jane Doe" {
		t.Fatalf("expected full name fallback, got %q", got)
	}
}

func TestProduct_FindVariantAndImage(t *testing.T) {
	p := Product{Photos: []string{"a.png", "b.png"}, Variants: []Variant{{ID: "v1"}, {ID: "v2"}}}

	if v, ok := p.FindVariant("v2"); !ok || v.ID != "v2" {
		t.Fatal("expected to find v2")
	}
	if _, ok := p.FindVariant("v3"); ok {
		t.Fatal("v3 must not exist")
	}
	if p.Image() != "a.png" {
		t.Fatalf("unexpected image %q", p.Image())
	}
	if (Product{}).Image() != "" {
		t.Fatal("product without photos must have empty image")
	}
}
