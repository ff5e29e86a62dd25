package casmtypes

import "testing"

func TestVariantSelector(t *testing.T) {
	tests := []struct {
		numVariants, variantIndex int
		want                      int64
		wantErr                   bool
	}{
		{2, 0, 0, false},
		{2, 1, 1, false},
		{3, 1, 1, false},
		{3, 3, 0, true},
		{3, -1, 0, true},
		{0, 0, 0, true},
	}
	for _, tt := range tests {
		got, err := VariantSelector(tt.numVariants, tt.variantIndex)
		if tt.wantErr {
			if err == nil {
				t.Errorf("VariantSelector(%d, %d) = %v, want error", tt.numVariants, tt.variantIndex, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("VariantSelector(%d, %d) unexpected error: %v", tt.numVariants, tt.variantIndex, err)
		}
		if got.Int64() != tt.want {
			t.Errorf("VariantSelector(%d, %d) = %v, want %d", tt.numVariants, tt.variantIndex, got, tt.want)
		}
	}
}
