package validation

import "testing"

func TestIsValidAccountID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "top level", id: "near", valid: true},
		{name: "sub account", id: "alice.near", valid: true},
		{name: "separators", id: "bob_the-builder.pool.near", valid: true},
		{name: "implicit hex", id: "98793cd91a3f870fb126f66285808c7e094afcfc4eda8a970f6648cdf0dbd6de", valid: true},
		{name: "two chars", id: "ab", valid: true},
		{name: "too short", id: "a", valid: false},
		{name: "too long", id: "a123456789012345678901234567890123456789012345678901234567890123z", valid: false},
		{name: "uppercase", id: "Alice.near", valid: false},
		{name: "leading separator", id: ".alice", valid: false},
		{name: "trailing separator", id: "alice.", valid: false},
		{name: "double separator", id: "alice..near", valid: false},
		{name: "space", id: "alice near", valid: false},
		{name: "empty string", id: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidAccountID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidAccountID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}
