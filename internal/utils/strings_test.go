package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "2025-04",
			expected: []string{"2025-04"},
		},
		{
			name:     "concatenated months",
			input:    "2025-04,2025-05,2025-06",
			expected: []string{"2025-04", "2025-05", "2025-06"},
		},
		{
			name:     "values with varied spacing",
			input:    "100.00,  250.50 , 33.33",
			expected: []string{"100.00", "250.50", "33.33"},
		},
		{
			name:     "trailing comma",
			input:    "100.00,",
			expected: []string{"100.00"},
		},
		{
			name:     "leading comma",
			input:    ",250.50",
			expected: []string{"250.50"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "comma only",
			input:    ",",
			expected: nil,
		},
		{
			name:     "repeated commas",
			input:    ",,2025-04,,2025-05,,",
			expected: []string{"2025-04", "2025-05"},
		},
		{
			name:     "pairs with internal separator preserved",
			input:    "Salary:3500.00, MealAllowance:880.00",
			expected: []string{"Salary:3500.00", "MealAllowance:880.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCSV(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseCSV_PreservesInput(t *testing.T) {
	input := "2025-04, 2025-05"
	originalInput := input

	_ = ParseCSV(input)

	assert.Equal(t, originalInput, input, "input should not be modified")
}
