// Package textload_test tests text ingestion and symbol normalization.
package textload_test

import (
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/zeng-zr/tts-batch/internal/textload"
)

func newTestLoader(t *testing.T) *textload.Loader {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "textload-test.log")
	require.NoError(t, err)

	return textload.NewLoader(testLogger)
}

func TestConvertSpecialSymbols(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "numeric range",
			input:    "剂量为200-500毫克",
			expected: "剂量为200到500毫克",
		},
		{
			name:     "non-digit dash untouched",
			input:    "a-b",
			expected: "a-b",
		},
		{
			name:     "small percent uses Chinese numeral",
			input:    "5%",
			expected: "百分之五",
		},
		{
			name:     "large percent keeps digits",
			input:    "50%",
			expected: "百分之50",
		},
		{
			name:     "decimal percent keeps digits",
			input:    "12.5%",
			expected: "百分之12.5",
		},
		{
			name:     "comparison symbols",
			input:    "3<5且5>3",
			expected: "3小于5且5大于3",
		},
		{
			name:     "plus minus and multiply",
			input:    "误差±2，3×4",
			expected: "误差正负2，3乘以4",
		},
		{
			name:     "fullwidth percent sign",
			input:    "浓度３％",
			expected: "浓度３百分之",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := loader.ConvertSpecialSymbols(testCase.input)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}
		})
	}
}

// TestConvertSpecialSymbols_Idempotent verifies that already-converted text is
// a fixed point of the normalization pass.
func TestConvertSpecialSymbols_Idempotent(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)

	inputs := []string{
		"剂量为200-500毫克，浓度5%",
		"温度<30℃，湿度50%",
		"正常文本无符号",
	}

	for _, input := range inputs {
		once := loader.ConvertSpecialSymbols(input)
		twice := loader.ConvertSpecialSymbols(once)

		if once != twice {
			t.Errorf("Conversion not idempotent: %q -> %q -> %q", input, once, twice)
		}
	}
}
