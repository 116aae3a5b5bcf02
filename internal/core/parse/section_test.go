package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySectionHeader(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"尾隨冒號", "Sauce:", HeaderTrailingColon},
		{"for the 措辭", "for the marinade", HeaderForThePhrase},
		{"標題詞彙", "Garnish", HeaderVocabulary},
		{"後設標題", "Ingredients", HeaderVocabulary},
		{"全大寫", "TOPPING IDEAS", HeaderAllCaps},
		{"開頭 For", "For serving", HeaderLeadingFor},
		{"編號標題", "Part 2", HeaderNumbered},
		{"純括號", "(see notes below)", HeaderParentheticalOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ClassifySectionHeader(tt.input)
			assert.True(t, ok, "%q 必須判定為標題", tt.input)
			// 命中的原因碼必須是七種列舉之一，不得為 unknown
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassifySectionHeaderNegative(t *testing.T) {
	for _, input := range []string{"soy sauce", "2 tbsp butter", "peanut butter", "ok"} {
		_, ok := ClassifySectionHeader(input)
		assert.False(t, ok, "%q 不得判定為標題", input)
	}
}

func TestHeaderLabel(t *testing.T) {
	assert.Equal(t, "Sauce", HeaderLabel("Sauce:"))
	assert.Equal(t, "marinade", HeaderLabel("for the marinade:"))
	assert.Equal(t, "serving", HeaderLabel("For serving"))
}
