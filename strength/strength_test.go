package strength

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_Short(t *testing.T) {
	r := Evaluate("short")
	assert.False(t, r.Valid)
	assert.Less(t, r.Score, MinScore)
	assert.Equal(t, RemarkTooShort, r.Feedback[0], "length remark comes first")
}

func TestEvaluate_Strong(t *testing.T) {
	r := Evaluate("Tr0ub4dor&3-longenough")
	assert.True(t, r.Valid)
	assert.Equal(t, 60, r.Score)
	assert.Empty(t, r.Feedback)
}

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		score      int
		valid      bool
		feedback   []string
	}{
		{"Empty", "", 0, false, []string{RemarkTooShort, RemarkMixedCase, RemarkDigits, RemarkSymbols}},
		{"MediumLength", "Abcdefg1!", 40, true, []string{RemarkRecommendLen}},
		{"MediumLowerOnly", "abcdefgij", 10, false, []string{RemarkRecommendLen, RemarkMixedCase, RemarkDigits, RemarkSymbols}},
		{"LongSentence", "correct horse battery staple!", 40, true, []string{RemarkMixedCase, RemarkDigits}},
		{"TwelveMixed", "Abcdefghijk1", 40, true, []string{RemarkSymbols}},
		{"Repeats", "aaaaaaaaaaaa", 10, false, []string{RemarkMixedCase, RemarkDigits, RemarkSymbols, RemarkRepeatedChars}},
		{"Common", "Passw0rd!", 0, false, []string{RemarkRecommendLen, RemarkCommon}},
		{"CommonWithSuffix", "P@ssw0rd123", 0, false, []string{RemarkRecommendLen, RemarkCommon}},
		{"SevenCharsCannotPass", "Ab1!xyz", 30, false, []string{RemarkTooShort}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(tt.passphrase)
			assert.Equal(t, tt.score, r.Score)
			assert.Equal(t, tt.valid, r.Valid)
			assert.Equal(t, tt.feedback, r.Feedback)
		})
	}
}

func TestEvaluate_CountsRunes(t *testing.T) {
	// Eight two-byte runes are eight characters, not sixteen.
	r := Evaluate("ééééÉÉÉÉ")
	assert.Contains(t, r.Feedback, RemarkRecommendLen)
	assert.NotContains(t, r.Feedback, RemarkTooShort)
}

func TestEvaluate_Deterministic(t *testing.T) {
	a := Evaluate("Some Passphrase 42")
	b := Evaluate("Some Passphrase 42")
	assert.Equal(t, a, b)
}

func TestEvaluate_ValidMatchesThreshold(t *testing.T) {
	for _, p := range []string{"", "a", "Abcdefg1!", "Tr0ub4dor&3-longenough", "aaaaaaaaaaaa", "x Y 1 z"} {
		r := Evaluate(p)
		assert.Equal(t, r.Score >= MinScore, r.Valid, "passphrase %q", p)
	}
}
