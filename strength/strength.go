// Package strength scores passphrases before they are used to seal a
// configuration. The result is advisory: nothing in the envelope codec
// consults it.
package strength

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinScore is the score a passphrase must reach to be reported valid.
	MinScore = 40

	// MinLength is the shortest passphrase that earns any length credit.
	MinLength = 8
	// RecommendedLength earns full length credit.
	RecommendedLength = 12
	// LongLength earns the long-passphrase bonus.
	LongLength = 20
)

const (
	scoreRecommendedLength = 20
	scoreMinLength         = 10
	scoreLongBonus         = 10
	scoreMixedCase         = 10
	scoreDigit             = 10
	scoreSymbol            = 10
	penaltyRepeats         = 10

	maxRepeatRun = 3
)

// Feedback remarks, in the order they may appear in a Report.
const (
	RemarkTooShort      = "Passphrase must be at least 8 characters"
	RemarkRecommendLen  = "Use at least 12 characters for better security"
	RemarkMixedCase     = "Mix upper and lower case letters"
	RemarkDigits        = "Add numbers"
	RemarkSymbols       = "Add symbols"
	RemarkRepeatedChars = "Avoid repeated characters"
	RemarkCommon        = "Avoid common passwords"
)

// common holds well-known passwords after trailing digits and symbols are
// trimmed, the rest is lower-cased, digit and symbol substitutions are
// undone and everything but letters is dropped.
var common = map[string]struct{}{
	"password":      {},
	"passphrase":    {},
	"qwerty":        {},
	"qwertyuiop":    {},
	"letmein":       {},
	"welcome":       {},
	"admin":         {},
	"administrator": {},
	"iloveyou":      {},
	"dragon":        {},
	"monkey":        {},
	"football":      {},
	"baseball":      {},
	"sunshine":      {},
	"trustno":       {},
	"changeme":      {},
	"secret":        {},
	"abcdefgh":      {},
}

var deleet = strings.NewReplacer("0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s")

// Report is the outcome of evaluating one passphrase.
type Report struct {
	Score    int      `json:"score"`
	Valid    bool     `json:"valid"`
	Feedback []string `json:"feedback"`
}

// Evaluate scores passphrase. It is pure and deterministic. Length is
// counted in Unicode code points.
func Evaluate(passphrase string) Report {
	feedback := []string{}
	score := 0

	switch n := utf8.RuneCountInString(passphrase); {
	case n >= RecommendedLength:
		score += scoreRecommendedLength
		if n >= LongLength {
			score += scoreLongBonus
		}
	case n >= MinLength:
		score += scoreMinLength
		feedback = append(feedback, RemarkRecommendLen)
	default:
		feedback = append(feedback, RemarkTooShort)
	}

	c := classify(passphrase)
	if c.upper && c.lower {
		score += scoreMixedCase
	} else {
		feedback = append(feedback, RemarkMixedCase)
	}
	if c.digit {
		score += scoreDigit
	} else {
		feedback = append(feedback, RemarkDigits)
	}
	if c.symbol {
		score += scoreSymbol
	} else {
		feedback = append(feedback, RemarkSymbols)
	}
	if c.longestRun >= maxRepeatRun {
		score -= penaltyRepeats
		feedback = append(feedback, RemarkRepeatedChars)
	}

	if isCommon(passphrase) {
		score = 0
		feedback = append(feedback, RemarkCommon)
	}

	if score < 0 {
		score = 0
	}
	return Report{
		Score:    score,
		Valid:    score >= MinScore,
		Feedback: feedback,
	}
}

type composition struct {
	upper, lower, digit, symbol bool
	longestRun                  int
}

func classify(s string) composition {
	var c composition
	var prev rune
	run := 0
	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsLetter(r):
			// Caseless letters (e.g. CJK) count as neither case.
		default:
			c.symbol = true
		}

		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > c.longestRun {
			c.longestRun = run
		}
		prev = r
	}
	return c
}

func isCommon(s string) bool {
	trimmed := strings.TrimRightFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	folded := deleet.Replace(strings.ToLower(trimmed))
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, folded)
	_, ok := common[letters]
	return ok
}
