package application

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// otpKeywords are matched as lowercase substrings of an element's id, name,
// placeholder and aria-label. Each hit is worth keywordWeight points.
var otpKeywords = []string{
	"otp", "totp", "2fa", "mfa", "auth", "verify", "code", "token", "passcode",
	"驗證", "验证", "动态", "動態",
}

const (
	keywordWeight   = 2
	maxLengthWeight = 1
)

// OTPCandidate is an input element that survived filtering, with its score
// and the selector that addresses it.
type OTPCandidate struct {
	Element  model.ElementDescriptor `json:"element"`
	Score    int                     `json:"score"`
	Selector string                  `json:"selector"`
}

// DetectOTPSelector picks the input most likely to be the one-time-password
// field. It returns false when no element qualifies.
func DetectOTPSelector(elements []model.ElementDescriptor) (string, bool) {
	ranked := RankOTPCandidates(elements)
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0].Selector, true
}

// RankOTPCandidates scores every eligible element and returns the survivors
// best first. Equal scores keep input order.
func RankOTPCandidates(elements []model.ElementDescriptor) []OTPCandidate {
	var candidates []OTPCandidate
	for _, el := range elements {
		if isCredentialField(el) {
			continue
		}

		score := scoreOTPField(el)
		if score <= 0 {
			continue
		}

		selector, ok := otpFieldSelector(el)
		if !ok {
			continue
		}

		candidates = append(candidates, OTPCandidate{Element: el, Score: score, Selector: selector})
	}

	slices.SortStableFunc(candidates, func(a, b OTPCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return candidates
}

// isCredentialField reports whether el is a username or password input.
func isCredentialField(el model.ElementDescriptor) bool {
	switch strings.ToLower(strings.TrimSpace(el.Type)) {
	case "password", "hidden":
		return true
	}

	switch strings.ToLower(strings.TrimSpace(el.Autocomplete)) {
	case "username", "current-password", "password", "email":
		return true
	}

	return false
}

func scoreOTPField(el model.ElementDescriptor) int {
	haystack := strings.ToLower(strings.Join([]string{
		strings.TrimSpace(el.ID),
		strings.TrimSpace(el.Name),
		strings.TrimSpace(el.Placeholder),
		strings.TrimSpace(el.AriaLabel),
	}, " "))

	score := 0
	for _, kw := range otpKeywords {
		if strings.Contains(haystack, kw) {
			score += keywordWeight
		}
	}

	switch strings.TrimSpace(el.MaxLength) {
	case "6", "8":
		score += maxLengthWeight
	}

	return score
}

func otpFieldSelector(el model.ElementDescriptor) (string, bool) {
	if id := strings.TrimSpace(el.ID); id != "" {
		return "#" + id, true
	}
	if name := strings.TrimSpace(el.Name); name != "" {
		return fmt.Sprintf(`input[name="%s"]`, name), true
	}
	return "", false
}
