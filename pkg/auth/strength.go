package auth

import (
	"unicode"
	"unicode/utf8"
)

// Strength is a rough rating of a master password.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthFair
	StrengthGood
	StrengthStrong
)

// String returns a human-readable representation of the rating.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "weak"
	case StrengthFair:
		return "fair"
	case StrengthGood:
		return "good"
	case StrengthStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// StrengthReport is advisory output shown during first-time setup. Only an
// empty password is rejected; everything else is a warning.
type StrengthReport struct {
	Valid    bool
	Strength Strength
	Warnings []string
}

// CheckStrength rates password by length and character-class variety.
func CheckStrength(password string) StrengthReport {
	length := utf8.RuneCountInString(password)
	if length == 0 {
		return StrengthReport{
			Valid:    false,
			Strength: StrengthWeak,
			Warnings: []string{"Master password must not be empty"},
		}
	}

	var hasUpper, hasLower, hasDigit, hasOther bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}

	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasOther} {
		if ok {
			complexity++
		}
	}

	report := StrengthReport{Valid: true}
	if complexity < 2 {
		report.Warnings = append(report.Warnings,
			"Consider mixing letters with digits or symbols")
	}
	if length < 12 {
		report.Warnings = append(report.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && length >= 16:
		report.Strength = StrengthStrong
	case complexity >= 2 && length >= 12:
		report.Strength = StrengthGood
	case complexity >= 2 || length >= 12:
		report.Strength = StrengthFair
	default:
		report.Strength = StrengthWeak
	}
	return report
}
