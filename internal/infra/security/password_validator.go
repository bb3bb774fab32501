package security

import (
	"fmt"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) *PasswordValidationError
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) *PasswordValidationError

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) *PasswordValidationError {
	return f(password)
}

// PasswordValidator applies a sequence of password rules.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordValidator{rules: copied}
}

const defaultMinStrengthScore = 3

// DefaultPasswordValidator returns the platform policy: minimum length, one
// character from each of the four classes, and a minimum zxcvbn strength
// score. Non-positive arguments fall back to the platform defaults.
func DefaultPasswordValidator(minLength, minStrengthScore int) *PasswordValidator {
	if minLength <= 0 {
		minLength = 8
	}
	if minStrengthScore <= 0 {
		minStrengthScore = defaultMinStrengthScore
	}
	return NewPasswordValidator(
		MinLengthRule(minLength),
		RequireUppercaseRule(),
		RequireLowercaseRule(),
		RequireDigitRule(),
		RequireSymbolRule(),
		RequirePasswordStrengthRule(minStrengthScore),
	)
}

// Validate runs every rule and returns the full list of violations so
// callers can surface an itemized rejection. An empty slice means the
// password passes.
func (v *PasswordValidator) Validate(password string) []PasswordValidationError {
	if v == nil {
		return nil
	}

	var violations []PasswordValidationError
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			violations = append(violations, *err)
		}
	}
	return violations
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

// RequireUppercaseRule ensures the password contains an uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return requireClassRule("uppercase", "password must include at least one uppercase letter", unicode.IsUpper)
}

// RequireLowercaseRule ensures the password contains a lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return requireClassRule("lowercase", "password must include at least one lowercase letter", unicode.IsLower)
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return requireClassRule("digit", "password must include at least one digit", unicode.IsDigit)
}

// RequireSymbolRule ensures the password contains at least one symbol or
// punctuation character.
func RequireSymbolRule() PasswordRule {
	return requireClassRule("symbol", "password must include at least one special character", func(r rune) bool {
		return unicode.IsSymbol(r) || unicode.IsPunct(r)
	})
}

func requireClassRule(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		for _, r := range password {
			if match(r) {
				return nil
			}
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score to reject
// guessable passwords that technically satisfy the class rules.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) *PasswordValidationError {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		result := zxcvbn.PasswordStrength(password, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}
