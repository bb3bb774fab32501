package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

// TOTPVerifier validates time-based one-time codes against a shared secret.
// Skew is the number of adjacent time steps accepted on either side of the
// current one, absorbing client clock drift.
type TOTPVerifier struct {
	Issuer string
	Skew   uint
	now    func() time.Time
}

// NewTOTPVerifier constructs a verifier with the supplied tolerance window.
func NewTOTPVerifier(issuer string, skew uint) *TOTPVerifier {
	return &TOTPVerifier{Issuer: issuer, Skew: skew, now: time.Now}
}

// WithClock overrides the clock, primarily for tests.
func (v *TOTPVerifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify reports whether the 6-digit code matches the secret within the
// tolerance window.
func (v *TOTPVerifier) Verify(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, v.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      v.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// Enrollment carries the artifacts produced when a new secret is generated.
// Secret is base32; URL is the otpauth:// provisioning URI for authenticator
// apps.
type Enrollment struct {
	Secret string
	URL    string
}

// GenerateSecret produces a fresh TOTP secret for the given account.
func (v *TOTPVerifier) GenerateSecret(accountEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.Issuer,
		AccountName: accountEmail,
		Period:      totpPeriod,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}
