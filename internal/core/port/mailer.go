package port

import "context"

// ResetMailer delivers the raw password-reset token out-of-band. Delivery
// failure must never fail the reset request itself.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, email, name, rawToken string) error
}
