package driven

import "time"

// OTPGenerator derives the one-time code for a base32 TOTP secret.
type OTPGenerator interface {
	Code(secret string, at time.Time) (string, error)
}
