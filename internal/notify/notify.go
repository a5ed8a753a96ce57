// Package notify delivers verification codes and password-reset links.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Purpose tags a message for transports that route on it.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Message is a single outbound notification.
type Message struct {
	To          string  `json:"to"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Purpose     Purpose `json:"purpose"`
	PrincipalID string  `json:"principal_id"`
}

// Dispatcher sends messages through one transport.
type Dispatcher interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// VerificationMessage builds the email carrying a verification code.
func VerificationMessage(principalID, to, username, code string, ttl time.Duration) Message {
	return Message{
		To:          to,
		Subject:     "Verify your email address",
		Purpose:     PurposeEmailVerification,
		PrincipalID: principalID,
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour verification code is: %s\n\nThe code expires in %s. If you did not sign up, ignore this email.\n",
			username, code, humanDuration(ttl)),
	}
}

// PasswordResetMessage builds the email carrying a reset link.
func PasswordResetMessage(principalID, to, username, link string, ttl time.Duration) Message {
	return Message{
		To:          to,
		Subject:     "Reset your password",
		Purpose:     PurposePasswordReset,
		PrincipalID: principalID,
		Body: fmt.Sprintf(
			"Hi %s,\n\nUse the link below to choose a new password:\n\n%s\n\nThe link expires in %s. If you did not request a reset, ignore this email.\n",
			username, link, humanDuration(ttl)),
	}
}

// ResetLink returns baseURL/reset-password?token=<token>.
func ResetLink(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse app base url: %w", err)
	}
	u = u.JoinPath("reset-password")
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
