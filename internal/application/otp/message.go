package otp

import (
	"fmt"
	"html"
	"time"

	"github.com/go-trustgate/internal/domain"
)

// RenderMessage builds the outbound message carrying a plaintext code.
func RenderMessage(email, code string, purpose domain.Purpose, ttl time.Duration) domain.Message {
	var subject, action string
	switch purpose {
	case domain.PurposeVerify:
		subject, action = "Verify your email address", "verify your email address"
	case domain.PurposeReset:
		subject, action = "Reset your password", "reset your password"
	default:
		subject, action = "Your sign-in code", "finish signing in"
	}
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	text := fmt.Sprintf("Your code to %s is %s.\nIt expires in %d minutes. If you did not request it, ignore this email.\n",
		action, code, minutes)
	body := fmt.Sprintf(`<p>Your code to %s is:</p><p style="font-size:24px;font-weight:bold;letter-spacing:4px">%s</p><p>It expires in %d minutes. If you did not request it, ignore this email.</p>`,
		html.EscapeString(action), html.EscapeString(code), minutes)

	return domain.Message{
		To:      email,
		Subject: subject,
		Text:    text,
		HTML:    body,
	}
}
