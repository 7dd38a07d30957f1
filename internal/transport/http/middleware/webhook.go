package middleware

import (
	"crypto/subtle"
	"net/http"
)

// BotSecretHeader carries the shared secret on calls made by the bot integration.
const BotSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// RequireBotSecret admits only requests whose BotSecretHeader equals secret.
// An empty secret closes the route.
func RequireBotSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(BotSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
