package dynamo

// DynamoDB attribute names used in key, condition and update expressions.
const (
	fieldChallengeKey = "challenge_key"
	fieldChallengeID  = "challenge_id"
	fieldAttempts     = "attempts"
	fieldConsumedAt   = "consumed_at"
	fieldDispatched   = "dispatched"
	fieldExpiresAt    = "expires_at"
	fieldUserID       = "user_id"
	fieldEmail        = "email"
)
