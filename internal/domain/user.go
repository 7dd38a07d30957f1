package domain

// Credential is the slice of a user record the primary-factor check needs.
// The users table itself belongs to the wider platform.
type Credential struct {
	UserID       string `json:"id" dynamodbav:"user_id"`
	Email        string `json:"email" dynamodbav:"email"`
	PasswordHash string `json:"-" dynamodbav:"password_hash"`
	Enable       int    `json:"enable" dynamodbav:"enable"`
}
