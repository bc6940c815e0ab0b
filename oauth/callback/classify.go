package callback

import "github.com/Seann-Moser/stocker/session"

// Code is a provider-reported failure, normalized to the fixed table.
type Code string

const (
	CodeOAuthFailed     Code = "oauth_failed"
	CodeFetchUserFailed Code = "fetch_user_failed"
	CodeCallbackFailed  Code = "callback_failed"
	CodeNoToken         Code = "no_token"
	CodeUserInfoFailed  Code = "user_info_failed"
	CodeDatabaseError   Code = "database_error"
	CodeUnknown         Code = "unknown"
)

var messages = map[Code]string{
	CodeOAuthFailed:     "Google authentication failed. Please try again.",
	CodeFetchUserFailed: session.MsgExternalLoginFailed,
	CodeCallbackFailed:  "Authentication callback failed. Please try again.",
	CodeNoToken:         "No authentication token received.",
	CodeUserInfoFailed:  "Failed to get user information from Google.",
	CodeDatabaseError:   "Database error occurred. Please try again.",
	CodeUnknown:         "Authentication failed. Please try again.",
}

// Classify maps a raw ?error= value to its code and user facing message.
// Anything outside the table is CodeUnknown.
func Classify(raw string) (Code, string) {
	c := Code(raw)
	if msg, ok := messages[c]; ok {
		return c, msg
	}
	return CodeUnknown, messages[CodeUnknown]
}

// Message returns the user facing text for c.
func (c Code) Message() string {
	_, msg := Classify(string(c))
	return msg
}
