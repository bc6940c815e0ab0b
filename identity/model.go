package identity

import "time"

// UserProfile is the backend's view of the signed in user. It is only ever
// built from a /auth/me (or /auth/register) response body.
type UserProfile struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	DisplayName        *string    `json:"full_name,omitempty"`
	Active             bool       `json:"is_active"`
	Admin              bool       `json:"is_superuser"`
	ExternalIdentityID *string    `json:"google_id,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// Name returns the display name when set, falling back to the email.
func (u *UserProfile) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}

// Registration is the request body for POST /auth/register.
type Registration struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"full_name,omitempty"`
}

// LoginResult pairs a freshly issued token with the profile it was verified against.
type LoginResult struct {
	Token string
	User  *UserProfile
}

// TokenResponse mirrors /auth/login/access-token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // "bearer"
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// errorBody is the FastAPI error envelope. Detail is either a string or a
// list of validation issues.
type errorBody struct {
	Detail any `json:"detail"`
}
