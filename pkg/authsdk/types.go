package authsdk

import (
	"github.com/aussiebroadwan/tabsession/pkg/credential"
	"github.com/aussiebroadwan/tabsession/pkg/jwtx"
)

// ErrorResponse is the error body the auth API sends with non-2xx answers.
// Both "message" and the OAuth2 style "error_description" are accepted.
type ErrorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the body of POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by login and refresh. The identity fields (id,
// role, is_verified, ...) sit at the top level next to the tokens.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	credential.Identity
}

// CredentialSet converts the response into what the credential store
// writes. If the access token carries a role claim it wins over the role in
// the body, so the stored identity always agrees with the token.
func (r *TokenResponse) CredentialSet() credential.Set {
	identity := r.Identity
	if claims, err := jwtx.ParseClaims(r.AccessToken); err == nil && claims.Role != "" {
		identity.Role = claims.Role
	}

	return credential.Set{
		Access:   jwtx.NewAccess(r.AccessToken),
		Refresh:  credential.Refresh(r.RefreshToken),
		Identity: identity,
	}
}

// LogoutResponse is returned by POST /auth/logout.
type LogoutResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ReasonNoRefreshToken is reported when Logout was asked to revoke nothing.
const ReasonNoRefreshToken = "no_refresh_token"
