package authsdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/tabsession/pkg/credential"
)

// Login exchanges user credentials for a token pair.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}

	resp, err := c.postJSON(ctx, "/auth/login", "", req)
	if err != nil {
		return nil, err
	}

	return decodeTokenResponse(resp)
}

// RefreshToken requests a new token pair. The access token may already be
// expired; the server only uses it to identify the session.
func (c *SDKClient) RefreshToken(
	ctx context.Context,
	accessToken string,
	refreshToken credential.Refresh,
) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrMissingCredentials
	}

	resp, err := c.postJSON(ctx, "/auth/refresh-token", accessToken, RefreshRequest{
		RefreshToken: refreshToken.String(),
	})
	if err != nil {
		return nil, err
	}

	return decodeTokenResponse(resp)
}

// Logout revokes the refresh token server side. An empty refresh token is a
// no-op that makes no request.
func (c *SDKClient) Logout(ctx context.Context, refreshToken credential.Refresh) (*LogoutResponse, error) {
	if refreshToken == "" {
		return &LogoutResponse{Success: true, Reason: ReasonNoRefreshToken}, nil
	}

	resp, err := c.postJSON(ctx, "/auth/logout", "", LogoutRequest{RefreshToken: refreshToken.String()})
	if err != nil {
		return nil, err
	}

	var logoutResp LogoutResponse
	if err := decodeJSON(resp, &logoutResp); err != nil {
		return nil, err
	}

	return &logoutResp, nil
}

// decodeTokenResponse decodes a login/refresh answer and rejects bodies
// that lack either token.
func decodeTokenResponse(resp *http.Response) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.AccessToken == "" || tokenResp.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token response without tokens", ErrInvalidResponse)
	}

	return &tokenResp, nil
}
