/*
Package authsdk is the HTTP client for the three auth API calls the session
manager makes: login, refresh and logout.

# Overview

The client is deliberately thin. It does not hold tokens, decide when to
refresh or react to failures; that is the job of package session. It only
turns the calls into requests and the responses into typed values.

	client := authsdk.NewSDKClient("https://api.example.com")

	// Exchange credentials for a token pair
	tokens, err := client.Login(ctx, authsdk.LoginRequest{Email: email, Password: password})

	// Obtain a new pair; the (possibly expired) access token goes in the
	// Authorization header, the refresh token in the body
	tokens, err = client.RefreshToken(ctx, accessToken, refreshToken)

	// Revoke the refresh token server side
	result, err := client.Logout(ctx, refreshToken)

# Endpoints

  - POST /auth/login          body {email, password}
  - POST /auth/refresh-token  body {refresh_token}, Authorization: Bearer <access>
  - POST /auth/logout         body {refresh_token}, response {success, reason?}

Login and refresh both answer {access_token, refresh_token, role, ...identity};
TokenResponse.CredentialSet turns that into a credential.Set whose identity
role agrees with the access token's role claim.

# Errors

Non-2xx answers are returned as *APIError carrying the status code and the
server's error code. IsUnauthorized reports 401/403 answers. Transport
failures and timeouts come back wrapped from net/http.

# Throttling

Setting SDKClient.Limiter makes every call wait on a token bucket first,
which keeps a misbehaving tab from hammering the auth API:

	client.Limiter = rate.NewLimiter(rate.Limit(5), 5)

# Thread Safety

SDKClient has no mutable state after construction and is safe for concurrent
use.
*/
package authsdk
