package auth

// OIDC scopes requested in the authorization-code flow.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)
