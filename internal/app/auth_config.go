package app

import iauth "github.com/classline/classline/internal/auth"

// JWTServiceConfig converts auth settings to the JWT service configuration.
func (a AuthConfig) JWTServiceConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         a.JWT.Secret,
		Issuer:         a.JWT.Issuer,
		AccessTokenTTL: a.JWT.TTL,
	}
}
