package main

import (
	"fmt"

	"esic/internal/auth"
	"esic/internal/config"
)

func newJWTConfig(cfg *config.Config) *auth.JWTConfig {
	return auth.NewJWTConfig(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

// issueToken prints a bearer token: `esic-api token <user-id> [role]`.
// The role defaults to admin, which is what back-office staff need.
func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: esic-api token <user-id> [role]")
	}
	role := auth.RoleAdmin
	if len(args) > 1 {
		role = args[1]
	}
	token, err := newJWTConfig(cfg).IssueToken(args[0], role, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
