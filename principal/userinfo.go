package principal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 1 << 20

// IdentifierLookup is the part of a repository the resolver needs.
type IdentifierLookup interface {
	FindByIdentifier(ctx context.Context, identifier string) (goSession.Principal, error)
}

// UserInfoResolver fetches the provider's userinfo document with the
// exchanged token and looks up the local principal whose identifier equals
// the configured claim (by default "email").
type UserInfoResolver struct {
	Principals  IdentifierLookup
	OAuth2      *oauth2.Config
	UserInfoURL string
	Claim       string
	// RequireVerifiedEmail rejects documents whose email_verified is false.
	RequireVerifiedEmail bool
}

func (r *UserInfoResolver) ResolvePrincipal(ctx context.Context, tok *oauth2.Token) (string, error) {
	if r.UserInfoURL == "" || r.OAuth2 == nil || r.Principals == nil {
		return "", errors.New("principal: userinfo resolver not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.OAuth2.Client(ctx, tok).Do(req)
	if err != nil {
		return "", fmt.Errorf("principal: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", goSession.ErrPrincipalNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("principal: userinfo status %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&doc); err != nil {
		return "", fmt.Errorf("principal: decode userinfo: %w", err)
	}

	claim := r.Claim
	if claim == "" {
		claim = "email"
	}
	identifier, _ := doc[claim].(string)
	if identifier == "" {
		return "", goSession.ErrPrincipalNotFound
	}
	if r.RequireVerifiedEmail && claim == "email" {
		if verified, ok := doc["email_verified"].(bool); ok && !verified {
			return "", goSession.ErrPrincipalNotFound
		}
	}

	p, err := r.Principals.FindByIdentifier(ctx, identifier)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

var _ goSession.OAuth2IdentityResolver = (*UserInfoResolver)(nil)
