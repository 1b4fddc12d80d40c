package google

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	goauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Profile is the signed-in user as reported by the userinfo endpoint.
type Profile struct {
	Email    string
	Name     string
	Picture  string
	Verified bool
}

// Profile reads the user behind token. The email is lowercased.
func (c *Client) Profile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)))}
	if c.cfg.UserinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(ensureSlash(c.cfg.UserinfoEndpoint)))
	}
	svc, err := goauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oauth2 service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	p := &Profile{
		Email:   strings.ToLower(strings.TrimSpace(info.Email)),
		Name:    info.Name,
		Picture: info.Picture,
	}
	if info.VerifiedEmail != nil {
		p.Verified = *info.VerifiedEmail
	}
	return p, nil
}
