package auth

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// GoogleVerifier validates Google-signed ID tokens issued for one audience
type GoogleVerifier struct {
	validator *idtoken.Validator
	audience  string
}

// NewGoogleVerifier creates a verifier for tokens whose "aud" is audience
func NewGoogleVerifier(ctx context.Context, audience string, opts ...option.ClientOption) (*GoogleVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("google audience is required")
	}
	validator, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating id token validator: %w", err)
	}
	return &GoogleVerifier{validator: validator, audience: audience}, nil
}

// Verify checks signature, expiry and audience and returns the token subject
func (g *GoogleVerifier) Verify(ctx context.Context, token string) (string, error) {
	payload, err := g.validator.Validate(ctx, token, g.audience)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if payload.Subject == "" {
		return "", ErrInvalidToken
	}
	return payload.Subject, nil
}
