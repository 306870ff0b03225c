package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func TestTokenValidator(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	validator := TokenValidator{Issuer: "rental-idp", Audience: "billing", ClockSkew: time.Second, Algorithm: jwa.HS256}

	build := func(mod func(*jwt.Builder) *jwt.Builder) jwt.Token {
		b := jwt.NewBuilder().
			Issuer("rental-idp").
			Audience([]string{"billing"}).
			Subject("cashier-3").
			IssuedAt(now).
			NotBefore(now).
			Expiration(now.Add(time.Minute))
		if mod != nil {
			b = mod(b)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		return tok
	}

	cases := []struct {
		name      string
		token     jwt.Token
		algorithm jwa.SignatureAlgorithm
		wantErr   bool
	}{
		{name: "valid", token: build(nil), algorithm: jwa.HS256},
		{name: "issuer mismatch", token: build(func(b *jwt.Builder) *jwt.Builder { return b.Issuer("other") }), algorithm: jwa.HS256, wantErr: true},
		{name: "audience mismatch", token: build(func(b *jwt.Builder) *jwt.Builder { return b.Audience([]string{"catalog"}) }), algorithm: jwa.HS256, wantErr: true},
		{name: "expired", token: build(func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(-time.Minute)) }), algorithm: jwa.HS256, wantErr: true},
		{name: "not yet valid", token: build(func(b *jwt.Builder) *jwt.Builder { return b.NotBefore(now.Add(5 * time.Minute)) }), algorithm: jwa.HS256, wantErr: true},
		{name: "no subject", token: build(func(b *jwt.Builder) *jwt.Builder { return b.Subject(" ") }), algorithm: jwa.HS256, wantErr: true},
		{name: "algorithm mismatch", token: build(nil), algorithm: jwa.RS256, wantErr: true},
		{name: "missing algorithm", token: build(nil), algorithm: "", wantErr: true},
		{name: "nil token", token: nil, algorithm: jwa.HS256, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subject, err := validator.Validate(tc.token, tc.algorithm, now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "cashier-3", subject)
		})
	}
}

func TestTokenValidatorRequiresExpiry(t *testing.T) {
	tok, err := jwt.NewBuilder().Subject("cashier-3").IssuedAt(time.Now()).Build()
	require.NoError(t, err)
	_, err = TokenValidator{Algorithm: jwa.HS256}.Validate(tok, jwa.HS256, time.Now())
	require.Error(t, err)
}
