package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_PrivateChannel(t *testing.T) {
	s := NewJWTService("secret", "echohub", time.Minute)
	ctx := context.Background()

	raw, err := s.Authorize(ctx, "sock-1", "private-orders")
	require.NoError(t, err)

	p, err := ParseSubscribePayload(raw)
	require.NoError(t, err)
	assert.Nil(t, p.ChannelData, "private channels carry no channel_data")

	claims, err := s.VerifySubscription(ctx, "sock-1", "private-orders", raw)
	require.NoError(t, err)
	assert.Equal(t, "private-orders", claims.Channel)
	assert.Equal(t, "sock-1", claims.SocketID)
	assert.Equal(t, "echohub", claims.Issuer)
}

func TestAuthorize_PresenceChannelCarriesIdentity(t *testing.T) {
	s := NewJWTService("secret", "echohub", time.Minute).
		WithIdentity(Identity{UserID: "42", UserInfo: json.RawMessage(`{"name":"ann"}`)})
	ctx := context.Background()

	raw, err := s.Authorize(ctx, "sock-1", "presence-room")
	require.NoError(t, err)

	p, err := ParseSubscribePayload(raw)
	require.NoError(t, err)
	require.NotNil(t, p.ChannelData)
	assert.Equal(t, "42", p.ChannelData.UserID)
	assert.JSONEq(t, `{"name":"ann"}`, string(p.ChannelData.UserInfo))

	claims, err := s.Verify(ctx, p.Auth)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.JSONEq(t, `{"name":"ann"}`, string(claims.UserInfo))
}

func TestAuthorize_Rejections(t *testing.T) {
	s := NewJWTService("secret", "echohub", time.Minute)
	ctx := context.Background()

	_, err := s.Authorize(ctx, "sock-1", "news")
	assert.ErrorIs(t, err, ErrNotPrivate)

	_, err = s.Authorize(ctx, "sock-1", "presence-room")
	assert.ErrorIs(t, err, ErrPermissionDenied, "presence without identity")
}

func TestVerifySubscription_Mismatch(t *testing.T) {
	s := NewJWTService("secret", "echohub", time.Minute)
	ctx := context.Background()

	raw, err := s.Authorize(ctx, "sock-1", "private-a")
	require.NoError(t, err)

	_, err = s.VerifySubscription(ctx, "sock-1", "private-b", raw)
	assert.ErrorIs(t, err, ErrChannelMismatch)

	_, err = s.VerifySubscription(ctx, "sock-2", "private-a", raw)
	assert.ErrorIs(t, err, ErrChannelMismatch)

	_, err = s.VerifySubscription(ctx, "sock-1", "private-a", nil)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.VerifySubscription(ctx, "sock-1", "private-a", json.RawMessage(`{"auth":""}`))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Errors(t *testing.T) {
	s := NewJWTService("secret", "echohub", time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		token func() string
		want  error
	}{
		{"empty", func() string { return "" }, ErrInvalidToken},
		{"garbage", func() string { return "not.a.jwt" }, ErrInvalidToken},
		{"wrong secret", func() string {
			tok, _ := NewJWTService("other", "echohub", time.Minute).GenerateToken(ctx, "s", "private-a", nil)
			return tok
		}, ErrInvalidToken},
		{"wrong issuer", func() string {
			tok, _ := NewJWTService("secret", "someone", time.Minute).GenerateToken(ctx, "s", "private-a", nil)
			return tok
		}, ErrInvalidToken},
		{"expired", func() string {
			claims := jwtClaims{
				SocketID: "s",
				Channel:  "private-a",
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
					Issuer:    "echohub",
				},
			}
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
			return tok
		}, ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(ctx, tt.token())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAuthorizerFunc(t *testing.T) {
	var a ChannelAuthorizer = AuthorizerFunc(func(ctx context.Context, socketID, channel string) (json.RawMessage, error) {
		return json.RawMessage(`{"auth":"` + socketID + ":" + channel + `"}`), nil
	})
	raw, err := a.Authorize(context.Background(), "x", "private-y")
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth":"x:private-y"}`, string(raw))
}
