package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chenxilol/echohub/pkg/protocol"
	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	SocketID string          `json:"socket_id"`
	Channel  string          `json:"channel"`
	UserID   string          `json:"user_id,omitempty"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
	jwt.RegisteredClaims
}

// Identity 在线状态频道中代表本端的成员身份
type Identity struct {
	UserID   string
	UserInfo json.RawMessage
}

// JWTService 使用HS256签发和校验频道授权令牌
type JWTService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	identity  Identity
}

func NewJWTService(secretKey, issuer string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
	}
}

// WithIdentity 设置在线状态频道中使用的成员身份
func (s *JWTService) WithIdentity(id Identity) *JWTService {
	s.identity = id
	return s
}

// GenerateToken 为指定连接和频道签发令牌
func (s *JWTService) GenerateToken(ctx context.Context, socketID, channel string, member *Identity) (string, error) {
	now := time.Now()

	claims := jwtClaims{
		SocketID: socketID,
		Channel:  channel,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	if member != nil {
		claims.UserID = member.UserID
		claims.UserInfo = member.UserInfo
		claims.Subject = member.UserID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to sign channel token", "error", err, "channel", channel)
		return "", fmt.Errorf("无法签名令牌: %w", err)
	}

	return tokenString, nil
}

// Authorize 实现ChannelAuthorizer，在线状态频道额外附带channel_data
func (s *JWTService) Authorize(ctx context.Context, socketID, channel string) (json.RawMessage, error) {
	if !protocol.IsPrivateChannel(channel) {
		return nil, ErrNotPrivate
	}

	var member *Identity
	if protocol.IsPresenceChannel(channel) {
		if s.identity.UserID == "" {
			return nil, fmt.Errorf("%w: presence channel %s requires a user id", ErrPermissionDenied, channel)
		}
		member = &s.identity
	}

	token, err := s.GenerateToken(ctx, socketID, channel, member)
	if err != nil {
		return nil, err
	}

	payload := SubscribePayload{Auth: token}
	if member != nil {
		payload.ChannelData = &ChannelData{UserID: member.UserID, UserInfo: member.UserInfo}
	}
	return json.Marshal(payload)
}

// Verify 实现Verifier，校验签名、有效期和签发者
func (s *JWTService) Verify(ctx context.Context, tokenString string) (*ChannelClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenSignatureInvalid):
			slog.WarnContext(ctx, "channel token rejected", "error", err)
			return nil, ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			slog.InfoContext(ctx, "channel token expired or not yet valid", "error", err)
			return nil, ErrTokenExpired
		default:
			slog.ErrorContext(ctx, "channel token validation failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Issuer != s.issuer {
		slog.WarnContext(ctx, "channel token issuer mismatch", "expected_issuer", s.issuer, "actual_issuer", claims.Issuer)
		return nil, ErrInvalidToken
	}

	return &ChannelClaims{
		SocketID:  claims.SocketID,
		Channel:   claims.Channel,
		UserID:    claims.UserID,
		UserInfo:  claims.UserInfo,
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
		Issuer:    claims.Issuer,
	}, nil
}

// VerifySubscription 校验订阅负载是否授权给指定连接的指定频道
func (s *JWTService) VerifySubscription(ctx context.Context, socketID, channel string, raw json.RawMessage) (*ChannelClaims, error) {
	p, err := ParseSubscribePayload(raw)
	if err != nil {
		return nil, err
	}

	claims, err := s.Verify(ctx, p.Auth)
	if err != nil {
		return nil, err
	}

	if claims.Channel != channel || claims.SocketID != socketID {
		return nil, ErrChannelMismatch
	}
	return claims, nil
}

var _ ChannelAuthorizer = (*JWTService)(nil)
var _ Verifier = (*JWTService)(nil)
var _ SubscriptionVerifier = (*JWTService)(nil)
