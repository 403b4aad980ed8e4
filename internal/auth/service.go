package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"CertVerify-Chain/pkg/logger"
)

// defaultAccessTTL 是未配置时访问令牌的有效期。
const defaultAccessTTL = time.Hour

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	jwt   *jwtManager
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		ttl := cfg.JWT.AccessTTL
		if ttl <= 0 {
			ttl = defaultAccessTTL
		}
		svc.jwt = &jwtManager{
			secret:    []byte(cfg.JWT.Secret),
			issuer:    cfg.JWT.Issuer,
			audience:  cfg.JWT.Audience,
			accessTTL: ttl,
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Issue 为指定主体签发访问令牌，ttl <= 0 时使用配置的有效期。
func (s *Service) Issue(name string, permissions []string, ttl time.Duration) (string, time.Time, error) {
	if s == nil || s.jwt == nil {
		return "", time.Time{}, ErrDisabled
	}
	return s.jwt.Generate(name, permissions, ttl)
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.jwt.Verify(token)
}

// jwtManager 负责 JWT 令牌的签名和验证。
type jwtManager struct {
	secret    []byte
	issuer    string
	audience  []string
	accessTTL time.Duration
}

// jwtClaims 定义 JWT 令牌的声明结构。
type jwtClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Generate 生成 HS256 访问令牌。
func (m *jwtManager) Generate(name string, permissions []string, ttl time.Duration) (string, time.Time, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", time.Time{}, errors.New("subject required")
	}
	if ttl <= 0 {
		ttl = m.accessTTL
	}
	now := time.Now()
	expires := now.Add(ttl)

	claims := jwtClaims{
		Permissions: append([]string(nil), permissions...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(append([]string(nil), m.audience...)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Verify 验证 JWT 令牌的签名、有效期、签发者与受众。
func (m *jwtManager) Verify(token string) (*Subject, error) {
	var claims jwtClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 {
		matched := false
		for _, aud := range m.audience {
			if claims.VerifyAudience(aud, true) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, ErrInvalidToken
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	subject := &Subject{Name: claims.Subject, Permissions: claims.Permissions}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Time
	}
	subject.normalise()
	return subject, nil
}
