// Package service реализует выдачу токенов доступа к API клиентов.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// DefaultTokenTTL — срок действия токена, если он не задан в конфигурации.
const DefaultTokenTTL = time.Hour

// TokenIssuer подписывает токен для субъекта.
type TokenIssuer interface {
	IssueToken(subject string, ttl time.Duration) (string, time.Time)
}

// TokenService проверяет настроенные учётные данные и выдаёт bearer-токены.
type TokenService struct {
	username string
	hash     []byte
	issuer   TokenIssuer
	ttl      time.Duration
}

// NewTokenService создаёт сервис для единственной пары логин/пароль.
// Пароль хранится только в виде хеша.
func NewTokenService(username, password string, issuer TokenIssuer, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		username: username,
		hash:     hashPassword(username, password),
		issuer:   issuer,
		ttl:      ttl,
	}
}

// IssueToken возвращает токен и момент его истечения или ErrInvalidCredentials.
func (s *TokenService) IssueToken(_ context.Context, username, password string) (string, time.Time, error) {
	if s.username == "" || username != s.username {
		return "", time.Time{}, ErrInvalidCredentials
	}

	if subtle.ConstantTimeCompare(hashPassword(username, password), s.hash) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt := s.issuer.IssueToken(username, s.ttl)
	return token, expiresAt, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
