package service

import (
	"context"
	"fmt"
	"time"

	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
)

// Operator is a configured API principal; KeyHash is argon2id encoded.
type Operator struct {
	Name    string
	KeyHash string
}

// AuthServiceImpl implements ports.AuthService for a fixed operator list.
type AuthServiceImpl struct {
	operators map[string]string
	hashSvc   ports.HashService
	tokenSvc  ports.TokenService
	log       zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(operators []Operator, hashSvc ports.HashService, tokenSvc ports.TokenService, log zerolog.Logger) *AuthServiceImpl {
	byName := make(map[string]string, len(operators))
	for _, op := range operators {
		byName[op.Name] = op.KeyHash
	}
	return &AuthServiceImpl{
		operators: byName,
		hashSvc:   hashSvc,
		tokenSvc:  tokenSvc,
		log:       log,
	}
}

// Login verifies the operator key and issues a token.
func (s *AuthServiceImpl) Login(_ context.Context, operator, key string) (string, time.Time, error) {
	keyHash, ok := s.operators[operator]
	if !ok {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(key, keyHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify operator key: %w", err))
	}
	if !valid {
		s.log.Warn().Str("operator", operator).Msg("operator key rejected")
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiry, err := s.tokenSvc.Generate(operator)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.log.Info().Str("operator", operator).Time("expires_at", expiry).Msg("operator token issued")
	return token, expiry, nil
}
