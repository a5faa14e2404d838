package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

const tokenTTL = 7 * 24 * time.Hour

// AuthService issues and checks owner bearer tokens of the form
// "timestamp:userID:signature", signed with HMAC-SHA256.
type AuthService struct {
	secretKey string
	now       Clock
}

func NewAuthService(secretKey string) *AuthService {
	return &AuthService{
		secretKey: secretKey,
		now:       systemClock,
	}
}

func (s *AuthService) WithClock(c Clock) *AuthService {
	s.now = c
	return s
}

func (s *AuthService) GenerateToken(userID string) (string, error) {
	if userID == "" || strings.Contains(userID, ":") {
		return "", ErrInvalidToken
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return timestamp + ":" + userID + ":" + s.sign(timestamp, userID), nil
}

// ValidateToken returns the user id the token was issued for.
func (s *AuthService) ValidateToken(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	timestamp, userID, signature := parts[0], parts[1], parts[2]
	if userID == "" {
		return "", ErrInvalidToken
	}

	if !hmac.Equal([]byte(signature), []byte(s.sign(timestamp, userID))) {
		return "", ErrInvalidToken
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}

	if s.now().After(time.Unix(ts, 0).Add(tokenTTL)) {
		return "", ErrExpiredToken
	}

	return userID, nil
}

func (s *AuthService) sign(timestamp, userID string) string {
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(timestamp + ":" + userID))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// CheckWebhookSecret compares a worker-supplied secret with the configured
// one. An unconfigured secret never matches.
func CheckWebhookSecret(configured, supplied string) bool {
	if configured == "" {
		return false
	}
	return hmac.Equal([]byte(configured), []byte(supplied))
}
