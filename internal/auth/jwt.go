package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims are the claims carried by a device token.
type DeviceClaims struct {
	Serial string `json:"serial"`
	jwt.RegisteredClaims
}

var (
	secret []byte

	ErrNotConfigured = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// Configure sets the signing secret. Must be called before any token work.
func Configure(jwtSecret string) {
	secret = []byte(jwtSecret)
}

// GenerateDeviceToken issues a 24h token for the device's control API.
func GenerateDeviceToken(serial string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNotConfigured
	}
	claims := &DeviceClaims{
		Serial: serial,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and verifies a device token.
func ValidateToken(tokenString string) (*DeviceClaims, error) {
	if len(secret) == 0 {
		return nil, ErrNotConfigured
	}
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*DeviceClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
