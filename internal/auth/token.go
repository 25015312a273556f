package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "voxelfield"

var (
	// ErrInvalidToken токен не прошёл проверку подписи или срока
	ErrInvalidToken = errors.New("недействительный токен")
	// ErrWeakSecret секрет короче 32 байт
	ErrWeakSecret = errors.New("секрет должен быть не короче 32 байт")
)

// Claims содержимое токена доступа к API карт
type Claims struct {
	Editor bool `json:"editor"` // разрешены изменения карт
	jwt.RegisteredClaims
}

// Signer выпускает и проверяет токены HS256
type Signer struct {
	secret []byte
}

// NewSigner создаёт подписчик с секретом в base64.
// Пустой секрет заменяется случайным: токены живут до перезапуска.
func NewSigner(secretBase64 string) (*Signer, error) {
	if secretBase64 == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return &Signer{secret: secret}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(secretBase64)
	if err != nil {
		return nil, fmt.Errorf("секрет не в base64: %w", err)
	}
	if len(decoded) < 32 {
		return nil, ErrWeakSecret
	}
	return &Signer{secret: decoded}, nil
}

// Issue создаёт токен для subject на срок ttl
func (s *Signer) Issue(subject string, editor bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Editor: editor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate проверяет подпись, срок и издателя токена
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret генерирует новый секрет в base64
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
