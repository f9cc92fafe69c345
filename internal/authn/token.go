package authn

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ledgerly/authflow/internal/shared/errors"
)

// Claims are the access-token claims issued by the auth backend. Token
// issuance stays with the backend; this side only verifies and reads.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

// Verifier validates backend-issued access tokens against the backend's
// published RSA public key.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewVerifier creates a Verifier from a PEM public key file.
func NewVerifier(publicKeyPath, issuer string) (*Verifier, error) {
	keyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}

	key, err := ParsePublicKey(keyData)
	if err != nil {
		return nil, err
	}

	return &Verifier{publicKey: key, issuer: issuer}, nil
}

// NewVerifierWithKey creates a Verifier from an in-memory key.
func NewVerifierWithKey(key *rsa.PublicKey, issuer string) *Verifier {
	return &Verifier{publicKey: key, issuer: issuer}
}

// Verify checks the token signature, expiry and issuer, and returns its
// claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)

	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired("token has expired")
		}
		return nil, errors.TokenInvalid("invalid token").Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid("invalid token claims")
	}

	return claims, nil
}

// PeekClaims extracts claims without verifying the signature. Used for
// logging the subject of tokens the backend has already vouched for.
func PeekClaims(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	return claims, nil
}

// ParsePublicKey loads an RSA public key from PEM bytes.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKIX format first
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err == nil {
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA public key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1
	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	return rsaKey, nil
}
