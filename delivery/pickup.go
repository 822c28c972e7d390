package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tap-labs/tap-go/config"
)

// ErrInvalidPickupToken is returned when a presented pickup token fails
// signature verification, has expired, or was not issued by this manager.
var ErrInvalidPickupToken = errors.New("invalid or expired pickup token")

// PickupClaims authorizes its bearer to retrieve pending `pickup`-type
// deliveries addressed to RecipientDID, for the pickup delivery type where
// the recipient is not reachable directly.
type PickupClaims struct {
	jwt.RegisteredClaims
	RecipientDID string `json:"recipient_did"`
}

// PickupTokenManager issues and validates the bearer tokens a pickup
// transport (e.g. an HTTP GET /pickup handler) uses to authorize a
// recipient's retrieval of its queued deliveries.
type PickupTokenManager struct {
	secret []byte
	expiry time.Duration
}

// NewPickupTokenManager builds a manager signing tokens with secret and
// valid for expiry from issuance.
func NewPickupTokenManager(secret []byte, expiry time.Duration) *PickupTokenManager {
	return &PickupTokenManager{secret: secret, expiry: expiry}
}

// NewPickupTokenManagerFromConfig builds a manager from cfg's
// PickupTokenSecret/PickupTokenExpiry, the node's configured pickup
// authorization policy.
func NewPickupTokenManagerFromConfig(cfg *config.Config) *PickupTokenManager {
	if cfg == nil {
		cfg = config.Default()
	}
	return NewPickupTokenManager(cfg.PickupTokenSecret, cfg.PickupTokenExpiry)
}

// IssueToken signs a pickup token scoped to recipientDID.
func (m *PickupTokenManager) IssueToken(recipientDID string) (string, error) {
	now := time.Now()
	claims := &PickupClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   recipientDID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
		RecipientDID: recipientDID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing pickup token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies tokenString, returning the recipient
// DID it authorizes pickup for.
func (m *PickupTokenManager) ValidateToken(tokenString string) (*PickupClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PickupClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidPickupToken
	}
	claims, ok := token.Claims.(*PickupClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidPickupToken
	}
	return claims, nil
}

// Pickup returns every pending pickup-type delivery queued for
// recipientDID, oldest first, after validating token authorizes that
// recipient.
func (t *Tracker) Pickup(token string, manager *PickupTokenManager) ([]Record, error) {
	claims, err := manager.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return t.List(Filter{RecipientDID: claims.RecipientDID, DeliveryType: TypePickup, Status: StatusPending}, 0), nil
}
