package auth

import (
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorID    uuid.UUID
	BusinessID uuid.UUID
	Role       enums.ActorRole
	JTI        string
}

// AccessTokenClaims is the business-scoped JWT accepted by the API. The actor
// id travels in the subject claim.
type AccessTokenClaims struct {
	BusinessID uuid.UUID       `json:"business_id"`
	Role       enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// ActorID parses the subject claim. A missing or malformed subject yields nil.
func (c *AccessTokenClaims) ActorID() *uuid.UUID {
	if c == nil || c.Subject == "" {
		return nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil
	}
	return &id
}
