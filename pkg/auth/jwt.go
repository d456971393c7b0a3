package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid approval token")

// ApprovalClaims bind an approval to one plan.
type ApprovalClaims struct {
	PlanID   string `json:"planId"`
	Approver string `json:"approver"`
	jwt.RegisteredClaims
}

func secret() []byte {
	s := os.Getenv("FLEET_JWT_SECRET")
	if s == "" {
		s = "change-me-secret"
	}
	return []byte(s)
}

// GenerateApproval issues a signed approval for planID, valid for ttl.
func GenerateApproval(planID, approver string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ApprovalClaims{
		PlanID:   planID,
		Approver: approver,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

// VerifyApproval checks signature, expiry, and that the token approves planID.
func VerifyApproval(tokenStr, planID string) (*ApprovalClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ApprovalClaims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret(), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	claims, ok := token.Claims.(*ApprovalClaims)
	if !ok || claims.PlanID != planID {
		return nil, ErrInvalid
	}
	return claims, nil
}
