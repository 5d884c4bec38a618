package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims carried by an identity token.
// The chat core never parses tokens itself; this package resolves the token
// into a user.Identity at the connection boundary.
type Payload struct {
	// StandardClaims embeds the JWT standard fields (Exp, Iat, Iss) used for
	// token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the database identifier of the authenticated user.
	UserID int64 `json:"uid"`

	// Name is the display name of the authenticated user.
	Name string `json:"name"`
}
