package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims for LF Chat.
// Besides the standard claims it carries the guest identity the token was issued for.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At) and Iss (Issuer).
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the identity id. It may not be stored yet when the token was
	// issued for a nickname nobody used before.
	ID string `json:"id"`

	// Nickname is the display name chosen at guest login.
	Nickname string `json:"nickname"`

	// Gender is the presentation attribute chosen at guest login.
	Gender string `json:"gender"`
}
