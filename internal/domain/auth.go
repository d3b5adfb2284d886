package domain

// JWTClaims represents the bearer token payload issued by the identity layer.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// RoleAdmin is the role allowed to trigger maintenance operations.
const RoleAdmin = "admin"
