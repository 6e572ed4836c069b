package transfer

import "github.com/golang-jwt/jwt/v5"

// WorkspaceClaims identifies the workspace a request acts on.
type WorkspaceClaims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}
