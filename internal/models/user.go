package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is an account role on the control plane.
type Role string

const (
	RoleAdmin    Role = "admin"    // full catalogue and account management
	RoleOperator Role = "operator" // triggers, suspension, inspection
	RoleModule   Role = "module"   // renderer process connecting over WebSocket
)

// Operator is a control-plane account (admin or operator).
type Operator struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // bcrypt hash
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperatorPublic is the account shape returned by the API.
type OperatorPublic struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublic strips the password hash.
func (o *Operator) ToPublic() OperatorPublic {
	return OperatorPublic{
		ID:        o.ID,
		Email:     o.Email,
		FullName:  o.FullName,
		Role:      o.Role,
		CreatedAt: o.CreatedAt,
	}
}
