package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleOwner  = "owner"
)

type Workspace struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name        string         `gorm:"column:name;not null" json:"name"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Settings    datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Workspace) TableName() string { return "workspace" }

type WorkspaceMember struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index:idx_member_ws_user,unique,priority:1" json:"workspace_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_member_ws_user,unique,priority:2" json:"user_id"`

	// viewer|editor|owner
	Role string `gorm:"column:role;not null" json:"role"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (WorkspaceMember) TableName() string { return "workspace_member" }

// RoleAtLeast reports whether have grants the capabilities of want.
func RoleAtLeast(have, want string) bool {
	rank := func(r string) int {
		switch r {
		case RoleOwner:
			return 3
		case RoleEditor:
			return 2
		case RoleViewer:
			return 1
		default:
			return 0
		}
	}
	return rank(have) >= rank(want)
}
