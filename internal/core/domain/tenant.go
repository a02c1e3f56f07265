package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated credential and rate-budget scope.
type Tenant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Token    string `json:"-"`
	Endpoint string `json:"endpoint,omitempty"`
}

// SyncUnit is one independently resumable resource, e.g. one repository.
type SyncUnit struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Owner     string    `json:"owner" db:"owner"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FullName returns owner/name.
func (u SyncUnit) FullName() string {
	return u.Owner + "/" + u.Name
}

// UnitID derives a stable unit ID so re-registering a repository is idempotent.
func UnitID(tenantID, owner, name string) string {
	key := tenantID + "/" + strings.ToLower(owner) + "/" + strings.ToLower(name)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
