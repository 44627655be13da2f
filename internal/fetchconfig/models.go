package fetchconfig

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound  = errors.New("fetch config not found")
	ErrDuplicate = errors.New("fetch config already exists for this role and branch")
	ErrInvalid   = errors.New("invalid fetch config")
)

// QuotaConfig is the full set of limits applied to one agent. A resolved
// config always comes whole from a single tier.
type QuotaConfig struct {
	PerRequestLimit        int `json:"per_request_limit" yaml:"per_request_limit" validate:"min=1,max=1000"`
	DailyCallLimit         int `json:"daily_call_limit" yaml:"daily_call_limit" validate:"min=1,max=100"`
	OutstandingLimit       int `json:"outstanding_limit" yaml:"outstanding_limit" validate:"min=1,max=1000"`
	TTLHours               int `json:"ttl_hours" yaml:"ttl_hours" validate:"min=1,max=720"`
	ReactivationWindowDays int `json:"reactivation_window_days" yaml:"reactivation_window_days" validate:"min=1,max=365"`
}

func (c QuotaConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c QuotaConfig) ReactivationWindow() time.Duration {
	return time.Duration(c.ReactivationWindowDays) * 24 * time.Hour
}

// Source names the tier a config was resolved from.
type Source string

const (
	SourceRoleBranch   Source = "role_branch"
	SourceRoleGlobal   Source = "role_global"
	SourceBranchGlobal Source = "branch_global"
	SourceDefault      Source = "default"
)

// Resolved is a config plus the tier that supplied it.
type Resolved struct {
	QuotaConfig
	Source Source `json:"source"`
}

// Key addresses one configuration row. An empty RoleID or nil BranchID is
// the NULL (wildcard) side of the key.
type Key struct {
	RoleID   string `json:"role_id,omitempty" yaml:"role_id"`
	BranchID *int64 `json:"branch_id,omitempty" yaml:"branch_id"`
}

// CacheKey is the stable string form, e.g. "BA|7", "BA|*", "*|7".
func (k Key) CacheKey() string {
	role := k.RoleID
	if role == "" {
		role = "*"
	}
	branch := "*"
	if k.BranchID != nil {
		branch = strconv.FormatInt(*k.BranchID, 10)
	}
	return role + "|" + branch
}

// Row is one administered configuration row.
type Row struct {
	ID          int64 `json:"id" yaml:"-"`
	Key         `yaml:",inline"`
	QuotaConfig `yaml:",inline"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}
