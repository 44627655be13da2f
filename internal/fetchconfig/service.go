package fetchconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crm-platform/internal/audit"
	"crm-platform/pkg/logger"

	"github.com/go-playground/validator/v10"
)

// Admin manages configuration rows. Reads used by the engine go through
// Resolver; Admin is for operators only.
type Admin struct {
	repo     Repository
	resolver *Resolver
	audit    *audit.Service
	validate *validator.Validate
}

func NewAdmin(repo Repository, resolver *Resolver, auditSvc *audit.Service) *Admin {
	return &Admin{repo: repo, resolver: resolver, audit: auditSvc, validate: validator.New()}
}

// Validate checks a row's key and limits. The all-wildcard key is the
// built-in default tier and cannot be stored.
func (a *Admin) Validate(row Row) error {
	if row.RoleID == "" && row.BranchID == nil {
		return fmt.Errorf("%w: either role_id or branch_id must be specified", ErrInvalid)
	}
	if row.BranchID != nil && *row.BranchID <= 0 {
		return fmt.Errorf("%w: branch_id must be positive", ErrInvalid)
	}
	if err := a.validate.Struct(row.QuotaConfig); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s must satisfy %s=%s", ErrInvalid, fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (a *Admin) List(ctx context.Context) ([]Row, error) { return a.repo.List(ctx) }

func (a *Admin) Get(ctx context.Context, id int64) (Row, error) { return a.repo.Get(ctx, id) }

func (a *Admin) Create(ctx context.Context, actorID string, row Row) (Row, error) {
	if err := a.Validate(row); err != nil {
		return Row{}, err
	}
	out, err := a.repo.Create(ctx, row)
	if err != nil {
		return Row{}, err
	}
	a.record(ctx, actorID, "created fetch config "+out.CacheKey(), out)
	return out, nil
}

func (a *Admin) Update(ctx context.Context, actorID string, row Row) (Row, error) {
	if err := a.Validate(row); err != nil {
		return Row{}, err
	}
	out, err := a.repo.Update(ctx, row)
	if err != nil {
		return Row{}, err
	}
	a.record(ctx, actorID, "updated fetch config "+out.CacheKey(), out)
	return out, nil
}

func (a *Admin) Delete(ctx context.Context, actorID string, id int64) error {
	out, err := a.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	a.record(ctx, actorID, "deleted fetch config "+out.CacheKey(), out)
	return nil
}

// Defaults is the last-tier config applied when no row matches.
func (a *Admin) Defaults() QuotaConfig { return a.resolver.Defaults() }

// Preview resolves the effective config for a role/branch pair.
func (a *Admin) Preview(ctx context.Context, roleID string, branchID *int64) (Resolved, error) {
	return a.resolver.Resolve(ctx, roleID, branchID)
}

func (a *Admin) record(ctx context.Context, actorID, msg string, row Row) {
	if a.audit == nil {
		return
	}
	meta, err := json.Marshal(struct {
		ID int64 `json:"id"`
		Key
		QuotaConfig
	}{row.ID, row.Key, row.QuotaConfig})
	if err != nil {
		logger.From(ctx).Warn("audit metadata encode failed", "err", err)
		return
	}
	if err := a.audit.LogAdminAction(ctx, actorID, "", msg, string(meta)); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}
