package auth

import (
	"context"
	"errors"

	"crm-platform/internal/leads"
)

type ctxKey int

const ctxAgent ctxKey = iota

var ErrNoIdentity = errors.New("identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxAgent, leads.Agent{
		ID:       id.UserID,
		Name:     id.Name,
		RoleID:   id.Role,
		BranchID: id.BranchID,
	})
}

// AgentFrom returns the caller as a lead agent.
func AgentFrom(ctx context.Context) (leads.Agent, error) {
	a, ok := ctx.Value(ctxAgent).(leads.Agent)
	if !ok || a.ID == "" {
		return leads.Agent{}, ErrNoIdentity
	}
	return a, nil
}

func UserID(ctx context.Context) (string, error) {
	a, err := AgentFrom(ctx)
	if err != nil {
		return "", errors.New("user_id not in context")
	}
	return a.ID, nil
}

func Role(ctx context.Context) (string, error) {
	a, err := AgentFrom(ctx)
	if err != nil || a.RoleID == "" {
		return "", errors.New("role not in context")
	}
	return a.RoleID, nil
}
