package review

import (
	"context"
	"fmt"

	"github.com/pwannenmacher/MetaRate/internal/actionlog"
	"github.com/pwannenmacher/MetaRate/internal/models"
)

// UserLister lists the roster
type UserLister interface {
	List(ctx context.Context) ([]models.User, error)
}

// AdminView is the read-only view over every action log and the roster
type AdminView struct {
	log   actionlog.Log
	users UserLister
}

// NewAdminView creates an admin view
func NewAdminView(log actionlog.Log, users UserLister) *AdminView {
	return &AdminView{log: log, users: users}
}

// Logs summarizes every known action log
func (a *AdminView) Logs(ctx context.Context) ([]models.ActionLogSummary, error) {
	usernames, err := a.log.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}

	summaries := make([]models.ActionLogSummary, 0, len(usernames))
	for _, username := range usernames {
		entries, err := a.log.Read(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to read action log of %s: %w", username, err)
		}
		summaries = append(summaries, models.ActionLogSummary{
			Username: username,
			Name:     actionlog.SourceName(username),
			Entries:  len(entries),
		})
	}
	return summaries, nil
}

// Log returns one user's entries in append order
func (a *AdminView) Log(ctx context.Context, username string) ([]models.ActionEntry, error) {
	return a.log.Read(ctx, username)
}

// Users returns the roster without credentials
func (a *AdminView) Users(ctx context.Context) ([]models.User, error) {
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}
