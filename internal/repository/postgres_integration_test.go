package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pwannenmacher/MetaRate/internal/database"
	"github.com/pwannenmacher/MetaRate/internal/models"
	"github.com/pwannenmacher/MetaRate/internal/testutil"
)

func TestPostgresRepositories(t *testing.T) {
	tc := testutil.SetupPostgres(t)
	ctx := context.Background()

	t.Run("action log", func(t *testing.T) {
		tc.CleanupTables(t)
		repo := NewActionLogRepository(tc.DB, database.Postgres)

		for _, e := range []models.ActionEntry{
			{Username: "alice", Action: models.ActionLogin},
			{Username: "alice", Action: models.ActionSubmitRating, ReportID: "r1", Rating: models.RatingNegationError, Comment: "missed 'no'"},
			{Username: "alice", Action: models.ActionSubmitRating, ReportID: "r1", Rating: models.RatingNoError},
			{Username: "bob", Action: models.ActionLoginFailure},
		} {
			if err := repo.Append(ctx, e); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		got, err := repo.Read(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[1].Rating != models.RatingNegationError {
			t.Fatalf("unexpected entries %+v", got)
		}

		rated, err := repo.RatedReportIDs(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(rated) != 1 || rated[0] != "r1" {
			t.Errorf("RatedReportIDs() = %v, want [r1]", rated)
		}

		users, err := repo.Users(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(users) != 2 {
			t.Errorf("Users() = %v", users)
		}
	})

	t.Run("long free-form ids", func(t *testing.T) {
		tc.CleanupTables(t)
		logs := NewActionLogRepository(tc.DB, database.Postgres)
		sessions := NewSessionRepository(tc.DB, database.Postgres)

		reportID := strings.Repeat("r", 1000)
		username := strings.Repeat("u", 300)
		if err := logs.Append(ctx, models.ActionEntry{Username: username, Action: models.ActionSubmitRating, ReportID: reportID, Rating: models.RatingNoError}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		rated, err := logs.RatedReportIDs(ctx, username)
		if err != nil {
			t.Fatal(err)
		}
		if len(rated) != 1 || rated[0] != reportID {
			t.Errorf("RatedReportIDs() returned %d ids, want the long id", len(rated))
		}

		now := time.Now().UTC()
		s := &models.Session{
			ID:             "s-long",
			Username:       username,
			State:          models.StateRating,
			ReportID:       reportID,
			ExpiresAt:      now.Add(time.Hour),
			LastActivityAt: now,
			CreatedAt:      now,
		}
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := sessions.Get(ctx, "s-long")
		if err != nil {
			t.Fatal(err)
		}
		if got.ReportID != reportID {
			t.Error("session report id was not stored in full")
		}
	})

	t.Run("users and bootstrap", func(t *testing.T) {
		tc.CleanupTables(t)
		repo := NewUserRepository(tc.DB, database.Postgres)

		for _, u := range []string{"alice", "bob"} {
			if err := repo.Upsert(ctx, &models.User{Username: u, PasswordHash: "x"}); err != nil {
				t.Fatal(err)
			}
		}
		admin, err := repo.BootstrapAdmin(ctx, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if admin != "bob" {
			t.Errorf("BootstrapAdmin() = %q, want bob", admin)
		}
		again, err := repo.BootstrapAdmin(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if again != "" {
			t.Errorf("second BootstrapAdmin() = %q, want no change", again)
		}
	})

	t.Run("sessions", func(t *testing.T) {
		tc.CleanupTables(t)
		repo := NewSessionRepository(tc.DB, database.Postgres)

		now := time.Now().UTC()
		s := &models.Session{
			ID:             "s1",
			Username:       "alice",
			State:          models.StateRating,
			ReportID:       "r2",
			ExpiresAt:      now.Add(time.Hour),
			LastActivityAt: now,
			CreatedAt:      now,
		}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Get(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ReportID != "r2" {
			t.Errorf("ReportID = %q, want r2", got.ReportID)
		}
		if err := repo.DeleteByUsername(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.Get(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}
