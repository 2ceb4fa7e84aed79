package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := New(db, introspect.SQLite)
	require.NoError(t, s.EnsureTables(context.Background()))
	require.NoError(t, s.EnsureTables(context.Background()))
	return s
}

func projectWithApp(label string) *signature.ProjectSignature {
	p := signature.NewProjectSignature()
	app := signature.NewAppSignature(label)
	model := signature.NewModelSignature("Book", label+"_book")
	model.PKColumn = "id"
	model.AddFieldSig(signature.NewFieldSignature("id", signature.FieldAuto, map[string]any{"primary_key": true}, ""))
	app.AddModelSig(model)
	p.AddAppSig(app)
	return p
}

func TestCurrentVersionBreaksTiesByID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.CurrentVersion(ctx)
	assert.ErrorIs(t, err, ErrNoVersion)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	first, err := s.SaveVersion(ctx, projectWithApp("library"))
	require.NoError(t, err)
	second, err := s.SaveVersion(ctx, projectWithApp("shelf"))
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	current, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.True(t, fixed.Equal(current.When))

	project, err := current.Project()
	require.NoError(t, err)
	assert.Equal(t, []string{"shelf"}, project.AppIDs())
	assert.True(t, project.Equal(projectWithApp("shelf")))

	s.SetClock(func() time.Time { return fixed.Add(-time.Hour) })
	_, err = s.SaveVersion(ctx, projectWithApp("older"))
	require.NoError(t, err)
	current, err = s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	versions, err := s.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, []int64{second.ID, first.ID}, []int64{versions[0].ID, versions[1].ID})
}

func TestEvolutionRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := s.SaveVersion(ctx, projectWithApp("library"))
	require.NoError(t, err)
	require.NoError(t, s.RecordEvolutions(ctx, v.ID, "library", "0001_initial", "0002_pages"))
	require.NoError(t, s.RecordEvolutions(ctx, v.ID, "shelf", "0001_initial"))

	applied, err := s.AppliedLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"library": {"0001_initial", "0002_pages"},
		"shelf":   {"0001_initial"},
	}, applied)

	evs, err := s.Evolutions(ctx, "shelf")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, v.ID, evs[0].VersionID)

	n, err := s.DeleteEvolutions(ctx, "library", "0002_pages", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	evs, err = s.Evolutions(ctx, "library")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "0001_initial", evs[0].Label)
}

func TestDeleteVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := s.SaveVersion(ctx, projectWithApp("library"))
	require.NoError(t, err)
	require.NoError(t, s.RecordEvolutions(ctx, v.ID, "library", "0001_initial"))

	got, err := s.Version(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Signature, got.Signature)

	require.NoError(t, s.DeleteVersion(ctx, v.ID))
	_, err = s.Version(ctx, v.ID)
	assert.ErrorIs(t, err, ErrNoVersion)
	assert.ErrorIs(t, s.DeleteVersion(ctx, v.ID), ErrNoVersion)

	evs, err := s.Evolutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)
}
