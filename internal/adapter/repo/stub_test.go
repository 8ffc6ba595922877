package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stickerpack/internal/infra"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type stubCall struct {
	query string
	args  []any
}

type stubDB struct {
	t        *testing.T
	calls    []stubCall
	row      stubRow
	affected int64
	execErr  error
}

func (s *stubDB) record(query string, args []any) {
	s.t.Helper()
	if _, _, err := infra.ExtractMarker(query); err != nil {
		s.t.Fatalf("query without marker: %v", err)
	}
	s.calls = append(s.calls, stubCall{query: query, args: args})
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.record(query, args)
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	if s.affected == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.record(query, args)
	return s.row
}

func (s *stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.record(query, args)
	return nil, errors.New("query not supported in stub")
}

func (s *stubDB) lastCall() stubCall {
	s.t.Helper()
	if len(s.calls) == 0 {
		s.t.Fatalf("no calls recorded")
	}
	return s.calls[len(s.calls)-1]
}

var _ infra.SQLExecutor = (*stubDB)(nil)
