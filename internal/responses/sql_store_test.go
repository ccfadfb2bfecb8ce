package responses

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockStore(t *testing.T, dialect Dialect) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewSQLStore(db, dialect)
	store.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return mock, store
}

func TestSQLStorePostgresPlaceholders(t *testing.T) {
	mock, store := setupMockStore(t, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3)")).
		WithArgs("id-1", `{"a":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Put(context.Background(), "id-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreGet(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		want      string
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT payload FROM large_responses").
					WithArgs("id-1").
					WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`[1,2]`))
			},
			want: `[1,2]`,
		},
		{
			name: "missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT payload FROM large_responses").
					WithArgs("id-1").
					WillReturnRows(sqlmock.NewRows([]string{"payload"}))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockStore(t, DialectPostgres)
			tt.setupMock(mock)

			got, err := store.Get(context.Background(), "id-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Get() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSQLStorePruneWrapsErrors(t *testing.T) {
	mock, store := setupMockStore(t, DialectSQLite)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM large_responses WHERE created_at < ?")).
		WillReturnError(errors.New("database is locked"))

	if _, err := store.Prune(context.Background(), time.Now()); err == nil {
		t.Fatal("expected prune error")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind() = %q", got)
	}
	lite := &SQLStore{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind() = %q", got)
	}
}
