package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/database"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, repo, err := Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return repo
}

func TestRecord_FillsIDAndTimestamp(t *testing.T) {
	repo := openTestRepo(t)

	e := &Entry{Operation: "apontar", Device: "dev-1", Serial: "001", Status: "200", Log: "OK", OK: true}
	if err := repo.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if e.ID == "" {
		t.Error("ID not generated")
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestList_RoundTripsFields(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := &Entry{
		Operation: "ordem_transporte",
		Device:    "dev-1",
		Serial:    "001,002",
		Ordem:     "OT-9",
		Status:    "200",
		Log:       "ERRO1: rota invalida",
		OK:        false,
		Error:     "cmcontrol responded with an error",
		Duration:  1500 * time.Millisecond,
		CreatedAt: at,
	}
	if err := repo.Record(ctx, in); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() total=%d len=%d, want 1", res.Total, len(res.Entries))
	}
	got := res.Entries[0]
	if got.ID != in.ID || got.Serial != "001,002" || got.Ordem != "OT-9" || got.Log != in.Log {
		t.Errorf("entry = %+v", got)
	}
	if got.OK || got.Error == "" {
		t.Errorf("OK=%v Error=%q, want failed entry", got.OK, got.Error)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at)
	}
	if got.Ciclo != "" {
		t.Errorf("Ciclo = %q, want empty", got.Ciclo)
	}
}

func TestList_Filters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Operation: "apontar", Serial: "001", OK: true},
		{Operation: "apontar", Serial: "002", OK: false, Error: "timeout"},
		{Operation: "validar_rota", Serial: "001", Ciclo: "VALIDAR_ROTA", OK: true},
		{Operation: "apontar_vinculo", Serial: "010,001,020", OK: true},
		{Operation: "apontar", Serial: "0010", OK: true},
	}
	for i := range seed {
		seed[i].Device = "dev-1"
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Record(ctx, &seed[i]); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string // serials, newest first
	}{
		{"all", Filter{}, []string{"0010", "010,001,020", "001", "002", "001"}},
		{"by operation", Filter{Operation: "apontar"}, []string{"0010", "002", "001"}},
		{"by serial includes linked", Filter{Serial: "001"}, []string{"010,001,020", "001", "001"}},
		{"only failures", Filter{OnlyFail: true}, []string{"002"}},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{"010,001,020", "001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var got []string
			for _, e := range res.Entries {
				got = append(got, e.Serial)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("serials = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("serials = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := openTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("Limit=%d Offset=%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}
