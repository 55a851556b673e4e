package implementation

import (
	"context"
	"reflect"
	"testing"

	health "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Health"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

func newTestRepo(t *testing.T) *SQLReadingRepository {
	t.Helper()

	db, err := health.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := health.NewDatabaseManager(db).CreateTables(context.Background()); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return NewSQLReadingRepository(db, DialectSQLite)
}

func mustInsert(t *testing.T, repo interfaces.ReadingRepository, readings ...tdsmodels.Reading) {
	t.Helper()
	for _, r := range readings {
		if err := repo.InsertReading(context.Background(), r); err != nil {
			t.Fatalf("insert %+v: %v", r, err)
		}
	}
}

func values(readings []tdsmodels.Reading) []float64 {
	out := make([]float64, 0, len(readings))
	for _, r := range readings {
		out = append(out, r.ValuePPM)
	}
	return out
}

func TestLatestAndRecentScenario(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustInsert(t, repo,
		tdsmodels.Reading{ID: 1, ValuePPM: 12.5, ObservedAt: 1700000000},
		tdsmodels.Reading{ID: 2, ValuePPM: 13.0, ObservedAt: 1700000000},
		tdsmodels.Reading{ID: 3, ValuePPM: 11.8, ObservedAt: 1700000000},
	)

	latest, err := repo.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ValuePPM != 11.8 {
		t.Fatalf("expected latest 11.8, got %+v", latest)
	}

	recent, err := repo.GetRecentReadings(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if got, want := values(recent), []float64{11.8, 13.0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLatestOnEmptyStore(t *testing.T) {
	repo := newTestRepo(t)

	latest, err := repo.GetLatestReading(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no reading, got %+v", latest)
	}

	recent, err := repo.GetRecentReadings(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if recent == nil || len(recent) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", recent)
	}
}

func TestRecentIsBoundedAndOrdered(t *testing.T) {
	repo := newTestRepo(t)

	for i := 1; i <= 75; i++ {
		// timestamps deliberately out of insertion order
		mustInsert(t, repo, tdsmodels.Reading{ID: int64(i), ValuePPM: float64(i), ObservedAt: int64(1000 + (i*37)%50)})
	}

	for _, limit := range []int{0, -1, 60, 61, 1000} {
		recent, err := repo.GetRecentReadings(context.Background(), limit)
		if err != nil {
			t.Fatalf("recent(%d): %v", limit, err)
		}
		if len(recent) != interfaces.MaxHistory {
			t.Fatalf("recent(%d): expected %d readings, got %d", limit, interfaces.MaxHistory, len(recent))
		}
		for i := 1; i < len(recent); i++ {
			prev, cur := recent[i-1], recent[i]
			if prev.ObservedAt < cur.ObservedAt {
				t.Fatalf("recent(%d): timestamps increase at %d: %d < %d", limit, i, prev.ObservedAt, cur.ObservedAt)
			}
			if prev.ObservedAt == cur.ObservedAt && prev.ID < cur.ID {
				t.Fatalf("recent(%d): tie not broken by newest insert at %d", limit, i)
			}
		}
	}
}

func TestLatestFollowsInsertionNotTimestamp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// clock stepped backwards between the two inserts
	mustInsert(t, repo,
		tdsmodels.Reading{ID: 10, ValuePPM: 1, ObservedAt: 200},
		tdsmodels.Reading{ID: 11, ValuePPM: 2, ObservedAt: 100},
	)

	latest, err := repo.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != 11 {
		t.Fatalf("expected last inserted reading 11, got %d", latest.ID)
	}

	recent, err := repo.GetRecentReadings(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if recent[0].ID != 10 || recent[1].ID != 11 {
		t.Fatalf("expected history sorted by timestamp, got %+v", recent)
	}
}

func TestInsertDuplicateIDFails(t *testing.T) {
	repo := newTestRepo(t)
	mustInsert(t, repo, tdsmodels.Reading{ID: 7, ValuePPM: 1, ObservedAt: 1})

	if err := repo.InsertReading(context.Background(), tdsmodels.Reading{ID: 7, ValuePPM: 2, ObservedAt: 2}); err == nil {
		t.Fatal("expected constraint violation")
	}

	latest, err := repo.GetLatestReading(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ValuePPM != 1 {
		t.Fatalf("failed insert must not be visible, got %+v", latest)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustInsert(t, repo,
		tdsmodels.Reading{ID: 1, ValuePPM: -4.25, ObservedAt: 5},
		tdsmodels.Reading{ID: 2, ValuePPM: 1e9, ObservedAt: 6},
	)

	first, _ := repo.GetRecentReadings(ctx, 60)
	second, _ := repo.GetRecentReadings(ctx, 60)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("recent changed between calls: %v vs %v", first, second)
	}

	a, _ := repo.GetLatestReading(ctx)
	b, _ := repo.GetLatestReading(ctx)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("latest changed between calls: %v vs %v", a, b)
	}
}

func TestStoreUnreachable(t *testing.T) {
	repo := newTestRepo(t)
	repo.db.Close()

	if _, err := repo.GetLatestReading(context.Background()); err == nil {
		t.Error("expected latest to fail on closed db")
	}
	if _, err := repo.GetRecentReadings(context.Background(), 60); err == nil {
		t.Error("expected recent to fail on closed db")
	}
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail on closed db")
	}
}

func TestRebind(t *testing.T) {
	q := `INSERT INTO t (a, b) VALUES (?, ?)`
	if got := DialectPostgres.rebind(q); got != `INSERT INTO t (a, b) VALUES ($1, $2)` {
		t.Errorf("unexpected postgres query %q", got)
	}
	if got := DialectSQLite.rebind(q); got != q {
		t.Errorf("sqlite query must be unchanged, got %q", got)
	}
}
