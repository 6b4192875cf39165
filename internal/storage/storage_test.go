package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "tipbot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tips.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func strp(s string) *string { return &s }

func TestTipCRUD(t *testing.T) {
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := st.CreateTip(ctx, Tip{Title: "Go", Content: "use gofmt", Tags: " Go , Style,,"})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.ID == 0 {
				t.Fatalf("expected id to be assigned")
			}
			if created.Tags != "go,style" {
				t.Fatalf("tags not normalized: %q", created.Tags)
			}

			if _, err := st.CreateTip(ctx, Tip{Title: "Go", Content: "again"}); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("duplicate title: err=%v", err)
			}

			got, err := st.GetTip(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != created {
				t.Fatalf("get = %+v, want %+v", got, created)
			}

			updated, err := st.UpdateTip(ctx, created.ID, TipPatch{Content: strp("run go vet")})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.Title != "Go" || updated.Content != "run go vet" || updated.Tags != "go,style" {
				t.Fatalf("partial update clobbered fields: %+v", updated)
			}

			if _, err := st.UpdateTip(ctx, 999, TipPatch{Title: strp("x")}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update missing: err=%v", err)
			}

			if err := st.DeleteTip(ctx, created.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.DeleteTip(ctx, created.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete: err=%v", err)
			}
			if _, err := st.GetTip(ctx, created.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get deleted: err=%v", err)
			}
		})
	}
}

func TestListTipsByTags(t *testing.T) {
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, tip := range []Tip{
				{Title: "a", Content: "1", Tags: "go,db"},
				{Title: "b", Content: "2", Tags: "golang"},
				{Title: "c", Content: "3"},
				{Title: "d", Content: "4", Tags: "db"},
			} {
				if _, err := st.CreateTip(ctx, tip); err != nil {
					t.Fatalf("create %s: %v", tip.Title, err)
				}
			}

			all, err := st.ListTips(ctx)
			if err != nil || len(all) != 4 {
				t.Fatalf("list all: n=%d err=%v", len(all), err)
			}

			cases := []struct {
				tags []string
				want []string
			}{
				{tags: []string{"go"}, want: []string{"a"}},
				{tags: []string{"DB"}, want: []string{"a", "d"}},
				{tags: []string{"golang", "db"}, want: []string{"a", "b", "d"}},
				{tags: []string{"nope"}, want: nil},
				{tags: nil, want: []string{"a", "b", "c", "d"}},
			}
			for _, tc := range cases {
				got, err := st.ListTipsByTags(ctx, tc.tags)
				if err != nil {
					t.Fatalf("list %v: %v", tc.tags, err)
				}
				if len(got) != len(tc.want) {
					t.Fatalf("list %v: got %d tips, want %v", tc.tags, len(got), tc.want)
				}
				for i := range got {
					if got[i].Title != tc.want[i] {
						t.Fatalf("list %v: got[%d]=%q, want %q", tc.tags, i, got[i].Title, tc.want[i])
					}
				}
			}
		})
	}
}

func TestScheduleUpsert(t *testing.T) {
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.LoadSchedule(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("empty load: err=%v", err)
			}
			if err := st.SaveSchedule(ctx, Schedule{ChatID: 42, Hour: 8, Minute: 0}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := st.SaveSchedule(ctx, Schedule{ChatID: 42, Hour: 9, Minute: 30}); err != nil {
				t.Fatalf("update: %v", err)
			}
			got, err := st.LoadSchedule(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got != (Schedule{ChatID: 42, Hour: 9, Minute: 30}) {
				t.Fatalf("load = %+v", got)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if _, err := st.ListTips(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("list after close: err=%v", err)
	}
}
