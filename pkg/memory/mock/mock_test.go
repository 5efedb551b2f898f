package mock

import (
	"context"
	"testing"
	"time"

	"github.com/promptpane/promptpane/pkg/memory"
)

func TestStore_RecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i, q := range []string{"first", "second", "third"} {
		ex := memory.Exchange{
			ID:        q,
			Question:  q,
			Answer:    "a",
			CreatedAt: time.Unix(int64(i), 0),
		}
		if err := s.SaveExchange(ctx, ex); err != nil {
			t.Fatalf("SaveExchange: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Question != "third" || got[1].Question != "second" {
		t.Errorf("Recent = %+v, want [third second]", got)
	}
}

func TestStore_SaveExchangeReplacesByID(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	s.SaveExchange(ctx, memory.Exchange{ID: "x", Answer: "old"})
	s.SaveExchange(ctx, memory.Exchange{ID: "x", Answer: "new"})

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Answer != "new" {
		t.Errorf("Recent = %+v, want single replaced exchange", got)
	}
}

func TestStore_SimilarRanksByCosine(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	s.SaveExchange(ctx, memory.Exchange{ID: "close", Embedding: []float32{1, 0}})
	s.SaveExchange(ctx, memory.Exchange{ID: "far", Embedding: []float32{0, 1}})
	s.SaveExchange(ctx, memory.Exchange{ID: "no-embedding"})

	got, err := s.Similar(ctx, []float32{0.9, 0.1}, 2)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].ID != "close" || got[1].ID != "far" {
		t.Errorf("Similar = %+v, want [close far]", got)
	}
}
