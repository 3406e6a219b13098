package feed

import (
	"testing"

	"coinsim-server/internal/model"
)

func TestHistoryTrimsToLimit(t *testing.T) {
	h := NewHistory(3, []string{"bitcoin"})
	for i := 0; i < 5; i++ {
		h.Append("bitcoin", model.HistoryPoint{TimestampMS: int64(i), Price: float64(i)})
	}
	pts := h.Asset("bitcoin")
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	if pts[0].TimestampMS != 2 || pts[2].TimestampMS != 4 {
		t.Fatalf("expected oldest entries evicted, got %v", pts)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].TimestampMS <= pts[i-1].TimestampMS {
			t.Fatalf("expected ascending timestamps, got %v", pts)
		}
	}
}

func TestHistoryDropsUntrackedAssets(t *testing.T) {
	h := NewHistory(10, []string{"bitcoin"})
	h.Append("dogecoin", model.HistoryPoint{TimestampMS: 1, Price: 0.1})
	if _, ok := h.Snapshot()["dogecoin"]; ok {
		t.Fatal("untracked asset should not appear in snapshot")
	}
}

func TestHistorySnapshotIsDeepCopy(t *testing.T) {
	h := NewHistory(10, []string{"bitcoin", "ethereum"})
	h.Append("bitcoin", model.HistoryPoint{TimestampMS: 1, Price: 100})

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected entry per tracked asset, got %d", len(snap))
	}
	snap["bitcoin"][0].Price = 999
	if h.Asset("bitcoin")[0].Price != 100 {
		t.Fatal("snapshot mutation leaked into history")
	}
}

func TestHistoryRestoreRetrims(t *testing.T) {
	h := NewHistory(2, []string{"bitcoin"})
	h.Restore(map[string][]model.HistoryPoint{
		"bitcoin": {
			{TimestampMS: 1, Price: 1},
			{TimestampMS: 2, Price: 2},
			{TimestampMS: 3, Price: 3},
		},
		"dogecoin": {{TimestampMS: 1, Price: 0.1}},
	})
	pts := h.Asset("bitcoin")
	if len(pts) != 2 || pts[0].TimestampMS != 2 {
		t.Fatalf("expected restore to keep the newest 2 points, got %v", pts)
	}
	if len(h.Asset("dogecoin")) != 0 {
		t.Fatal("restore must not introduce untracked assets")
	}
}
