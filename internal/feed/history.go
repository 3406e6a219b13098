package feed

import "coinsim-server/internal/model"

// History keeps a bounded, timestamp-ascending window of price points per
// asset. It is not safe for concurrent use; the acquirer guards it.
type History struct {
	limit  int
	points map[string][]model.HistoryPoint
}

func NewHistory(limit int, assets []string) *History {
	points := make(map[string][]model.HistoryPoint, len(assets))
	for _, asset := range assets {
		points[asset] = nil
	}
	return &History{limit: limit, points: points}
}

// Append records one point for a tracked asset and evicts the oldest entries
// beyond the limit. Points for untracked assets are dropped.
func (h *History) Append(asset string, point model.HistoryPoint) {
	if _, ok := h.points[asset]; !ok {
		return
	}
	pts := append(h.points[asset], point)
	if len(pts) > h.limit {
		pts = pts[len(pts)-h.limit:]
	}
	h.points[asset] = pts
}

func (h *History) Asset(asset string) []model.HistoryPoint {
	pts := h.points[asset]
	out := make([]model.HistoryPoint, len(pts))
	copy(out, pts)
	return out
}

// Snapshot returns a deep copy keyed by asset, with an entry (possibly empty)
// for every tracked asset.
func (h *History) Snapshot() map[string][]model.HistoryPoint {
	out := make(map[string][]model.HistoryPoint, len(h.points))
	for asset, pts := range h.points {
		cp := make([]model.HistoryPoint, len(pts))
		copy(cp, pts)
		out[asset] = cp
	}
	return out
}

// Restore replaces the window for every tracked asset present in the
// snapshot, re-trimming to the limit.
func (h *History) Restore(snapshot map[string][]model.HistoryPoint) {
	for asset, pts := range snapshot {
		if _, ok := h.points[asset]; !ok {
			continue
		}
		if len(pts) > h.limit {
			pts = pts[len(pts)-h.limit:]
		}
		cp := make([]model.HistoryPoint, len(pts))
		copy(cp, pts)
		h.points[asset] = cp
	}
}
