package api

import "net/http"

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	update := s.prices.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"prices":      update.Prices,
		"history":     update.History,
		"lastUpdated": update.LastUpdated,
	})
}

func (s *Server) handlePriceBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	quote, history, ok := s.prices.AssetQuote(symbol)
	if !ok {
		s.writeError(w, http.StatusNotFound, "symbol not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"price":   quote,
		"history": history,
	})
}
