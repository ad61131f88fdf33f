package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/domain/model"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

func statusFor(err error) int {
	var br *badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrUnknownChain):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func limitParam(r *http.Request) int {
	return min(queryInt(r, "limit", defaultLimit), maxLimit)
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var body dto.TradeDTO
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	trade, outcome, err := s.dash.Trades.CreateTrade(r.Context(), body.ToModel())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"success": true, "trade": trade}
	if outcome == model.DuplicateNoOp {
		resp["duplicate"] = true
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trades := s.dash.Cache.SearchTrades(model.TradeFilter{
		Chain:   strings.ToUpper(q.Get("chain")),
		Keyword: q.Get("keyword"),
		Tag:     q.Get("tag"),
		Limit:   limitParam(r),
	})
	s.writeJSON(w, http.StatusOK, dataBody(trades))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r)
	if chain := strings.ToUpper(r.URL.Query().Get("chain")); chain != "" {
		s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.TradesByChain(chain, limit)))
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.Trades(limit)))
}

func (s *Server) handleTradeByHash(w http.ResponseWriter, r *http.Request) {
	trade, ok := s.dash.Cache.TradeByHash(r.PathValue("hash"))
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(trade))
}

func (s *Server) handleProfits(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.Summaries()))
}

func (s *Server) handleChainProfit(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.dash.Cache.Summary(chainParam(r))
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(summary))
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	chain := chainParam(r)
	s.writeJSON(w, http.StatusOK, dataBody(model.ChainTagProfits{
		Chain:      chain,
		TagProfits: s.dash.Cache.TagProfitStats(chain),
	}))
}

func (s *Server) handleAllTokens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.AllTokenStats()))
}

func (s *Server) handleTopTokens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.TopTokens(queryInt(r, "limit", 10))))
}

func (s *Server) handleChainTokens(w http.ResponseWriter, r *http.Request) {
	chain := chainParam(r)
	s.writeJSON(w, http.StatusOK, dataBody(model.ChainTokenProfits{
		Chain:        chain,
		TokenProfits: s.dash.Cache.ChainTokenStats(chain),
	}))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.dash.Cache.TokenStats(chainParam(r), r.PathValue("addr"))
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(entry))
}

func (s *Server) handleCreateWarning(w http.ResponseWriter, r *http.Request) {
	var body dto.WarningDTO
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	warning, err := s.dash.Trades.CreateWarning(r.Context(), body.Type, body.Msg, body.Chain)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "warning": warning})
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	chain := strings.ToUpper(r.URL.Query().Get("chain"))
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.Warnings(chain, limitParam(r))))
}

func (s *Server) handleWarningStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Cache.WarningStats()))
}

func warningID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, &model.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

func (s *Server) handleWarningByID(w http.ResponseWriter, r *http.Request) {
	id, err := warningID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	warning, ok := s.dash.Cache.WarningByID(id)
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(warning))
}

func (s *Server) handleDeleteWarning(w http.ResponseWriter, r *http.Request) {
	id, err := warningID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.dash.Cache.DeleteWarning(id) {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDeleteWarnings(w http.ResponseWriter, r *http.Request) {
	var body dto.DeleteWarningsDTO
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if len(body.IDs) == 0 {
		s.writeError(w, &model.ValidationError{Field: "ids", Reason: "required"})
		return
	}
	n := s.dash.Cache.DeleteWarnings(body.IDs)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (s *Server) handleClearWarnings(w http.ResponseWriter, r *http.Request) {
	s.dash.Cache.ClearWarnings()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleNodeUpdate(w http.ResponseWriter, r *http.Request) {
	var body dto.NodeStatusDTO
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(body.Chain) == "" {
		s.writeError(w, &model.ValidationError{Field: "chain", Reason: "required"})
		return
	}
	status := s.dash.Nodes.Update(r.Context(), body.Chain, body.ToModel())
	s.writeJSON(w, http.StatusOK, dataBody(status))
}

func (s *Server) handleNodeReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, dataBody(s.dash.Nodes.Report()))
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.dash.Nodes.Status(chainParam(r))
	if !ok {
		s.writeError(w, model.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, dataBody(status))
}
