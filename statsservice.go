package main

import (
	"context"
	"net/http"

	"deck/internal/stats"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type StatsService struct {
	stats *stats.Service
}

func NewStatsService(statsDomain *stats.Service) *StatsService {
	return &StatsService{stats: statsDomain}
}

func (s *StatsService) GetOverview(ctx context.Context, limit int) (stats.Overview, error) {
	return s.stats.Overview(ctx, limit)
}

func (s *StatsService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/stats/overview", wrap(logger, func(req *http.Request) (any, error) {
		limit, err := queryInt(req, "limit", 0)
		if err != nil {
			return nil, err
		}
		return s.GetOverview(req.Context(), limit)
	})).Methods(http.MethodGet)
}
