package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"esic/internal/db"
	"esic/internal/deadline"
	"esic/internal/model"
)

// GetAdminStats recomputes the dashboard over every stored request.
func (s *RequestService) GetAdminStats(ctx context.Context) (*model.AdminStats, error) {
	all, err := s.allRequests(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeAdminStats(all, s.clock())
	return &stats, nil
}

func (s *RequestService) GetPublicStats(ctx context.Context) (*model.PublicStats, error) {
	all, err := s.allRequests(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputePublicStats(all)
	return &stats, nil
}

func (s *RequestService) allRequests(ctx context.Context) ([]model.Solicitacao, error) {
	rows, err := s.store.ListSolicitacoes(ctx, db.ListSolicitacoesParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list solicitacoes: %w", err)
	}
	result := make([]model.Solicitacao, 0, len(rows))
	for _, r := range rows {
		result = append(result, *dbSolicitacaoToModel(r))
	}
	return result, nil
}

// ComputeAdminStats reduces a request slice to the dashboard summary.
func ComputeAdminStats(list []model.Solicitacao, now time.Time) model.AdminStats {
	stats := model.AdminStats{
		Total:     len(list),
		PorStatus: make(map[model.Status]int, len(model.AllStatuses)),
	}
	for _, st := range model.AllStatuses {
		stats.PorStatus[st] = 0
	}

	var totalDays float64
	answered := 0
	for _, sol := range list {
		stats.PorStatus[sol.Status]++

		if isRespondida(sol) {
			stats.Respondidas++
		}
		if sol.DataResposta != nil {
			totalDays += sol.DataResposta.Sub(sol.DataSolicitacao).Hours() / 24
			answered++
		}
		if (sol.Status == model.StatusPendente || sol.Status == model.StatusEmAndamento) &&
			deadline.AddCalendarDays(sol.DataSolicitacao, deadline.NearDeadlineCalendarDays).Before(now) {
			stats.ProximasDoPrazo++
		}
	}

	if answered > 0 {
		stats.TempoMedioDias = int(math.Round(totalDays / float64(answered)))
	}
	stats.TaxaResposta = percent(stats.Respondidas, stats.Total)
	return stats
}

// ComputePublicStats reduces a request slice to the transparency summary.
func ComputePublicStats(list []model.Solicitacao) model.PublicStats {
	stats := model.PublicStats{Total: len(list)}
	for _, sol := range list {
		if isRespondida(sol) {
			stats.Respondidas++
		}
		switch sol.Status {
		case model.StatusPendente, model.StatusEmAndamento, model.StatusProrrogada:
			stats.EmAndamento++
		}
	}
	stats.TaxaResposta = percent(stats.Respondidas, stats.Total)
	return stats
}

func isRespondida(sol model.Solicitacao) bool {
	return sol.Status == model.StatusRespondida || sol.DataResposta != nil
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
