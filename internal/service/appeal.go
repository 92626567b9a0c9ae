package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"esic/internal/auth"
	"esic/internal/db"
	"esic/internal/deadline"
	"esic/internal/model"

	"github.com/oklog/ulid/v2"
)

func (s *RequestService) ListAppeals(ctx context.Context, requestID string) ([]model.Recurso, error) {
	rows, err := s.store.ListRecursos(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recursos: %w", err)
	}
	result := make([]model.Recurso, 0, len(rows))
	for _, r := range rows {
		result = append(result, *dbRecursoToModel(r))
	}
	return result, nil
}

type FileAppealInput struct {
	// Instancia is derived from the existing appeals when empty.
	Instancia model.Instancia `json:"instancia,omitempty"`
	Motivo    string          `json:"motivo" validate:"required"`
}

// FileAppeal records an appeal and moves the request to recurso. The
// decision deadline is five calendar days from now.
func (s *RequestService) FileAppeal(ctx context.Context, requestID string, input FileAppealInput) (*model.Recurso, error) {
	input.Motivo = strings.TrimSpace(input.Motivo)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Instancia != "" && !input.Instancia.Valid() {
		return nil, fmt.Errorf("%w: unknown instancia %q", ErrValidation, input.Instancia)
	}

	now := s.clock()
	var (
		recurso *model.Recurso
		updated *model.Solicitacao
	)

	err := s.inTx(ctx, func(ctx context.Context) error {
		current, err := s.loadSolicitacao(ctx, requestID)
		if err != nil {
			return err
		}
		if !model.CanAppeal(current.Status) {
			return fmt.Errorf("%w: cannot appeal solicitacao in status %s", ErrInvalidTransition, current.Status)
		}

		instancia := input.Instancia
		if instancia == "" {
			instancia, err = s.nextInstancia(ctx, current.ID)
			if err != nil {
				return err
			}
		}

		row, err := s.store.CreateRecurso(ctx, db.CreateRecursoParams{
			ID:            ulid.Make().String(),
			SolicitacaoID: current.ID,
			Instancia:     string(instancia),
			Motivo:        input.Motivo,
			DataRecurso:   now,
			DataLimite:    deadline.AddCalendarDays(now, deadline.AppealCalendarDays),
		})
		if err != nil {
			return fmt.Errorf("failed to create recurso: %w", err)
		}
		recurso = dbRecursoToModel(row)

		updatedRow, err := s.store.UpdateSolicitacao(ctx, current.ID, db.UpdateSolicitacaoParams{
			Status:    statusPtr(model.StatusRecurso),
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to update solicitacao: %w", err)
		}
		updated = dbSolicitacaoToModel(updatedRow)

		descricao := fmt.Sprintf("Recurso em %s instância registrado", recurso.Instancia)
		return s.appendHistorico(ctx, updated.ID, model.AcaoRecursoCriado, descricao, recurso)
	})
	if err != nil {
		return nil, err
	}

	s.publish(updated, "recurso.criado", map[string]interface{}{
		"recursoId": recurso.ID,
		"instancia": string(recurso.Instancia),
	})
	return recurso, nil
}

// nextInstancia picks the tier after the highest one already filed.
func (s *RequestService) nextInstancia(ctx context.Context, solicitacaoID string) (model.Instancia, error) {
	existing, err := s.store.ListRecursos(ctx, solicitacaoID)
	if err != nil {
		return "", fmt.Errorf("failed to list recursos: %w", err)
	}
	highest := 0
	for _, r := range existing {
		if n := model.Instancia(r.Instancia).Ordinal(); n > highest {
			highest = n
		}
	}
	next, ok := model.InstanciaFromOrdinal(highest + 1)
	if !ok {
		return "", fmt.Errorf("%w: all appeal instances exhausted", ErrInvalidTransition)
	}
	return next, nil
}

type DecideAppealInput struct {
	Decisao       string  `json:"decisao" validate:"required"`
	Fundamentacao *string `json:"fundamentacao,omitempty"`
	// DecididoPor defaults to the authenticated user.
	DecididoPor string `json:"decididoPor,omitempty"`
}

// DecideAppeal records the decision on an appeal. The parent request
// status is left as is; staff move it on with Transition.
func (s *RequestService) DecideAppeal(ctx context.Context, appealID string, input DecideAppealInput) (*model.Recurso, error) {
	input.Decisao = strings.TrimSpace(input.Decisao)
	if input.DecididoPor == "" {
		input.DecididoPor = auth.GetUserID(ctx)
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.DecididoPor == "" {
		return nil, fmt.Errorf("%w: decididoPor is required", ErrValidation)
	}

	now := s.clock()
	var (
		recurso *model.Recurso
		parent  *model.Solicitacao
	)

	err := s.inTx(ctx, func(ctx context.Context) error {
		current, err := s.store.GetRecursoByID(ctx, appealID)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("recurso %s: %w", appealID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get recurso: %w", err)
		}
		if current.Decisao != nil {
			return fmt.Errorf("%w: recurso already decided", ErrInvalidTransition)
		}

		parent, err = s.loadSolicitacao(ctx, current.SolicitacaoID)
		if err != nil {
			return err
		}

		row, err := s.store.DecideRecurso(ctx, appealID, db.DecideRecursoParams{
			Decisao:       input.Decisao,
			Fundamentacao: input.Fundamentacao,
			DecididoPor:   input.DecididoPor,
			DataDecisao:   now,
		})
		if err != nil {
			return fmt.Errorf("failed to decide recurso: %w", err)
		}
		recurso = dbRecursoToModel(row)

		descricao := fmt.Sprintf("Recurso em %s instância decidido: %s", recurso.Instancia, input.Decisao)
		return s.appendHistorico(ctx, parent.ID, model.AcaoRecursoDecidido, descricao, recurso)
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"instancia": string(recurso.Instancia),
		"decisao":   input.Decisao,
	}
	if input.Fundamentacao != nil {
		payload["fundamentacao"] = *input.Fundamentacao
	}
	s.notify(ctx, parent, model.NotificacaoRecurso, payload)
	s.publish(parent, "recurso.decidido", map[string]interface{}{"recursoId": recurso.ID})

	return recurso, nil
}
