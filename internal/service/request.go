package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"esic/internal/auth"
	"esic/internal/db"
	"esic/internal/deadline"
	"esic/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a mutation targets a missing request or appeal.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when the current status forbids the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
)

// Store is the persistence the lifecycle engine needs. *db.Queries satisfies it.
type Store interface {
	CreateSolicitacao(ctx context.Context, p db.CreateSolicitacaoParams) (db.Solicitacao, error)
	GetSolicitacaoByID(ctx context.Context, id string) (db.Solicitacao, error)
	GetSolicitacaoForUpdate(ctx context.Context, id string) (db.Solicitacao, error)
	GetSolicitacaoByProtocolo(ctx context.Context, protocolo string) (db.Solicitacao, error)
	UpdateSolicitacao(ctx context.Context, id string, p db.UpdateSolicitacaoParams) (db.Solicitacao, error)
	ListSolicitacoes(ctx context.Context, p db.ListSolicitacoesParams) ([]db.Solicitacao, error)

	CreateResposta(ctx context.Context, p db.CreateRespostaParams) (db.Resposta, error)
	ListRespostas(ctx context.Context, solicitacaoID string) ([]db.Resposta, error)

	CreateRecurso(ctx context.Context, p db.CreateRecursoParams) (db.Recurso, error)
	GetRecursoByID(ctx context.Context, id string) (db.Recurso, error)
	ListRecursos(ctx context.Context, solicitacaoID string) ([]db.Recurso, error)
	DecideRecurso(ctx context.Context, id string, p db.DecideRecursoParams) (db.Recurso, error)

	CreateHistorico(ctx context.Context, p db.CreateHistoricoParams) error
	ListHistorico(ctx context.Context, solicitacaoID string) ([]db.Historico, error)
}

// ProtocolAllocator hands out unique, human readable protocols.
type ProtocolAllocator interface {
	Next(ctx context.Context) (string, error)
}

// Notifier delivers requester notifications. Errors are never fatal.
type Notifier interface {
	Send(ctx context.Context, n model.Notificacao) error
}

type EventBus interface {
	PublishSolicitacao(protocolo string, event map[string]interface{}) error
	PublishAdmin(event map[string]interface{}) error
}

// TxRunner runs fn in one transaction carried by the ctx it receives.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RequestService struct {
	store     Store
	protocols ProtocolAllocator
	notifier  Notifier
	bus       EventBus
	tx        TxRunner
	now       func() time.Time
	loc       *time.Location
	validate  *validator.Validate
	log       *zap.Logger
}

func NewRequestService(store Store, protocols ProtocolAllocator, notifier Notifier, bus EventBus, log *zap.Logger) *RequestService {
	return &RequestService{
		store:     store,
		protocols: protocols,
		notifier:  notifier,
		bus:       bus,
		now:       time.Now,
		loc:       time.Local,
		validate:  validator.New(),
		log:       log,
	}
}

// SetTxRunner makes each operation's store writes atomic
func (s *RequestService) SetTxRunner(tx TxRunner) {
	s.tx = tx
}

// SetClock replaces the wall clock
func (s *RequestService) SetClock(now func() time.Time) {
	s.now = now
}

// SetLocation sets the zone business days are counted in.
func (s *RequestService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// clock is the current time in the service's zone. Weekday arithmetic must
// go through it.
func (s *RequestService) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *RequestService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

type CreateRequestInput struct {
	Nome             string  `json:"nome" validate:"required"`
	Email            string  `json:"email" validate:"required,email"`
	Telefone         *string `json:"telefone,omitempty"`
	Documento        *string `json:"documento,omitempty"`
	Assunto          string  `json:"assunto"`
	Descricao        string  `json:"descricao"`
	FormaRecebimento string  `json:"formaRecebimento,omitempty"`
}

func (s *RequestService) CreateRequest(ctx context.Context, input CreateRequestInput) (*model.Solicitacao, error) {
	input.Nome = strings.TrimSpace(input.Nome)
	input.Email = strings.TrimSpace(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.FormaRecebimento == "" {
		input.FormaRecebimento = model.FormaRecebimentoEmail
	}

	protocolo, err := s.protocols.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate protocolo: %w", err)
	}

	now := s.clock()
	var created *model.Solicitacao
	err = s.inTx(ctx, func(ctx context.Context) error {
		row, err := s.store.CreateSolicitacao(ctx, db.CreateSolicitacaoParams{
			ID:               ulid.Make().String(),
			Protocolo:        protocolo,
			Nome:             input.Nome,
			Email:            input.Email,
			Telefone:         input.Telefone,
			Documento:        input.Documento,
			Assunto:          input.Assunto,
			Descricao:        input.Descricao,
			FormaRecebimento: input.FormaRecebimento,
			DataSolicitacao:  now,
			DataLimite:       deadline.AddBusinessDays(now, deadline.InitialBusinessDays),
			Status:           string(model.StatusPendente),
			Prioridade:       model.PrioridadeNormal,
		})
		if err != nil {
			return fmt.Errorf("failed to create solicitacao: %w", err)
		}
		created = dbSolicitacaoToModel(row)
		return s.appendHistorico(ctx, created.ID, model.AcaoCriado, "Solicitação registrada", created)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, created, model.NotificacaoNovaSolicitacao, map[string]interface{}{
		"assunto":    created.Assunto,
		"dataLimite": s.formatDate(created.DataLimite),
	})
	s.publish(created, "solicitacao.criada", nil)

	return created, nil
}

// GetRequestByProtocol returns nil, nil when no request matches.
func (s *RequestService) GetRequestByProtocol(ctx context.Context, protocolo string) (*model.Solicitacao, error) {
	row, err := s.store.GetSolicitacaoByProtocolo(ctx, protocolo)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solicitacao: %w", err)
	}
	return dbSolicitacaoToModel(row), nil
}

// GetRequestByID returns nil, nil when no request matches.
func (s *RequestService) GetRequestByID(ctx context.Context, id string) (*model.Solicitacao, error) {
	row, err := s.store.GetSolicitacaoByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solicitacao: %w", err)
	}
	return dbSolicitacaoToModel(row), nil
}

func (s *RequestService) ListResponses(ctx context.Context, requestID string) ([]model.Resposta, error) {
	rows, err := s.store.ListRespostas(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list respostas: %w", err)
	}
	result := make([]model.Resposta, 0, len(rows))
	for _, r := range rows {
		result = append(result, *dbRespostaToModel(r))
	}
	return result, nil
}

func (s *RequestService) ListHistory(ctx context.Context, requestID string) ([]model.Historico, error) {
	rows, err := s.store.ListHistorico(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list historico: %w", err)
	}
	result := make([]model.Historico, 0, len(rows))
	for _, h := range rows {
		result = append(result, dbHistoricoToModel(h))
	}
	return result, nil
}

func (s *RequestService) ListRequests(ctx context.Context, filter model.SolicitacaoFilter) ([]model.Solicitacao, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	rows, err := s.store.ListSolicitacoes(ctx, db.ListSolicitacoesParams{
		Status:   string(filter.Status),
		Search:   filter.Search,
		DateFrom: filter.DateFrom,
		DateTo:   filter.DateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list solicitacoes: %w", err)
	}
	result := make([]model.Solicitacao, 0, len(rows))
	for _, r := range rows {
		result = append(result, *dbSolicitacaoToModel(r))
	}
	return result, nil
}

type RespondInput struct {
	Tipo               model.TipoResposta `json:"tipo"`
	Conteudo           string             `json:"conteudo" validate:"required"`
	FundamentacaoLegal *string            `json:"fundamentacaoLegal,omitempty"`
	Anexos             []model.Anexo      `json:"anexos,omitempty"`
}

// Respond records an answer, or an extension when Tipo is prorrogacao.
// An extension chains ten business days from the current deadline and may
// happen only once per request.
func (s *RequestService) Respond(ctx context.Context, requestID string, input RespondInput) (*model.Resposta, error) {
	if !input.Tipo.Valid() {
		return nil, fmt.Errorf("%w: unknown tipo %q", ErrValidation, input.Tipo)
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	anexos, err := marshalAnexos(input.Anexos)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	extension := input.Tipo == model.TipoProrrogacao
	var (
		resposta *model.Resposta
		updated  *model.Solicitacao
	)

	err = s.inTx(ctx, func(ctx context.Context) error {
		current, err := s.loadSolicitacao(ctx, requestID)
		if err != nil {
			return err
		}
		if !model.CanRespond(current.Status) {
			return fmt.Errorf("%w: cannot respond to solicitacao in status %s", ErrInvalidTransition, current.Status)
		}
		if extension && current.DataProrrogacao != nil {
			return fmt.Errorf("%w: deadline already extended", ErrInvalidTransition)
		}

		row, err := s.store.CreateResposta(ctx, db.CreateRespostaParams{
			ID:                 ulid.Make().String(),
			SolicitacaoID:      current.ID,
			Tipo:               string(input.Tipo),
			Conteudo:           input.Conteudo,
			FundamentacaoLegal: input.FundamentacaoLegal,
			Anexos:             anexos,
			RespondidoPor:      optionalString(auth.GetUserID(ctx)),
			DataResposta:       now,
		})
		if err != nil {
			return fmt.Errorf("failed to create resposta: %w", err)
		}
		resposta = dbRespostaToModel(row)

		params := db.UpdateSolicitacaoParams{UpdatedAt: now}
		acao := model.AcaoRespondido
		descricao := "Resposta registrada: " + input.Tipo.Label()
		if extension {
			novoPrazo := deadline.AddBusinessDays(current.DataLimite.In(s.loc), deadline.ExtensionBusinessDays)
			params.Status = statusPtr(model.StatusProrrogada)
			params.DataProrrogacao = &novoPrazo
			acao = model.AcaoProrrogado
			descricao = "Prazo prorrogado até " + s.formatDate(novoPrazo)
		} else {
			params.Status = statusPtr(model.StatusRespondida)
			params.DataResposta = &now
		}

		updatedRow, err := s.store.UpdateSolicitacao(ctx, current.ID, params)
		if err != nil {
			return fmt.Errorf("failed to update solicitacao: %w", err)
		}
		updated = dbSolicitacaoToModel(updatedRow)

		return s.appendHistorico(ctx, updated.ID, acao, descricao, updated)
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"tipo":      string(input.Tipo),
		"tipoLabel": input.Tipo.Label(),
		"conteudo":  input.Conteudo,
	}
	if extension {
		payload["novoPrazo"] = s.formatDate(*updated.DataProrrogacao)
		s.notify(ctx, updated, model.NotificacaoProrrogacao, payload)
		s.publish(updated, "solicitacao.prorrogada", map[string]interface{}{"respostaId": resposta.ID})
	} else {
		s.notify(ctx, updated, model.NotificacaoResposta, payload)
		s.publish(updated, "solicitacao.respondida", map[string]interface{}{"respostaId": resposta.ID})
	}

	return resposta, nil
}

// ForceSetStatus sets any known status regardless of the current one.
// Deadlines are not recomputed and no notification is sent.
func (s *RequestService) ForceSetStatus(ctx context.Context, requestID string, status model.Status, setorResponsavel *string) (*model.Solicitacao, error) {
	return s.setStatus(ctx, requestID, status, setorResponsavel, false)
}

// UpdateStatus is ForceSetStatus.
func (s *RequestService) UpdateStatus(ctx context.Context, requestID string, status model.Status, setorResponsavel *string) (*model.Solicitacao, error) {
	return s.ForceSetStatus(ctx, requestID, status, setorResponsavel)
}

// Transition is ForceSetStatus restricted to the transition table.
func (s *RequestService) Transition(ctx context.Context, requestID string, status model.Status, setorResponsavel *string) (*model.Solicitacao, error) {
	return s.setStatus(ctx, requestID, status, setorResponsavel, true)
}

func (s *RequestService) setStatus(ctx context.Context, requestID string, status model.Status, setor *string, strict bool) (*model.Solicitacao, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	var updated *model.Solicitacao
	err := s.inTx(ctx, func(ctx context.Context) error {
		current, err := s.loadSolicitacao(ctx, requestID)
		if err != nil {
			return err
		}
		if strict && !model.CanTransition(current.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
		}

		row, err := s.store.UpdateSolicitacao(ctx, current.ID, db.UpdateSolicitacaoParams{
			Status:           statusPtr(status),
			SetorResponsavel: setor,
			UpdatedAt:        s.clock(),
		})
		if err != nil {
			return fmt.Errorf("failed to update solicitacao: %w", err)
		}
		updated = dbSolicitacaoToModel(row)

		descricao := fmt.Sprintf("Status alterado de %s para %s", current.Status, status)
		if setor != nil {
			descricao += "; setor responsável: " + *setor
		}
		return s.appendHistorico(ctx, updated.ID, model.AcaoStatusAtualizado, descricao, updated)
	})
	if err != nil {
		return nil, err
	}

	s.publish(updated, "solicitacao.status_atualizado", nil)
	return updated, nil
}

// loadSolicitacao locks the row for the rest of the transaction and maps a
// missing row to ErrNotFound. Guards such as the single extension rule read
// their state through it.
func (s *RequestService) loadSolicitacao(ctx context.Context, id string) (*model.Solicitacao, error) {
	row, err := s.store.GetSolicitacaoForUpdate(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("solicitacao %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solicitacao: %w", err)
	}
	return dbSolicitacaoToModel(row), nil
}

func (s *RequestService) appendHistorico(ctx context.Context, solicitacaoID string, acao model.Acao, descricao string, snapshot interface{}) error {
	snap, err := marshalSnapshot(snapshot)
	if err != nil {
		return err
	}
	err = s.store.CreateHistorico(ctx, db.CreateHistoricoParams{
		ID:            ulid.Make().String(),
		SolicitacaoID: solicitacaoID,
		Acao:          string(acao),
		Descricao:     descricao,
		Snapshot:      snap,
		UsuarioID:     optionalString(auth.GetUserID(ctx)),
		CreatedAt:     s.clock(),
	})
	if err != nil {
		return fmt.Errorf("failed to append historico: %w", err)
	}
	return nil
}

// notify is the only place notification errors are swallowed.
func (s *RequestService) notify(ctx context.Context, sol *model.Solicitacao, tipo model.NotificacaoTipo, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, model.Notificacao{
		Tipo:      tipo,
		Email:     sol.Email,
		Nome:      sol.Nome,
		Protocolo: sol.Protocolo,
		Payload:   payload,
	})
	if err != nil {
		s.log.Warn("Failed to send notification",
			zap.String("tipo", string(tipo)),
			zap.String("protocolo", sol.Protocolo),
			zap.Error(err),
		)
	}
}

func (s *RequestService) publish(sol *model.Solicitacao, eventType string, extra map[string]interface{}) {
	if s.bus == nil {
		return
	}
	event := map[string]interface{}{
		"type":          eventType,
		"solicitacaoId": sol.ID,
		"protocolo":     sol.Protocolo,
		"status":        string(sol.Status),
	}
	for k, v := range extra {
		event[k] = v
	}
	_ = s.bus.PublishSolicitacao(sol.Protocolo, event)
	_ = s.bus.PublishAdmin(event)
}

func statusPtr(st model.Status) *string {
	v := string(st)
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// formatDate renders the calendar date in the service's zone; rows read
// back from postgres carry the host zone.
func (s *RequestService) formatDate(t time.Time) string {
	return t.In(s.loc).Format("02/01/2006")
}
