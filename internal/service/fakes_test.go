package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"esic/internal/db"
	"esic/internal/model"
	"esic/internal/textutil"

	"go.uber.org/zap"
)

// memStore is an in-memory Store used by the service tests.
type memStore struct {
	mu           sync.Mutex
	solicitacoes map[string]db.Solicitacao
	respostas    []db.Resposta
	recursos     []db.Recurso
	historico    []db.Historico

	failCreateSolicitacao error
	failUpdate            error
	failCreateResposta    error
	calls                 []string
	locked                []string
}

func newMemStore() *memStore {
	return &memStore{solicitacoes: make(map[string]db.Solicitacao)}
}

func (m *memStore) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *memStore) CreateSolicitacao(_ context.Context, p db.CreateSolicitacaoParams) (db.Solicitacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateSolicitacao")
	if m.failCreateSolicitacao != nil {
		return db.Solicitacao{}, m.failCreateSolicitacao
	}
	row := db.Solicitacao{
		ID: p.ID, Protocolo: p.Protocolo, Nome: p.Nome, Email: p.Email,
		Telefone: p.Telefone, Documento: p.Documento, Assunto: p.Assunto, Descricao: p.Descricao,
		FormaRecebimento: p.FormaRecebimento, DataSolicitacao: p.DataSolicitacao, DataLimite: p.DataLimite,
		Status: p.Status, Prioridade: p.Prioridade, UpdatedAt: p.DataSolicitacao,
	}
	m.solicitacoes[p.ID] = row
	return row, nil
}

func (m *memStore) GetSolicitacaoByID(_ context.Context, id string) (db.Solicitacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.solicitacoes[id]
	if !ok {
		return db.Solicitacao{}, fmt.Errorf("solicitacao %s: %w", id, db.ErrNotFound)
	}
	return row, nil
}

func (m *memStore) GetSolicitacaoForUpdate(ctx context.Context, id string) (db.Solicitacao, error) {
	m.mu.Lock()
	m.locked = append(m.locked, id)
	m.mu.Unlock()
	return m.GetSolicitacaoByID(ctx, id)
}

func (m *memStore) GetSolicitacaoByProtocolo(_ context.Context, protocolo string) (db.Solicitacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	protocolo = textutil.NormalizeProtocolo(protocolo)
	for _, row := range m.solicitacoes {
		if strings.ToUpper(row.Protocolo) == protocolo {
			return row, nil
		}
	}
	return db.Solicitacao{}, fmt.Errorf("solicitacao %s: %w", protocolo, db.ErrNotFound)
}

func (m *memStore) UpdateSolicitacao(_ context.Context, id string, p db.UpdateSolicitacaoParams) (db.Solicitacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateSolicitacao")
	if m.failUpdate != nil {
		return db.Solicitacao{}, m.failUpdate
	}
	row, ok := m.solicitacoes[id]
	if !ok {
		return db.Solicitacao{}, fmt.Errorf("solicitacao %s: %w", id, db.ErrNotFound)
	}
	if p.Status != nil {
		row.Status = *p.Status
	}
	if p.DataLimite != nil {
		row.DataLimite = *p.DataLimite
	}
	if p.DataProrrogacao != nil {
		row.DataProrrogacao = p.DataProrrogacao
	}
	if p.DataResposta != nil {
		row.DataResposta = p.DataResposta
	}
	if p.SetorResponsavel != nil {
		row.SetorResponsavel = p.SetorResponsavel
	}
	if p.ResponsavelID != nil {
		row.ResponsavelID = p.ResponsavelID
	}
	row.UpdatedAt = p.UpdatedAt
	m.solicitacoes[id] = row
	return row, nil
}

func (m *memStore) ListSolicitacoes(_ context.Context, p db.ListSolicitacoesParams) ([]db.Solicitacao, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]db.Solicitacao, 0)
	for _, row := range m.solicitacoes {
		if p.Status != "" && row.Status != p.Status {
			continue
		}
		result = append(result, row)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DataSolicitacao.After(result[j].DataSolicitacao)
	})
	return result, nil
}

func (m *memStore) CreateResposta(_ context.Context, p db.CreateRespostaParams) (db.Resposta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateResposta")
	if m.failCreateResposta != nil {
		return db.Resposta{}, m.failCreateResposta
	}
	row := db.Resposta(p)
	m.respostas = append(m.respostas, row)
	return row, nil
}

func (m *memStore) ListRespostas(_ context.Context, solicitacaoID string) ([]db.Resposta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]db.Resposta, 0)
	for _, r := range m.respostas {
		if r.SolicitacaoID == solicitacaoID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memStore) CreateRecurso(_ context.Context, p db.CreateRecursoParams) (db.Recurso, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateRecurso")
	row := db.Recurso{
		ID: p.ID, SolicitacaoID: p.SolicitacaoID, Instancia: p.Instancia, Motivo: p.Motivo,
		DataRecurso: p.DataRecurso, DataLimite: p.DataLimite,
	}
	m.recursos = append(m.recursos, row)
	return row, nil
}

func (m *memStore) GetRecursoByID(_ context.Context, id string) (db.Recurso, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recursos {
		if r.ID == id {
			return r, nil
		}
	}
	return db.Recurso{}, fmt.Errorf("recurso %s: %w", id, db.ErrNotFound)
}

func (m *memStore) ListRecursos(_ context.Context, solicitacaoID string) ([]db.Recurso, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]db.Recurso, 0)
	for _, r := range m.recursos {
		if r.SolicitacaoID == solicitacaoID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *memStore) DecideRecurso(_ context.Context, id string, p db.DecideRecursoParams) (db.Recurso, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DecideRecurso")
	for i, r := range m.recursos {
		if r.ID == id {
			decidedAt := p.DataDecisao
			decididoPor := p.DecididoPor
			decisao := p.Decisao
			r.Decisao = &decisao
			r.Fundamentacao = p.Fundamentacao
			r.DecididoPor = &decididoPor
			r.DataDecisao = &decidedAt
			m.recursos[i] = r
			return r, nil
		}
	}
	return db.Recurso{}, fmt.Errorf("recurso %s: %w", id, db.ErrNotFound)
}

func (m *memStore) CreateHistorico(_ context.Context, p db.CreateHistoricoParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateHistorico:" + p.Acao)
	m.historico = append(m.historico, db.Historico(p))
	return nil
}

func (m *memStore) ListHistorico(_ context.Context, solicitacaoID string) ([]db.Historico, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]db.Historico, 0)
	for _, h := range m.historico {
		if h.SolicitacaoID == solicitacaoID {
			result = append(result, h)
		}
	}
	return result, nil
}

type seqAllocator struct {
	n   int
	err error
}

func (a *seqAllocator) Next(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.n++
	return fmt.Sprintf("ESIC-2025-%06d", a.n), nil
}

type recordingNotifier struct {
	sent []model.Notificacao
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, notificacao model.Notificacao) error {
	n.sent = append(n.sent, notificacao)
	return n.err
}

// MockEventBus implements EventBus for testing
type MockEventBus struct {
	channels []string
	events   []map[string]interface{}
}

func (m *MockEventBus) PublishSolicitacao(protocolo string, event map[string]interface{}) error {
	m.channels = append(m.channels, "solicitacao:"+protocolo)
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventBus) PublishAdmin(event map[string]interface{}) error {
	m.channels = append(m.channels, "admin:solicitacoes")
	m.events = append(m.events, event)
	return errors.New("admin channel down")
}

type countingTx struct {
	runs int
}

func (c *countingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.runs++
	return fn(ctx)
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	svc      *RequestService
	store    *memStore
	alloc    *seqAllocator
	notifier *recordingNotifier
	bus      *MockEventBus
	clock    *clock
}

func newFixture(start time.Time) *fixture {
	f := &fixture{
		store:    newMemStore(),
		alloc:    &seqAllocator{},
		notifier: &recordingNotifier{},
		bus:      &MockEventBus{},
		clock:    &clock{now: start},
	}
	f.svc = NewRequestService(f.store, f.alloc, f.notifier, f.bus, zap.NewNop())
	f.svc.SetClock(f.clock.Now)
	f.svc.SetLocation(brasilia)
	return f
}
