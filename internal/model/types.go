package model

import "time"

// Status represents solicitação status
type Status string

const (
	StatusPendente    Status = "pendente"
	StatusEmAndamento Status = "em_andamento"
	StatusRespondida  Status = "respondida"
	StatusProrrogada  Status = "prorrogada"
	StatusRecurso     Status = "recurso"
	StatusArquivada   Status = "arquivada"
	StatusCancelada   Status = "cancelada"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusPendente,
	StatusEmAndamento,
	StatusRespondida,
	StatusProrrogada,
	StatusRecurso,
	StatusArquivada,
	StatusCancelada,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether a citizen-facing request is closed.
func (s Status) Terminal() bool {
	return s == StatusRespondida || s == StatusArquivada || s == StatusCancelada
}

// TipoResposta represents the kind of answer given to a solicitação
type TipoResposta string

const (
	TipoDeferido        TipoResposta = "deferido"
	TipoDeferidoParcial TipoResposta = "deferido_parcial"
	TipoIndeferido      TipoResposta = "indeferido"
	TipoNaoPossui       TipoResposta = "nao_possui"
	TipoEncaminhado     TipoResposta = "encaminhado"
	TipoProrrogacao     TipoResposta = "prorrogacao"
)

var tipoRespostaLabels = map[TipoResposta]string{
	TipoDeferido:        "Deferido",
	TipoDeferidoParcial: "Deferido parcialmente",
	TipoIndeferido:      "Indeferido",
	TipoNaoPossui:       "Não possui a informação",
	TipoEncaminhado:     "Encaminhado",
	TipoProrrogacao:     "Prorrogação de prazo",
}

// Valid reports whether t is a known response type.
func (t TipoResposta) Valid() bool {
	_, ok := tipoRespostaLabels[t]
	return ok
}

// Label returns the human readable name used in notifications.
func (t TipoResposta) Label() string {
	if l, ok := tipoRespostaLabels[t]; ok {
		return l
	}
	return string(t)
}

// Instancia is the escalation tier of an appeal
type Instancia string

const (
	InstanciaPrimeira Instancia = "primeira"
	InstanciaSegunda  Instancia = "segunda"
	InstanciaTerceira Instancia = "terceira"
)

var instancias = []Instancia{InstanciaPrimeira, InstanciaSegunda, InstanciaTerceira}

// Ordinal returns 1..3 for known instances and 0 otherwise.
func (i Instancia) Ordinal() int {
	for n, known := range instancias {
		if i == known {
			return n + 1
		}
	}
	return 0
}

// Valid reports whether i is a known instance.
func (i Instancia) Valid() bool {
	return i.Ordinal() > 0
}

// InstanciaFromOrdinal is the inverse of Ordinal. ok is false outside 1..3.
func InstanciaFromOrdinal(n int) (Instancia, bool) {
	if n < 1 || n > len(instancias) {
		return "", false
	}
	return instancias[n-1], true
}

// Acao tags a Historico row
type Acao string

const (
	AcaoCriado           Acao = "criado"
	AcaoRespondido       Acao = "respondido"
	AcaoProrrogado       Acao = "prorrogado"
	AcaoStatusAtualizado Acao = "status_atualizado"
	AcaoRecursoCriado    Acao = "recurso_criado"
	AcaoRecursoDecidido  Acao = "recurso_decidido"
)

// NotificacaoTipo selects the e-mail template sent to the requester
type NotificacaoTipo string

const (
	NotificacaoNovaSolicitacao NotificacaoTipo = "nova_solicitacao"
	NotificacaoResposta        NotificacaoTipo = "resposta"
	NotificacaoProrrogacao     NotificacaoTipo = "prorrogacao"
	NotificacaoRecurso         NotificacaoTipo = "recurso"
)

const (
	FormaRecebimentoEmail = "email"
	PrioridadeNormal      = "normal"
)

// Solicitacao is one citizen information request
type Solicitacao struct {
	ID               string     `json:"id"`
	Protocolo        string     `json:"protocolo"`
	Nome             string     `json:"nome"`
	Email            string     `json:"email"`
	Telefone         *string    `json:"telefone,omitempty"`
	Documento        *string    `json:"documento,omitempty"`
	Assunto          string     `json:"assunto"`
	Descricao        string     `json:"descricao"`
	FormaRecebimento string     `json:"formaRecebimento"`
	DataSolicitacao  time.Time  `json:"dataSolicitacao"`
	DataLimite       time.Time  `json:"dataLimite"`
	DataProrrogacao  *time.Time `json:"dataProrrogacao,omitempty"`
	DataResposta     *time.Time `json:"dataResposta,omitempty"`
	Status           Status     `json:"status"`
	Prioridade       string     `json:"prioridade"`
	SetorResponsavel *string    `json:"setorResponsavel,omitempty"`
	ResponsavelID    *string    `json:"responsavelId,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Anexo is the metadata of a file attached to a response
type Anexo struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	MIME   string `json:"mime"`
	SHA256 string `json:"sha256,omitempty"`
}

// Resposta is an answer (or extension notice) recorded for a solicitação
type Resposta struct {
	ID                 string       `json:"id"`
	SolicitacaoID      string       `json:"solicitacaoId"`
	Tipo               TipoResposta `json:"tipo"`
	Conteudo           string       `json:"conteudo"`
	FundamentacaoLegal *string      `json:"fundamentacaoLegal,omitempty"`
	Anexos             []Anexo      `json:"anexos,omitempty"`
	RespondidoPor      *string      `json:"respondidoPor,omitempty"`
	DataResposta       time.Time    `json:"dataResposta"`
}

// Recurso is an appeal filed against a response or its absence
type Recurso struct {
	ID            string     `json:"id"`
	SolicitacaoID string     `json:"solicitacaoId"`
	Instancia     Instancia  `json:"instancia"`
	Motivo        string     `json:"motivo"`
	DataRecurso   time.Time  `json:"dataRecurso"`
	DataLimite    time.Time  `json:"dataLimite"`
	Decisao       *string    `json:"decisao,omitempty"`
	Fundamentacao *string    `json:"fundamentacao,omitempty"`
	DecididoPor   *string    `json:"decididoPor,omitempty"`
	DataDecisao   *time.Time `json:"dataDecisao,omitempty"`
}

// Historico is one append-only audit row
type Historico struct {
	ID            string                 `json:"id"`
	SolicitacaoID string                 `json:"solicitacaoId"`
	Acao          Acao                   `json:"acao"`
	Descricao     string                 `json:"descricao"`
	Snapshot      map[string]interface{} `json:"snapshot,omitempty"`
	UsuarioID     *string                `json:"usuarioId,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// SolicitacaoFilter narrows ListRequests. Zero values mean "no filter".
type SolicitacaoFilter struct {
	Status   Status
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
}

// Notificacao is what the lifecycle engine hands to the notification channel
type Notificacao struct {
	Tipo      NotificacaoTipo        `json:"tipo"`
	Email     string                 `json:"email"`
	Nome      string                 `json:"nome"`
	Protocolo string                 `json:"protocolo"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// AdminStats is the back-office dashboard summary
type AdminStats struct {
	Total           int            `json:"total"`
	PorStatus       map[Status]int `json:"porStatus"`
	TempoMedioDias  int            `json:"tempoMedioDias"`
	ProximasDoPrazo int            `json:"proximasDoPrazo"`
	Respondidas     int            `json:"respondidas"`
	TaxaResposta    int            `json:"taxaResposta"`
}

// PublicStats is the transparency summary shown on the public portal
type PublicStats struct {
	Total        int `json:"total"`
	Respondidas  int `json:"respondidas"`
	EmAndamento  int `json:"emAndamento"`
	TaxaResposta int `json:"taxaResposta"`
}

// PublicSolicitacao is what anonymous consultations may see; requester
// contact data stays private.
type PublicSolicitacao struct {
	Protocolo       string     `json:"protocolo"`
	Assunto         string     `json:"assunto"`
	Descricao       string     `json:"descricao"`
	Status          Status     `json:"status"`
	DataSolicitacao time.Time  `json:"dataSolicitacao"`
	DataLimite      time.Time  `json:"dataLimite"`
	DataProrrogacao *time.Time `json:"dataProrrogacao,omitempty"`
	DataResposta    *time.Time `json:"dataResposta,omitempty"`
}

func (s Solicitacao) Public() PublicSolicitacao {
	return PublicSolicitacao{
		Protocolo:       s.Protocolo,
		Assunto:         s.Assunto,
		Descricao:       s.Descricao,
		Status:          s.Status,
		DataSolicitacao: s.DataSolicitacao,
		DataLimite:      s.DataLimite,
		DataProrrogacao: s.DataProrrogacao,
		DataResposta:    s.DataResposta,
	}
}

// Public drops the id of the staff member who answered.
func (r Resposta) Public() Resposta {
	r.RespondidoPor = nil
	return r
}

// Public drops the id of the staff member who decided the appeal.
func (r Recurso) Public() Recurso {
	r.DecididoPor = nil
	return r
}

// PublicRespostas applies Resposta.Public to every element.
func PublicRespostas(rs []Resposta) []Resposta {
	out := make([]Resposta, len(rs))
	for i, r := range rs {
		out[i] = r.Public()
	}
	return out
}

// PublicRecursos applies Recurso.Public to every element.
func PublicRecursos(rs []Recurso) []Recurso {
	out := make([]Recurso, len(rs))
	for i, r := range rs {
		out[i] = r.Public()
	}
	return out
}
