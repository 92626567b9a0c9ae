package api

import (
	"context"
	"net/http"

	"esic/internal/auth"
	"esic/internal/model"
	"esic/internal/schema"
	"esic/internal/service"
	"esic/internal/storage"
	"esic/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Service is the lifecycle engine as seen by the HTTP layer.
// *service.RequestService satisfies it.
type Service interface {
	CreateRequest(ctx context.Context, input service.CreateRequestInput) (*model.Solicitacao, error)
	GetRequestByProtocol(ctx context.Context, protocolo string) (*model.Solicitacao, error)
	GetRequestByID(ctx context.Context, id string) (*model.Solicitacao, error)
	ListRequests(ctx context.Context, filter model.SolicitacaoFilter) ([]model.Solicitacao, error)
	ListResponses(ctx context.Context, requestID string) ([]model.Resposta, error)
	ListAppeals(ctx context.Context, requestID string) ([]model.Recurso, error)
	ListHistory(ctx context.Context, requestID string) ([]model.Historico, error)
	Respond(ctx context.Context, requestID string, input service.RespondInput) (*model.Resposta, error)
	ForceSetStatus(ctx context.Context, requestID string, status model.Status, setorResponsavel *string) (*model.Solicitacao, error)
	Transition(ctx context.Context, requestID string, status model.Status, setorResponsavel *string) (*model.Solicitacao, error)
	FileAppeal(ctx context.Context, requestID string, input service.FileAppealInput) (*model.Recurso, error)
	DecideAppeal(ctx context.Context, appealID string, input service.DecideAppealInput) (*model.Recurso, error)
	GetAdminStats(ctx context.Context) (*model.AdminStats, error)
	GetPublicStats(ctx context.Context) (*model.PublicStats, error)
}

// ObjectStore is a storage backend able to verify the URLs it signs.
type ObjectStore interface {
	storage.Storage
	Verify(objectName, op, token string) error
}

type Dependencies struct {
	Service Service
	Hub     *ws.Hub
	Schemas *schema.Compiler
	Storage ObjectStore
	Policy  *storage.FilePolicy
	JWT     *auth.JWTConfig
	Limiter *IPRateLimiter
	Log     *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))
	// Anonymous access is allowed; a bearer token, when present, must be valid.
	r.Use(d.JWT.Middleware)

	// Public portal
	r.Group(func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware(d.Log))
		}
		r.Post("/solicitacoes", d.createSolicitacao)
		r.Post("/consulta/{protocolo}/recursos", d.fileCitizenAppeal)
	})
	r.Get("/consulta/{protocolo}", d.consultar)
	r.Get("/estatisticas", d.publicStats)

	// Signed attachment transfer; the token in the query string is the credential.
	r.Put("/anexos/{key}", d.uploadAnexo)
	r.Get("/anexos/{key}", d.downloadAnexo)

	r.Get("/ws", d.wsHandler)

	// Back office
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Get("/solicitacoes", d.listSolicitacoes)
		r.Get("/solicitacoes/{id}", d.getSolicitacao)
		r.Get("/solicitacoes/{id}/respostas", d.listRespostas)
		r.Post("/solicitacoes/{id}/respostas", d.respond)
		r.Get("/solicitacoes/{id}/recursos", d.listRecursos)
		r.Post("/solicitacoes/{id}/recursos", d.fileAppeal)
		r.Get("/solicitacoes/{id}/historico", d.listHistorico)
		r.Patch("/solicitacoes/{id}/status", d.forceStatus)
		r.Post("/solicitacoes/{id}/transicao", d.transition)
		r.Post("/recursos/{id}/decisao", d.decideAppeal)
		r.Get("/estatisticas", d.adminStats)
		r.Post("/anexos/sign", d.signAnexos)
	})

	return r
}
