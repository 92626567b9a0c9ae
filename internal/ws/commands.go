package ws

import (
	"context"
	"encoding/json"

	"esic/internal/auth"
	"esic/internal/model"
	"esic/internal/pubsub"

	"go.uber.org/zap"
)

// Lookup is the read side of the lifecycle engine used by websocket clients.
type Lookup interface {
	GetRequestByProtocol(ctx context.Context, protocolo string) (*model.Solicitacao, error)
	ListResponses(ctx context.Context, requestID string) ([]model.Resposta, error)
	ListAppeals(ctx context.Context, requestID string) ([]model.Recurso, error)
	GetPublicStats(ctx context.Context) (*model.PublicStats, error)
}

// CommandHandler answers the read-only commands consultar and estatisticas.
type CommandHandler struct {
	lookup Lookup
	log    *zap.Logger
}

func NewCommandHandler(lookup Lookup, log *zap.Logger) *CommandHandler {
	return &CommandHandler{lookup: lookup, log: log}
}

type consultarArgs struct {
	Protocolo string `json:"protocolo"`
	Follow    bool   `json:"follow"`
}

func (h *CommandHandler) Handle(ctx context.Context, conn *Conn, msg inbound) {
	switch msg.Op {
	case "consultar":
		var args consultarArgs
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &args); err != nil {
				conn.send(errorFrame(msg.ID, "invalid_input", "malformed data"))
				return
			}
		}
		h.consultar(ctx, conn, msg.ID, args)
	case "estatisticas":
		stats, err := h.lookup.GetPublicStats(ctx)
		if err != nil {
			h.log.Error("Failed to compute estatisticas", zap.Error(err))
			conn.send(errorFrame(msg.ID, "internal_error", "failed to compute estatisticas"))
			return
		}
		conn.send(outbound{Type: frameResult, ID: msg.ID, Result: stats})
	default:
		conn.send(errorFrame(msg.ID, "unknown_command", "unknown command: "+msg.Op))
	}
}

// consultar returns a request with its responses and appeals. Only admins
// see requester contact data. With follow set the connection also joins
// the protocol channel.
func (h *CommandHandler) consultar(ctx context.Context, conn *Conn, id string, args consultarArgs) {
	if args.Protocolo == "" {
		conn.send(errorFrame(id, "invalid_input", "protocolo required"))
		return
	}

	sol, err := h.lookup.GetRequestByProtocol(ctx, args.Protocolo)
	if err != nil {
		h.log.Error("Failed to look up solicitacao", zap.String("protocolo", args.Protocolo), zap.Error(err))
		conn.send(errorFrame(id, "internal_error", "failed to look up solicitacao"))
		return
	}
	if sol == nil {
		conn.send(errorFrame(id, "not_found", "Solicitação não encontrada"))
		return
	}

	respostas, err := h.lookup.ListResponses(ctx, sol.ID)
	if err != nil {
		h.log.Error("Failed to list respostas", zap.String("id", sol.ID), zap.Error(err))
		conn.send(errorFrame(id, "internal_error", "failed to list respostas"))
		return
	}
	recursos, err := h.lookup.ListAppeals(ctx, sol.ID)
	if err != nil {
		h.log.Error("Failed to list recursos", zap.String("id", sol.ID), zap.Error(err))
		conn.send(errorFrame(id, "internal_error", "failed to list recursos"))
		return
	}

	if args.Follow {
		conn.hub.Subscribe(conn, pubsub.SolicitacaoChannel(sol.Protocolo))
	}

	result := map[string]interface{}{
		"solicitacao": sol.Public(),
		"respostas":   model.PublicRespostas(respostas),
		"recursos":    model.PublicRecursos(recursos),
	}
	if conn.role == auth.RoleAdmin {
		result = map[string]interface{}{
			"solicitacao": sol,
			"respostas":   respostas,
			"recursos":    recursos,
		}
	}
	conn.send(outbound{Type: frameResult, ID: id, Result: result})
}
