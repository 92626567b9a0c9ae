package service

import (
	"encoding/json"
	"fmt"

	"esic/internal/db"
	"esic/internal/model"
)

func dbSolicitacaoToModel(r db.Solicitacao) *model.Solicitacao {
	return &model.Solicitacao{
		ID:               r.ID,
		Protocolo:        r.Protocolo,
		Nome:             r.Nome,
		Email:            r.Email,
		Telefone:         r.Telefone,
		Documento:        r.Documento,
		Assunto:          r.Assunto,
		Descricao:        r.Descricao,
		FormaRecebimento: r.FormaRecebimento,
		DataSolicitacao:  r.DataSolicitacao,
		DataLimite:       r.DataLimite,
		DataProrrogacao:  r.DataProrrogacao,
		DataResposta:     r.DataResposta,
		Status:           model.Status(r.Status),
		Prioridade:       r.Prioridade,
		SetorResponsavel: r.SetorResponsavel,
		ResponsavelID:    r.ResponsavelID,
		UpdatedAt:        r.UpdatedAt,
	}
}

func dbRespostaToModel(r db.Resposta) *model.Resposta {
	var anexos []model.Anexo
	if len(r.Anexos) > 0 {
		// Rows written by this service always hold a JSON array.
		_ = json.Unmarshal(r.Anexos, &anexos)
	}
	return &model.Resposta{
		ID:                 r.ID,
		SolicitacaoID:      r.SolicitacaoID,
		Tipo:               model.TipoResposta(r.Tipo),
		Conteudo:           r.Conteudo,
		FundamentacaoLegal: r.FundamentacaoLegal,
		Anexos:             anexos,
		RespondidoPor:      r.RespondidoPor,
		DataResposta:       r.DataResposta,
	}
}

func dbRecursoToModel(r db.Recurso) *model.Recurso {
	return &model.Recurso{
		ID:            r.ID,
		SolicitacaoID: r.SolicitacaoID,
		Instancia:     model.Instancia(r.Instancia),
		Motivo:        r.Motivo,
		DataRecurso:   r.DataRecurso,
		DataLimite:    r.DataLimite,
		Decisao:       r.Decisao,
		Fundamentacao: r.Fundamentacao,
		DecididoPor:   r.DecididoPor,
		DataDecisao:   r.DataDecisao,
	}
}

func dbHistoricoToModel(h db.Historico) model.Historico {
	var snapshot map[string]interface{}
	if len(h.Snapshot) > 0 {
		_ = json.Unmarshal(h.Snapshot, &snapshot)
	}
	return model.Historico{
		ID:            h.ID,
		SolicitacaoID: h.SolicitacaoID,
		Acao:          model.Acao(h.Acao),
		Descricao:     h.Descricao,
		Snapshot:      snapshot,
		UsuarioID:     h.UsuarioID,
		CreatedAt:     h.CreatedAt,
	}
}

func marshalAnexos(anexos []model.Anexo) ([]byte, error) {
	if anexos == nil {
		anexos = []model.Anexo{}
	}
	data, err := json.Marshal(anexos)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anexos: %w", err)
	}
	return data, nil
}

func marshalSnapshot(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}
