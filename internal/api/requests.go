package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"esic/internal/model"
	"esic/internal/schema"
	"esic/internal/service"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func (d Dependencies) decodeBody(r *http.Request, name string, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: failed to read body", service.ErrValidation)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body too large", service.ErrValidation)
	}
	return d.Schemas.Decode(r.Context(), name, body, v)
}

func (d Dependencies) createSolicitacao(w http.ResponseWriter, r *http.Request) {
	var input service.CreateRequestInput
	if err := d.decodeBody(r, schema.SolicitacaoCreate, &input); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	sol, err := d.Service.CreateRequest(r.Context(), input)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         sol.ID,
		"protocolo":  sol.Protocolo,
		"status":     sol.Status,
		"dataLimite": sol.DataLimite,
	})
}

func (d Dependencies) consultar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sol, err := d.Service.GetRequestByProtocol(ctx, chi.URLParam(r, "protocolo"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if sol == nil {
		WriteError(w, http.StatusNotFound, "not_found", "Solicitação não encontrada", d.Log)
		return
	}

	respostas, err := d.Service.ListResponses(ctx, sol.ID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	recursos, err := d.Service.ListAppeals(ctx, sol.ID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"solicitacao": sol.Public(),
		"respostas":   model.PublicRespostas(respostas),
		"recursos":    model.PublicRecursos(recursos),
	})
}

func (d Dependencies) publicStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Service.GetPublicStats(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d Dependencies) listSolicitacoes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SolicitacaoFilter{
		Status: model.Status(q.Get("status")),
		Search: q.Get("search"),
	}
	var err error
	if filter.DateFrom, err = parseDateParam(q.Get("dateFrom"), false); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_date", "dateFrom: "+err.Error(), d.Log)
		return
	}
	if filter.DateTo, err = parseDateParam(q.Get("dateTo"), true); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_date", "dateTo: "+err.Error(), d.Log)
		return
	}

	list, err := d.Service.ListRequests(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": list,
		"total": len(list),
	})
}

// parseDateParam accepts RFC 3339 or a bare date. A bare upper bound covers
// the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// requireSolicitacao loads {id} or writes a 404.
func (d Dependencies) requireSolicitacao(w http.ResponseWriter, r *http.Request) (*model.Solicitacao, bool) {
	sol, err := d.Service.GetRequestByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return nil, false
	}
	if sol == nil {
		WriteError(w, http.StatusNotFound, "not_found", "Solicitação não encontrada", d.Log)
		return nil, false
	}
	return sol, true
}

func (d Dependencies) getSolicitacao(w http.ResponseWriter, r *http.Request) {
	sol, ok := d.requireSolicitacao(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

func (d Dependencies) listRespostas(w http.ResponseWriter, r *http.Request) {
	sol, ok := d.requireSolicitacao(w, r)
	if !ok {
		return
	}
	list, err := d.Service.ListResponses(r.Context(), sol.ID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (d Dependencies) listHistorico(w http.ResponseWriter, r *http.Request) {
	sol, ok := d.requireSolicitacao(w, r)
	if !ok {
		return
	}
	list, err := d.Service.ListHistory(r.Context(), sol.ID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (d Dependencies) respond(w http.ResponseWriter, r *http.Request) {
	var input service.RespondInput
	if err := d.decodeBody(r, schema.RespostaCreate, &input); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if err := validateAnexos(input.Anexos, d.Policy); err != nil {
		WriteError(w, http.StatusBadRequest, "policy_violation", err.Error(), d.Log)
		return
	}

	resp, err := d.Service.Respond(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type statusBody struct {
	Status           model.Status `json:"status"`
	SetorResponsavel *string      `json:"setorResponsavel,omitempty"`
}

func (d Dependencies) forceStatus(w http.ResponseWriter, r *http.Request) {
	d.changeStatus(w, r, d.Service.ForceSetStatus)
}

func (d Dependencies) transition(w http.ResponseWriter, r *http.Request) {
	d.changeStatus(w, r, d.Service.Transition)
}

type statusFunc func(ctx context.Context, requestID string, status model.Status, setor *string) (*model.Solicitacao, error)

func (d Dependencies) changeStatus(w http.ResponseWriter, r *http.Request, apply statusFunc) {
	var body statusBody
	if err := d.decodeBody(r, schema.StatusUpdate, &body); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	sol, err := apply(r.Context(), chi.URLParam(r, "id"), body.Status, body.SetorResponsavel)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

func (d Dependencies) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Service.GetAdminStats(r.Context())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
