package api

import (
	"net/http"
	"strings"

	"esic/internal/model"
	"esic/internal/schema"
	"esic/internal/service"

	"github.com/go-chi/chi/v5"
)

type appealBody struct {
	Instancia model.Instancia `json:"instancia,omitempty"`
	Motivo    string          `json:"motivo"`
	Email     string          `json:"email,omitempty"`
}

func (b appealBody) input() service.FileAppealInput {
	return service.FileAppealInput{Instancia: b.Instancia, Motivo: b.Motivo}
}

// fileCitizenAppeal lets the requester appeal by protocol. The e-mail in the
// body, already checked as an address by the schema, must match the one on
// file ignoring case.
func (d Dependencies) fileCitizenAppeal(w http.ResponseWriter, r *http.Request) {
	var body appealBody
	if err := d.decodeBody(r, schema.RecursoCreate, &body); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if body.Email == "" {
		WriteError(w, http.StatusBadRequest, "validation_failed", "email is required", d.Log)
		return
	}

	sol, err := d.Service.GetRequestByProtocol(r.Context(), chi.URLParam(r, "protocolo"))
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	if sol == nil {
		WriteError(w, http.StatusNotFound, "not_found", "Solicitação não encontrada", d.Log)
		return
	}
	if !strings.EqualFold(body.Email, sol.Email) {
		WriteError(w, http.StatusForbidden, "email_mismatch", "E-mail não confere com o da solicitação", d.Log)
		return
	}

	rec, err := d.Service.FileAppeal(r.Context(), sol.ID, body.input())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (d Dependencies) fileAppeal(w http.ResponseWriter, r *http.Request) {
	var body appealBody
	if err := d.decodeBody(r, schema.RecursoCreate, &body); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	rec, err := d.Service.FileAppeal(r.Context(), chi.URLParam(r, "id"), body.input())
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (d Dependencies) listRecursos(w http.ResponseWriter, r *http.Request) {
	sol, ok := d.requireSolicitacao(w, r)
	if !ok {
		return
	}
	list, err := d.Service.ListAppeals(r.Context(), sol.ID)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (d Dependencies) decideAppeal(w http.ResponseWriter, r *http.Request) {
	var input service.DecideAppealInput
	if err := d.decodeBody(r, schema.RecursoDecide, &input); err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	rec, err := d.Service.DecideAppeal(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeServiceError(w, err, d.Log)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
