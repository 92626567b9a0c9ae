package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"esic/internal/auth"
	"esic/internal/model"
	"esic/internal/schema"
	"esic/internal/service"
	"esic/internal/storage"
	"esic/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "api-test-secret-api-test-secret-0123"

type stubService struct {
	sol       *model.Solicitacao
	created   []service.CreateRequestInput
	appeals   []service.FileAppealInput
	responded []service.RespondInput
	filter    model.SolicitacaoFilter
	statusErr error
	decidedBy string
}

func (s *stubService) CreateRequest(_ context.Context, in service.CreateRequestInput) (*model.Solicitacao, error) {
	if strings.TrimSpace(in.Nome) == "" {
		return nil, fmt.Errorf("%w: nome", service.ErrValidation)
	}
	s.created = append(s.created, in)
	return &model.Solicitacao{ID: "01NEW", Protocolo: "ESIC-2025-000042", Status: model.StatusPendente}, nil
}

func (s *stubService) GetRequestByProtocol(_ context.Context, p string) (*model.Solicitacao, error) {
	if s.sol != nil && strings.EqualFold(strings.TrimSpace(p), s.sol.Protocolo) {
		return s.sol, nil
	}
	return nil, nil
}

func (s *stubService) GetRequestByID(_ context.Context, id string) (*model.Solicitacao, error) {
	if s.sol != nil && s.sol.ID == id {
		return s.sol, nil
	}
	return nil, nil
}

func (s *stubService) ListRequests(_ context.Context, f model.SolicitacaoFilter) ([]model.Solicitacao, error) {
	s.filter = f
	if s.sol == nil {
		return []model.Solicitacao{}, nil
	}
	return []model.Solicitacao{*s.sol}, nil
}

func (s *stubService) ListResponses(context.Context, string) ([]model.Resposta, error) {
	staff := "01STAFF"
	return []model.Resposta{{ID: "01RESP", Tipo: model.TipoDeferido, Conteudo: "Segue", RespondidoPor: &staff}}, nil
}

func (s *stubService) ListAppeals(context.Context, string) ([]model.Recurso, error) {
	staff := "01CHEFE"
	return []model.Recurso{{ID: "01REC", Motivo: "Incompleta", DecididoPor: &staff}}, nil
}

func (s *stubService) ListHistory(context.Context, string) ([]model.Historico, error) {
	return []model.Historico{}, nil
}

func (s *stubService) Respond(_ context.Context, id string, in service.RespondInput) (*model.Resposta, error) {
	s.responded = append(s.responded, in)
	return &model.Resposta{ID: "01RESP", SolicitacaoID: id, Tipo: in.Tipo, Conteudo: in.Conteudo}, nil
}

func (s *stubService) ForceSetStatus(_ context.Context, id string, st model.Status, _ *string) (*model.Solicitacao, error) {
	return &model.Solicitacao{ID: id, Status: st}, nil
}

func (s *stubService) Transition(_ context.Context, id string, st model.Status, _ *string) (*model.Solicitacao, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return &model.Solicitacao{ID: id, Status: st}, nil
}

func (s *stubService) FileAppeal(_ context.Context, id string, in service.FileAppealInput) (*model.Recurso, error) {
	s.appeals = append(s.appeals, in)
	return &model.Recurso{ID: "01REC", SolicitacaoID: id, Instancia: model.InstanciaPrimeira, Motivo: in.Motivo}, nil
}

func (s *stubService) DecideAppeal(ctx context.Context, id string, in service.DecideAppealInput) (*model.Recurso, error) {
	if id != "01REC" {
		return nil, fmt.Errorf("recurso %s: %w", id, service.ErrNotFound)
	}
	s.decidedBy = auth.GetUserID(ctx)
	return &model.Recurso{ID: id, Decisao: &in.Decisao}, nil
}

func (s *stubService) GetAdminStats(context.Context) (*model.AdminStats, error) {
	return &model.AdminStats{Total: 3}, nil
}

func (s *stubService) GetPublicStats(context.Context) (*model.PublicStats, error) {
	return &model.PublicStats{Total: 3, Respondidas: 1, TaxaResposta: 33}, nil
}

type testEnv struct {
	srv *httptest.Server
	svc *stubService
	jwt *auth.JWTConfig
	hub *ws.Hub
}

func newTestEnv(t *testing.T, limiter *IPRateLimiter) *testEnv {
	t.Helper()
	compiler, err := schema.NewCompilerWithCache(16)
	require.NoError(t, err)

	svc := &stubService{sol: &model.Solicitacao{
		ID: "01SOL", Protocolo: "ESIC-2025-000001", Nome: "Ana", Email: "Ana@Example.org",
		Assunto: "Contratos", Descricao: "Lista de contratos", Status: model.StatusRespondida,
	}}
	jwtCfg := auth.NewJWTConfig(testSecret, "esic")

	hub := ws.NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	env := &testEnv{svc: svc, jwt: jwtCfg, hub: hub}
	var handler http.Handler
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(env.srv.Close)

	store, err := storage.NewLocalStorage(t.TempDir(), env.srv.URL, testSecret)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", Routes(Dependencies{
		Service: svc,
		Hub:     hub,
		Schemas: compiler,
		Storage: store,
		Policy:  storage.NewFilePolicy(1, 2, []string{"application/pdf", "text/plain"}, []string{".pdf", ".txt"}),
		JWT:     jwtCfg,
		Limiter: limiter,
		Log:     zap.NewNop(),
	})))
	handler = mux
	return env
}

func (e *testEnv) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := e.jwt.IssueToken("staff-1", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestCreateSolicitacao(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/v1/solicitacoes", "", map[string]interface{}{
		"nome": "Ana", "email": "ana@example.org", "assunto": "Contratos", "descricao": "Lista",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ESIC-2025-000042", body["protocolo"])
	require.Len(t, env.svc.created, 1)
	assert.Equal(t, "ana@example.org", env.svc.created[0].Email)
}

func TestCreateSolicitacao_SchemaViolation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/v1/solicitacoes", "", map[string]interface{}{
		"nome": "Ana", "email": "not-an-email", "assunto": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["code"])
	assert.NotEmpty(t, body["fields"])
	assert.Empty(t, env.svc.created)
}

func TestCreateSolicitacao_RateLimited(t *testing.T) {
	env := newTestEnv(t, NewIPRateLimiter(0.001, 1))
	payload := map[string]interface{}{"nome": "Ana", "email": "ana@example.org", "assunto": "a", "descricao": "b"}

	resp, _ := env.do(t, http.MethodPost, "/v1/solicitacoes", "", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/solicitacoes", "", payload)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", body["code"])
}

func TestConsulta(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/v1/consulta/esic-2025-000001", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sol := body["solicitacao"].(map[string]interface{})
	assert.Equal(t, "ESIC-2025-000001", sol["protocolo"])
	assert.NotContains(t, sol, "email")
	assert.NotContains(t, sol, "nome")

	respostas := body["respostas"].([]interface{})
	require.Len(t, respostas, 1)
	assert.Equal(t, "Segue", respostas[0].(map[string]interface{})["conteudo"])
	assert.NotContains(t, respostas[0], "respondidoPor")
	recursos := body["recursos"].([]interface{})
	require.Len(t, recursos, 1)
	assert.NotContains(t, recursos[0], "decididoPor")

	resp, _ = env.do(t, http.MethodGet, "/v1/consulta/ESIC-2025-999999", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCitizenAppeal(t *testing.T) {
	env := newTestEnv(t, nil)
	path := "/v1/consulta/ESIC-2025-000001/recursos"

	resp, _ := env.do(t, http.MethodPost, path, "", map[string]interface{}{"motivo": "Resposta incompleta"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, path, "", map[string]interface{}{
		"motivo": "Resposta incompleta", "email": "outra@example.org",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "email_mismatch", body["code"])
	assert.Empty(t, env.svc.appeals)

	resp, body = env.do(t, http.MethodPost, path, "", map[string]interface{}{
		"motivo": "Resposta incompleta", "email": " ana@example.org ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", body["code"])
	assert.Empty(t, env.svc.appeals)

	resp, body = env.do(t, http.MethodPost, path, "", map[string]interface{}{
		"motivo": "Resposta incompleta", "email": "ANA@example.ORG",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "01REC", body["id"])
	require.Len(t, env.svc.appeals, 1)
	assert.Equal(t, model.Instancia(""), env.svc.appeals[0].Instancia)

	resp, _ = env.do(t, http.MethodPost, "/v1/consulta/ESIC-2025-999999/recursos", "", map[string]interface{}{
		"motivo": "x", "email": "ana@example.org",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicStats(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/v1/estatisticas", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 33, body["taxaResposta"])
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/v1/admin/solicitacoes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/admin/solicitacoes", env.token(t, "citizen"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/admin/solicitacoes", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmin_ListSolicitacoes(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet,
		"/v1/admin/solicitacoes?status=respondida&search=contrato&dateFrom=2025-01-01&dateTo=2025-01-31",
		env.token(t, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	f := env.svc.filter
	assert.Equal(t, model.StatusRespondida, f.Status)
	assert.Equal(t, "contrato", f.Search)
	require.NotNil(t, f.DateFrom)
	require.NotNil(t, f.DateTo)
	assert.Equal(t, time.Date(2025, 1, 31, 23, 59, 59, 999999999, time.UTC), *f.DateTo)

	resp, _ = env.do(t, http.MethodGet, "/v1/admin/solicitacoes?dateFrom=31/01/2025", env.token(t, auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_GetSolicitacao(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, auth.RoleAdmin)

	resp, body := env.do(t, http.MethodGet, "/v1/admin/solicitacoes/01SOL", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ana@Example.org", body["email"])

	for _, sub := range []string{"", "/respostas", "/recursos", "/historico"} {
		resp, _ = env.do(t, http.MethodGet, "/v1/admin/solicitacoes/missing"+sub, tok, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, sub)
	}
}

func TestAdmin_Respond(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, auth.RoleAdmin)

	resp, _ := env.do(t, http.MethodPost, "/v1/admin/solicitacoes/01SOL/respostas", tok, map[string]interface{}{
		"tipo": "deferido", "conteudo": "Segue a lista",
		"anexos": []map[string]interface{}{{"name": "lista.pdf", "url": "http://x/lista.pdf", "size": 100, "mime": "application/pdf"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, env.svc.responded, 1)
	assert.Equal(t, model.TipoDeferido, env.svc.responded[0].Tipo)

	resp, body := env.do(t, http.MethodPost, "/v1/admin/solicitacoes/01SOL/respostas", tok, map[string]interface{}{
		"tipo": "deferido", "conteudo": "Segue",
		"anexos": []map[string]interface{}{{"name": "virus.exe", "url": "http://x/virus.exe", "size": 100, "mime": "application/x-msdownload"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "policy_violation", body["code"])

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/solicitacoes/01SOL/respostas", tok, map[string]interface{}{
		"tipo": "talvez", "conteudo": "Segue",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_StatusChanges(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, auth.RoleAdmin)

	resp, body := env.do(t, http.MethodPatch, "/v1/admin/solicitacoes/01SOL/status", tok, map[string]interface{}{"status": "arquivada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "arquivada", body["status"])

	env.svc.statusErr = fmt.Errorf("arquivada -> pendente: %w", service.ErrInvalidTransition)
	resp, body = env.do(t, http.MethodPost, "/v1/admin/solicitacoes/01SOL/transicao", tok, map[string]interface{}{"status": "pendente"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", body["code"])

	resp, _ = env.do(t, http.MethodPatch, "/v1/admin/solicitacoes/01SOL/status", tok, map[string]interface{}{"status": "perdida"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_DecideAppeal(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, auth.RoleAdmin)

	resp, body := env.do(t, http.MethodPost, "/v1/admin/recursos/01REC/decisao", tok, map[string]interface{}{"decisao": "Provido"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Provido", body["decisao"])
	assert.Equal(t, "staff-1", env.svc.decidedBy)

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/recursos/nope/decisao", tok, map[string]interface{}{"decisao": "Provido"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/admin/recursos/01REC/decisao", tok, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnexos_SignUploadDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.token(t, auth.RoleAdmin)

	resp, body := env.do(t, http.MethodPost, "/v1/admin/anexos/sign", tok, map[string]interface{}{
		"files": []map[string]interface{}{{"name": "resposta final.txt", "mime": "text/plain", "size": 11}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := body["files"].([]interface{})
	require.Len(t, files, 1)
	file := files[0].(map[string]interface{})
	assert.True(t, strings.HasSuffix(file["key"].(string), "-resposta_final.txt"))

	putReq, err := http.NewRequest(http.MethodPut, file["putUrl"].(string), strings.NewReader("hello world"))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(putReq)
	require.NoError(t, err)
	putResp.Body.Close()
	require.Equal(t, http.StatusCreated, putResp.StatusCode)

	getResp, err := http.Get(file["getUrl"].(string))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	content, _ := io.ReadAll(getResp.Body)
	assert.Equal(t, "hello world", string(content))

	// A download token cannot be used to upload.
	u, err := url.Parse(file["getUrl"].(string))
	require.NoError(t, err)
	badPut, err := http.NewRequest(http.MethodPut, u.String(), strings.NewReader("overwrite"))
	require.NoError(t, err)
	badResp, err := http.DefaultClient.Do(badPut)
	require.NoError(t, err)
	badResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, badResp.StatusCode)
}

func TestAnexos_SignRejectsPolicy(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/v1/admin/anexos/sign", env.token(t, auth.RoleAdmin), map[string]interface{}{
		"files": []map[string]interface{}{{"name": "grande.pdf", "mime": "application/pdf", "size": 5 << 20}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "policy_violation", body["code"])
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	l := NewIPRateLimiter(1, 1)
	now := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Hour)
	l.Cleanup()
	assert.Empty(t, l.entries)
}

func TestParseDateParam(t *testing.T) {
	got, err := parseDateParam("", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseDateParam("2025-03-01T12:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), *got)

	got, err = parseDateParam("2025-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *got)
}

func (e *testEnv) dialWS(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/ws" + query
	c, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Cleanup(func() { c.Close() })
	}
	return c, resp, err
}

func TestWebSocket_Handshake(t *testing.T) {
	e := newTestEnv(t, nil)

	_, resp, err := e.dialWS(t, "?token=garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	subscribeAdmin := func(c *websocket.Conn) map[string]interface{} {
		require.NoError(t, c.WriteJSON(map[string]interface{}{"type": "subscribe", "channel": "admin:solicitacoes"}))
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, c.ReadJSON(&msg))
		return msg
	}

	anon, _, err := e.dialWS(t, "")
	require.NoError(t, err)
	assert.Equal(t, "forbidden", subscribeAdmin(anon)["code"])

	admin, _, err := e.dialWS(t, "?token="+e.token(t, auth.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "subscribed", subscribeAdmin(admin)["ack"])
}
