package mail

import (
	"bytes"
	"fmt"
	"text/template"

	"esic/internal/model"
)

type tmpl struct {
	subject *template.Template
	body    *template.Template
}

func mustTmpl(subject, body string) tmpl {
	return tmpl{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

var templates = map[model.NotificacaoTipo]tmpl{
	model.NotificacaoNovaSolicitacao: mustTmpl(
		`Solicitação registrada - Protocolo {{.Protocolo}}`,
		`Olá, {{.Nome}}.

Sua solicitação de acesso à informação foi registrada com o protocolo {{.Protocolo}}.
{{with .Payload.assunto}}Assunto: {{.}}
{{end}}{{with .Payload.dataLimite}}Prazo para resposta: {{.}}
{{end}}
Acompanhe pelo portal da transparência usando o número do protocolo.
`),
	model.NotificacaoResposta: mustTmpl(
		`Sua solicitação {{.Protocolo}} foi respondida`,
		`Olá, {{.Nome}}.

Sua solicitação {{.Protocolo}} recebeu uma resposta.
{{with .Payload.tipoLabel}}Resultado: {{.}}
{{end}}
{{with .Payload.conteudo}}{{.}}
{{end}}
Caso discorde, você pode apresentar recurso pelo portal.
`),
	model.NotificacaoProrrogacao: mustTmpl(
		`Prazo prorrogado - Protocolo {{.Protocolo}}`,
		`Olá, {{.Nome}}.

O prazo para resposta da solicitação {{.Protocolo}} foi prorrogado.
{{with .Payload.novoPrazo}}Novo prazo: {{.}}
{{end}}
{{with .Payload.conteudo}}Justificativa: {{.}}
{{end}}`),
	model.NotificacaoRecurso: mustTmpl(
		`Recurso decidido - Protocolo {{.Protocolo}}`,
		`Olá, {{.Nome}}.

O recurso apresentado na solicitação {{.Protocolo}} foi decidido.
{{with .Payload.instancia}}Instância: {{.}}
{{end}}{{with .Payload.decisao}}Decisão: {{.}}
{{end}}{{with .Payload.fundamentacao}}Fundamentação: {{.}}
{{end}}`),
}

// Render builds the e-mail for a notification.
func Render(n model.Notificacao) (Message, error) {
	t, ok := templates[n.Tipo]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification type %q", n.Tipo)
	}
	if n.Payload == nil {
		n.Payload = map[string]interface{}{}
	}

	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, n); err != nil {
		return Message{}, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := t.body.Execute(&body, n); err != nil {
		return Message{}, fmt.Errorf("failed to render body: %w", err)
	}
	return Message{To: n.Email, Subject: subject.String(), Body: body.String()}, nil
}
