package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"esic/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenFrom(t *testing.T, raw string) (string, string) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return strings.TrimPrefix(u.Path, "/v1/anexos/"), u.Query().Get("token")
}

func TestLocalStorage_SignedRoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/", "secret")
	require.NoError(t, err)
	ctx := context.Background()
	key := ObjectKey("Relatório final.pdf")

	putURL, err := s.PresignPut(ctx, key, "application/pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(putURL, "http://localhost:8080/v1/anexos/"))

	obj, token := tokenFrom(t, putURL)
	assert.Equal(t, key, obj)
	require.NoError(t, s.Verify(key, OpPut, token))
	assert.ErrorIs(t, s.Verify(key, OpGet, token), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("other", OpPut, token), ErrInvalidSignature)

	n, sum, err := s.Put(ctx, key, strings.NewReader("conteudo"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Len(t, sum, 64)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "conteudo", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.Error(t, err)
}

func TestLocalStorage_ExpiredAndForeignTokens(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://x", "secret")
	require.NoError(t, err)
	other, err := NewLocalStorage(t.TempDir(), "http://x", "other")
	require.NoError(t, err)

	expired, err := s.PresignGet(context.Background(), "a.pdf", -time.Minute)
	require.NoError(t, err)
	_, token := tokenFrom(t, expired)
	assert.ErrorIs(t, s.Verify("a.pdf", OpGet, token), ErrInvalidSignature)

	foreign, err := other.PresignGet(context.Background(), "a.pdf", time.Minute)
	require.NoError(t, err)
	_, token = tokenFrom(t, foreign)
	assert.ErrorIs(t, s.Verify("a.pdf", OpGet, token), ErrInvalidSignature)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://x", "secret")
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../etc/passwd", "a/b", `a\b`} {
		_, _, err := s.Put(context.Background(), key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestObjectKey(t *testing.T) {
	k := ObjectKey("../../Relatório final.pdf")
	assert.NoError(t, checkKey(k))
	assert.True(t, strings.HasSuffix(k, "-Relat_rio_final.pdf"), k)
	assert.True(t, strings.HasSuffix(ObjectKey("..."), "-arquivo"))
}

func TestFilePolicy(t *testing.T) {
	p := NewFilePolicy(1, 1.5, []string{"application/pdf", "image/*"}, []string{".PDF", "png", "jpg"})

	assert.NoError(t, p.ValidateFile("a.pdf", "application/pdf", 1024))
	assert.NoError(t, p.ValidateFile("a.png", "image/png; charset=binary", 1024))
	assert.Error(t, p.ValidateFile("a.pdf", "application/pdf", 2*1024*1024))
	assert.Error(t, p.ValidateFile("a.exe", "application/pdf", 10))
	assert.Error(t, p.ValidateFile("a.pdf", "text/html", 10))

	assert.NoError(t, p.ValidateBatch([]FileSpec{{"a.pdf", "application/pdf", 700 * 1024}, {"b.pdf", "application/pdf", 700 * 1024}}))
	assert.Error(t, p.ValidateBatch([]FileSpec{{"a.pdf", "application/pdf", 900 * 1024}, {"b.pdf", "application/pdf", 900 * 1024}}))

	var none *FilePolicy
	assert.NoError(t, none.ValidateFile("x", "y", 1<<40))
}

func TestValidateAnexos(t *testing.T) {
	p := NewFilePolicy(5, 0, nil, []string{"pdf"})
	assert.NoError(t, ValidateAnexos([]model.Anexo{{Name: "a.pdf", URL: "http://x/a.pdf", Size: 10}}, p))
	assert.Error(t, ValidateAnexos([]model.Anexo{{Name: "a.pdf", Size: 10}}, p))
	assert.Error(t, ValidateAnexos([]model.Anexo{{Name: "a.doc", URL: "http://x/a.doc"}}, p))
	assert.NoError(t, ValidateAnexos(nil, p))
}

func TestFilePolicy_ErrorNamesFile(t *testing.T) {
	p := NewFilePolicy(1, 0, nil, []string{"pdf"})
	err := p.ValidateFile("planilha.xls", "application/vnd.ms-excel", 10)
	var pe *PolicyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "planilha.xls", pe.File)
	assert.Contains(t, err.Error(), "planilha.xls")
}
