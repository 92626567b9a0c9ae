package schema

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const baseURL = "mem://esic/"

// Names of the request bodies the API validates.
const (
	SolicitacaoCreate = "solicitacao.create"
	RespostaCreate    = "resposta.create"
	StatusUpdate      = "status.update"
	RecursoCreate     = "recurso.create"
	RecursoDecide     = "recurso.decide"
	AnexosSign        = "anexos.sign"
)

// FieldError is one violation reported by a schema.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation of one document.
type ValidationError struct {
	Schema string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(parts, "; "))
}

// Compiler validates JSON bodies against the embedded schemas. Compiled
// schemas are cached.
type Compiler struct {
	mu       sync.Mutex
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a new compiler with cache
func NewCompilerWithCache(maxSize int) (*Compiler, error) {
	c := js.NewCompiler()
	c.Draft = js.Draft2020
	c.AssertFormat = true

	err := fs.WalkDir(schemaFS, "schemas", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := schemaFS.ReadFile(p)
		if err != nil {
			return err
		}
		return c.AddResource(baseURL+path.Base(p), bytes.NewReader(data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}, nil
}

// Prepare compiles and caches a named schema
func (c *Compiler) Prepare(_ context.Context, name string) (*js.Schema, error) {
	if compiled, ok := c.cache.Get(name); ok {
		return compiled, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	compiled, err := c.compiler.Compile(baseURL + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	c.cache.Add(name, compiled)
	return compiled, nil
}

// PrepareAll compiles every named schema, failing fast on broken ones.
func (c *Compiler) PrepareAll(ctx context.Context) error {
	for _, name := range []string{SolicitacaoCreate, RespostaCreate, StatusUpdate, RecursoCreate, RecursoDecide, AnexosSign} {
		if _, err := c.Prepare(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a raw JSON document. Violations come back as *ValidationError.
func (c *Compiler) Validate(ctx context.Context, name string, body []byte) error {
	compiled, err := c.Prepare(ctx, name)
	if err != nil {
		return err
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return &ValidationError{Schema: name, Fields: []FieldError{{Field: "/", Message: "invalid JSON"}}}
	}

	if err := compiled.Validate(doc); err != nil {
		var verr *js.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Schema: name, Fields: fieldErrors(verr)}
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// decodeDocument parses body the way the validator expects: numbers stay
// json.Number and trailing data is rejected.
func decodeDocument(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON document")
	}
	return doc, nil
}

// fieldErrors flattens the leaf causes of a validation error.
func fieldErrors(verr *js.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *js.ValidationError)
	walk = func(e *js.ValidationError) {
		if len(e.Causes) == 0 {
			field := e.InstanceLocation
			if field == "" {
				field = "/"
			}
			out = append(out, FieldError{Field: field, Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}

// Decode validates body against name and unmarshals it into v.
func (c *Compiler) Decode(ctx context.Context, name string, body []byte, v interface{}) error {
	if err := c.Validate(ctx, name, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Schema: name, Fields: []FieldError{{Field: "/", Message: err.Error()}}}
	}
	return nil
}
