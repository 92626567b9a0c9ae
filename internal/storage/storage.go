package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operations a signed URL may grant.
const (
	OpPut = "put"
	OpGet = "get"
)

// ErrInvalidKey is returned for object keys that could escape the base directory.
var ErrInvalidKey = errors.New("invalid object key")

// ErrInvalidSignature is returned when a signed URL token does not verify.
var ErrInvalidSignature = errors.New("invalid or expired signature")

// Storage defines the interface for file storage backends
type Storage interface {
	PresignPut(ctx context.Context, objectName, contentType string, expiresIn time.Duration) (string, error)
	PresignGet(ctx context.Context, objectName string, expiresIn time.Duration) (string, error)
	Put(ctx context.Context, objectName string, reader io.Reader) (int64, string, error)
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectName string) error
}

// LocalStorage implements Storage on the local filesystem. Presigned URLs
// point back at the API and carry a short-lived signed token.
type LocalStorage struct {
	baseDir string
	baseURL string
	secret  []byte
}

// NewLocalStorage creates a new local filesystem storage backend
func NewLocalStorage(baseDir, baseURL, secret string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
	}, nil
}

type urlClaims struct {
	Object string `json:"obj"`
	Op     string `json:"op"`
	MIME   string `json:"mime,omitempty"`
	jwt.RegisteredClaims
}

func (s *LocalStorage) sign(objectName, op, contentType string, expiresIn time.Duration) (string, error) {
	if err := checkKey(objectName); err != nil {
		return "", err
	}
	claims := urlClaims{
		Object: objectName,
		Op:     op,
		MIME:   contentType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	return fmt.Sprintf("%s/v1/anexos/%s?token=%s", s.baseURL, url.PathEscape(objectName), url.QueryEscape(token)), nil
}

// Verify checks that token grants op on objectName.
func (s *LocalStorage) Verify(objectName, op, token string) error {
	var claims urlClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return ErrInvalidSignature
	}
	if claims.Object != objectName || claims.Op != op {
		return ErrInvalidSignature
	}
	return nil
}

func (s *LocalStorage) PresignPut(_ context.Context, objectName, contentType string, expiresIn time.Duration) (string, error) {
	return s.sign(objectName, OpPut, contentType, expiresIn)
}

func (s *LocalStorage) PresignGet(_ context.Context, objectName string, expiresIn time.Duration) (string, error) {
	return s.sign(objectName, OpGet, "", expiresIn)
}

// Put stores the object and returns its size and sha256.
func (s *LocalStorage) Put(_ context.Context, objectName string, reader io.Reader) (int64, string, error) {
	if err := checkKey(objectName); err != nil {
		return 0, "", err
	}
	fullPath := filepath.Join(s.baseDir, objectName)

	file, err := os.Create(fullPath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(file, hash), reader)
	if err != nil {
		return 0, "", fmt.Errorf("failed to write file: %w", err)
	}
	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *LocalStorage) Get(_ context.Context, objectName string) (io.ReadCloser, error) {
	if err := checkKey(objectName); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.baseDir, objectName))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) Delete(_ context.Context, objectName string) error {
	if err := checkKey(objectName); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, objectName)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// checkKey accepts flat names only.
func checkKey(objectName string) error {
	if objectName == "" || objectName == "." || objectName == ".." ||
		strings.ContainsAny(objectName, `/\`) || strings.Contains(objectName, "..") {
		return ErrInvalidKey
	}
	return nil
}
