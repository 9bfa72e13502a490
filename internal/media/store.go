// Package media stores game images on local disk and serves them under a
// public base URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/saxenaaman628/balance-game/internal/apperr"
)

const MaxImageSize = 5 << 20

type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

var ErrExists = errors.New("storage: object already exists")

type Store struct {
	dir     string
	baseURL string
}

func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes the image for one side of a game and returns its public
// URL. Objects are never overwritten.
func (s *Store) Save(ctx context.Context, gameID string, side Side, filename, contentType string, r io.Reader) (string, error) {
	const op = "media.Save"
	if side != SideA && side != SideB {
		return "", apperr.Validation(op, "unknown image side %q", side)
	}
	if gameID == "" || strings.ContainsAny(gameID, `/\.`) {
		return "", apperr.Validation(op, "invalid game id")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperr.Validation(op, "only image uploads are allowed")
	}

	key := path.Join(gameID, "choice_"+string(side)+extension(filename, contentType))
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", apperr.E(apperr.KindInternal, op, fmt.Errorf("storage: %w", err))
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return "", apperr.E(apperr.KindConflict, op, ErrExists)
	}
	if err != nil {
		return "", apperr.E(apperr.KindInternal, op, fmt.Errorf("storage: %w", err))
	}

	n, err := io.Copy(f, io.LimitReader(&ctxReader{ctx: ctx, r: r}, MaxImageSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxImageSize {
		err = apperr.Validation(op, "image must be 5MB or smaller")
	}
	if err != nil {
		os.Remove(full)
		if apperr.Is(err, apperr.KindValidation) {
			return "", err
		}
		return "", apperr.E(apperr.KindInternal, op, fmt.Errorf("upload: %w", err))
	}

	slog.Info("image stored", "key", key, "bytes", n)
	return s.baseURL + "/" + key, nil
}

func extension(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && len(ext) <= 5 {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
