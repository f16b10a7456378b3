// Package archive keeps a content-addressed copy of every fetched county page.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/county-wage-etl/internal/model"
)

const pageContentType = "text/html; charset=utf-8"

// BlobStore persists objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// PageArchiver lays pages out as <prefix>/<state>/<county>/<sha256>.html.
type PageArchiver struct {
	store  BlobStore
	prefix string
}

// New builds a PageArchiver over store.
func New(store BlobStore, prefix string) (*PageArchiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &PageArchiver{store: store, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectPath returns where a page body for fullCode is stored.
func (a *PageArchiver) ObjectPath(fullCode string, body []byte) (string, error) {
	if len(fullCode) != model.FullCodeWidth || !model.IsDigits(fullCode) {
		return "", fmt.Errorf("invalid county code %q", fullCode)
	}
	sum := sha256.Sum256(body)
	name := hex.EncodeToString(sum[:]) + ".html"
	return path.Join(a.prefix, fullCode[:model.StateCodeWidth], fullCode, name), nil
}

// ArchivePage stores body and returns its URI.
func (a *PageArchiver) ArchivePage(ctx context.Context, fullCode string, body []byte) (string, error) {
	p, err := a.ObjectPath(fullCode, body)
	if err != nil {
		return "", err
	}
	uri, err := a.store.PutObject(ctx, p, pageContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", fullCode, err)
	}
	return uri, nil
}
