// Package importer provides data file importers for the report pipeline. A
// source locator is either a path relative to a configured base directory or
// an http(s) URL; either way the payload is a JSON array of work items.
package importer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/durable/reportgen"
)

// maxPayloadBytes caps a single data file. Batches are expected to be small;
// anything larger is almost certainly a bad locator.
const maxPayloadBytes = 32 << 20

// ErrBadLocator indicates a source locator that escapes the importer's root
// or otherwise cannot name a data file.
var ErrBadLocator = errors.New("invalid source locator", j.C("ERR_c82f097d5ae64b31"))

// File imports data files from a single root directory. Locators are
// interpreted relative to the root and may not escape it.
type File struct {
	root string
}

var _ reportgen.Importer = (*File)(nil)

func NewFile(root string) *File {
	return &File{root: root}
}

func (f *File) Import(ctx context.Context, source string) ([]reportgen.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.resolve(source)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read data file", j.KV("source", source))
	}

	return decodeItems(b, source)
}

// resolve joins the locator onto the root and rejects anything that would
// resolve outside it.
func (f *File) resolve(source string) (string, error) {
	if source == "" || filepath.IsAbs(source) {
		return "", errors.Wrap(ErrBadLocator, "", j.KV("source", source))
	}

	cleaned := filepath.Clean(source)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.Wrap(ErrBadLocator, "", j.KV("source", source))
	}

	return filepath.Join(f.root, cleaned), nil
}

// HTTP imports data files over http(s). Locators must be absolute URLs.
type HTTP struct {
	client *http.Client
}

var _ reportgen.Importer = (*HTTP)(nil)

// NewHTTP returns an HTTP importer. A nil client uses http.DefaultClient.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTP{client: client}
}

func (h *HTTP) Import(ctx context.Context, source string) ([]reportgen.WorkItem, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return nil, errors.Wrap(ErrBadLocator, "", j.KV("source", source))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build data file request", j.KV("source", source))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch data file", j.KV("source", source))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("unexpected data file response",
			j.MKV{"source": source, "status": resp.Status})
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read data file response", j.KV("source", source))
	}

	return decodeItems(b, source)
}

func decodeItems(b []byte, source string) ([]reportgen.WorkItem, error) {
	var items []reportgen.WorkItem
	err := json.Unmarshal(b, &items)
	if err != nil {
		return nil, errors.Wrap(err, "decode data file", j.KV("source", source))
	}

	for _, item := range items {
		if item.ID == "" {
			return nil, errors.New("data file item missing id", j.KV("source", source))
		}
		if item.Score < 0 || item.Score > 10 {
			return nil, errors.New("data file item score out of range",
				j.MKV{"source": source, "id": item.ID})
		}
	}

	return items, nil
}
