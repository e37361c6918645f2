package reportgen

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Importer loads the work items of a batch from a source locator. Out of scope
// for the pipeline itself; see the importer package for implementations.
type Importer interface {
	Import(ctx context.Context, source string) ([]WorkItem, error)
}

// Renderer produces the report artifact for a single item.
type Renderer interface {
	Render(ctx context.Context, item WorkItem) ([]byte, error)
}

// ArchiveStore writes artifacts to durable storage. Put must be safe to call
// twice with the same filename: overwrite, not duplicate, which is what makes
// the archive activity retry safe.
type ArchiveStore interface {
	Put(ctx context.Context, cmd ArchiveCommand) (ArchiveReceipt, error)
}

// Activities bundles the pipeline's external collaborators behind the narrow
// activity functions the orchestrations call.
type Activities struct {
	importer Importer
	renderer Renderer
	archive  ArchiveStore
}

func NewActivities(importer Importer, renderer Renderer, archive ArchiveStore) *Activities {
	return &Activities{
		importer: importer,
		renderer: renderer,
		archive:  archive,
	}
}

// ImportDataFile fails the whole batch on error: no items were processed.
func (a *Activities) ImportDataFile(ctx context.Context, source string) ([]WorkItem, error) {
	items, err := a.importer.Import(ctx, source)
	if err != nil {
		return nil, errors.Wrap(ErrImport, err.Error(), j.KV("source", source))
	}

	return items, nil
}

func (a *Activities) GenerateReport(ctx context.Context, item WorkItem) ([]byte, error) {
	data, err := a.renderer.Render(ctx, item)
	if err != nil {
		return nil, errors.Wrap(ErrRender, err.Error(), j.KV("item_id", item.ID))
	}

	return data, nil
}

func (a *Activities) ArchiveReport(ctx context.Context, cmd ArchiveCommand) (ArchiveReceipt, error) {
	receipt, err := a.archive.Put(ctx, cmd)
	if err != nil {
		return ArchiveReceipt{}, errors.Wrap(ErrStorage, err.Error(), j.KV("filename", cmd.Filename))
	}

	return receipt, nil
}

// GenerateAndArchiveReport is the combined-mode activity: generation and
// archival as one opaque step so that the artifact bytes never enter the
// history log as an intermediate value. The trade-off is coarser retry
// granularity; see Mode.
func (a *Activities) GenerateAndArchiveReport(ctx context.Context, item WorkItem) (ArchiveReceipt, error) {
	data, err := a.GenerateReport(ctx, item)
	if err != nil {
		return ArchiveReceipt{}, err
	}

	return a.ArchiveReport(ctx, ArchiveCommand{
		Data:        data,
		Filename:    item.Filename(),
		ContentType: ContentTypePDF,
	})
}
