// Package reportgen implements a report generation batch pipeline on the
// durable engine: a data file of work items is imported, one report is
// generated and archived per item with bounded fan-out, and a single aggregate
// result reports the batch outcome including any per-item failures.
package reportgen

import (
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const (
	OrchestrationProcessBatch       = "process-data-file"
	OrchestrationGenerateAndArchive = "generate-and-archive-report"

	ActivityImport             = "import-data-file"
	ActivityGenerate           = "generate-report"
	ActivityArchive            = "archive-report"
	ActivityGenerateAndArchive = "generate-and-archive"

	ContentTypePDF = "application/pdf"
)

var (
	ErrImport  = errors.New("import failed", j.C("ERR_ba5c2e90d17f4a63"))
	ErrRender  = errors.New("report generation failed", j.C("ERR_07d3f861c25ab94e"))
	ErrStorage = errors.New("report archive failed", j.C("ERR_4e19ac57f08d23b6"))
)

// WorkItem is one independently processed unit of a batch. Immutable once
// produced by the import activity. Score is in [0, 10] with two-decimal
// precision.
type WorkItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Filename derives the archived report's name from the item's stable
// identifier, never the display name, so that retries overwrite the same blob
// and collisions or unsafe characters in names cannot leak into storage keys.
func (i WorkItem) Filename() string {
	return i.ID + ".pdf"
}

// ArchiveCommand carries one generated artifact to the archive store. It is
// transient: it exists only for the duration of one archive invocation and is
// never persisted as such.
type ArchiveCommand struct {
	Data        []byte `json:"data"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// ArchiveReceipt is returned by the archive store on a successful write.
// Version increments on overwrite.
type ArchiveReceipt struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Version  int    `json:"version"`
}

// ItemFailure is one item's captured failure inside an aggregate result.
type ItemFailure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// AggregateResult is the single outcome record of a batch. Per-item failures
// are reported here as data; they never fail the batch instance itself.
type AggregateResult struct {
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
	Errors   []ItemFailure `json:"errors,omitempty"`
}
