package reportgen

import (
	"fmt"

	"github.com/andrewwormald/durable"
)

// Mode selects how a single item travels through the per-item pipeline.
type Mode int

const (
	// ModeSplit runs generation and archival as two recorded activities:
	// independent retry of each step, at the cost of persisting the artifact as
	// an intermediate history value.
	ModeSplit Mode = 0
	// ModeCombined runs both as one opaque activity: the artifact never enters
	// the history log, but a retry repeats both steps.
	ModeCombined Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeSplit:
		return "Split"
	case ModeCombined:
		return "Combined"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Config is the deployment's choice of pipeline shape.
type Config struct {
	Mode Mode
	// Concurrency bounds the batch fan-out. Zero uses the engine default.
	Concurrency int
}

// Register wires the pipeline's activities and orchestrations into the engine
// builder.
func Register(b *durable.Builder, acts *Activities, cfg Config) {
	b.RegisterActivity(ActivityImport, durable.Activity(acts.ImportDataFile))
	b.RegisterActivity(ActivityGenerate, durable.Activity(acts.GenerateReport))
	b.RegisterActivity(ActivityArchive, durable.Activity(acts.ArchiveReport))
	b.RegisterActivity(ActivityGenerateAndArchive, durable.Activity(acts.GenerateAndArchiveReport))

	b.RegisterOrchestration(OrchestrationProcessBatch, ProcessBatch(cfg))
	b.RegisterOrchestration(OrchestrationGenerateAndArchive, GenerateAndArchive(cfg))
}

// ProcessBatch is the top-level orchestration: import the batch, fan out one
// sub-orchestration per item bounded by the configured concurrency, and
// aggregate. An import failure fails the whole instance before any item is
// processed; per-item failures are captured into the aggregate's error list
// and the instance still completes.
func ProcessBatch(cfg Config) durable.OrchestrationFunc {
	return durable.Orchestration(func(c *durable.Context, source string) (AggregateResult, error) {
		log := c.Logger()

		var items []WorkItem
		err := c.CallActivity(ActivityImport, source, &items)
		if err != nil {
			return AggregateResult{}, err
		}

		log.Debug(c.Context(), "imported data file", durable.MKV{
			"source": source,
			"items":  fmt.Sprintf("%d", len(items)),
		})

		start, err := c.Now()
		if err != nil {
			return AggregateResult{}, err
		}

		fanOut := make([]durable.FanOutItem, 0, len(items))
		for _, item := range items {
			fanOut = append(fanOut, durable.FanOutItem{ID: item.ID, Input: item})
		}

		var opts []durable.FanOutOption
		if cfg.Concurrency > 0 {
			opts = append(opts, durable.WithConcurrency(cfg.Concurrency))
		}

		results, err := c.FanOut(OrchestrationGenerateAndArchive, fanOut, opts...)
		if err != nil {
			return AggregateResult{}, err
		}

		end, err := c.Now()
		if err != nil {
			return AggregateResult{}, err
		}

		agg := AggregateResult{
			Count:    len(items),
			Duration: end.Sub(start),
		}
		for _, res := range results {
			if res.Err != nil {
				agg.Errors = append(agg.Errors, ItemFailure{
					ID:      res.ID,
					Message: res.Err.Error(),
				})
			}
		}

		log.Debug(c.Context(), "batch processed", durable.MKV{
			"count":    fmt.Sprintf("%d", agg.Count),
			"failures": fmt.Sprintf("%d", len(agg.Errors)),
		})

		return agg, nil
	})
}

// GenerateAndArchive is the per-item sub-orchestration. A generation failure
// skips archival entirely; either failure fails only this item's instance and
// is captured as a value at the fan-out boundary.
func GenerateAndArchive(cfg Config) durable.OrchestrationFunc {
	return durable.Orchestration(func(c *durable.Context, item WorkItem) (ArchiveReceipt, error) {
		if cfg.Mode == ModeCombined {
			var receipt ArchiveReceipt
			err := c.CallActivity(ActivityGenerateAndArchive, item, &receipt)
			if err != nil {
				return ArchiveReceipt{}, err
			}

			return receipt, nil
		}

		var artifact []byte
		err := c.CallActivity(ActivityGenerate, item, &artifact)
		if err != nil {
			return ArchiveReceipt{}, err
		}

		cmd := ArchiveCommand{
			Data:        artifact,
			Filename:    item.Filename(),
			ContentType: ContentTypePDF,
		}

		var receipt ArchiveReceipt
		err = c.CallActivity(ActivityArchive, cmd, &receipt)
		if err != nil {
			return ArchiveReceipt{}, err
		}

		return receipt, nil
	})
}
