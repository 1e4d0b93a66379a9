package xlas

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// Options tunes a workbook. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// RecalcWorkers bounds the goroutines evaluating one recalculation
	// layer.
	RecalcWorkers int `toml:"recalc_workers"`

	// ParallelThreshold is the layer size below which evaluation stays on
	// one goroutine.
	ParallelThreshold int `toml:"parallel_threshold"`

	// MaxRows and MaxCols cap addressable coordinates per sheet.
	MaxRows uint32 `toml:"max_rows"`
	MaxCols uint32 `toml:"max_cols"`

	// SortTiers orders value kinds for range sorting. Kinds sort by tier
	// first, by value within a tier. Blanks always sort last.
	SortTiers []string `toml:"sort_tiers"`
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		RecalcWorkers:     runtime.NumCPU(),
		ParallelThreshold: 64,
		MaxRows:           1 << 20,
		MaxCols:           1 << 14,
		SortTiers:         []string{"number", "text", "boolean", "error"},
	}
}

// LoadOptions reads a TOML options file over the defaults, so a partial file
// only overrides what it names.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}
	if err := toml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse options %s: %w", path, err)
	}
	return opts, opts.validate()
}

func (o Options) validate() error {
	if o.RecalcWorkers < 1 {
		return fmt.Errorf("recalc_workers must be positive, got %d", o.RecalcWorkers)
	}
	if o.ParallelThreshold < 1 {
		return fmt.Errorf("parallel_threshold must be positive, got %d", o.ParallelThreshold)
	}
	if o.MaxRows == 0 || o.MaxCols == 0 {
		return fmt.Errorf("grid limits must be positive")
	}
	seen := make(map[string]bool, len(o.SortTiers))
	for _, tier := range o.SortTiers {
		switch tier {
		case "number", "text", "boolean", "error":
		default:
			return fmt.Errorf("unknown sort tier %q", tier)
		}
		if seen[tier] {
			return fmt.Errorf("duplicate sort tier %q", tier)
		}
		seen[tier] = true
	}
	return nil
}
