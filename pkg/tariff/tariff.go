package tariff

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/levenlabs/go-lflag"
	"gopkg.in/yaml.v3"
)

// Tier is one step of a progressive tariff. Limit is the number of kWh
// billed at Rate before moving on to the next tier; 0 marks the final,
// unbounded tier.
type Tier struct {
	Limit float64 `yaml:"limit" json:"limit"`
	Rate  float64 `yaml:"rate" json:"rate"`
}

// Tariff is a progressive residential electricity tariff.
type Tariff struct {
	Name     string  `yaml:"name" json:"name"`
	Currency string  `yaml:"currency" json:"currency"`
	VAT      float64 `yaml:"vat" json:"vat"`
	Tiers    []Tier  `yaml:"tiers" json:"tiers"`
}

// Default returns the six-tier residential tariff in VND per kWh with 8% VAT.
func Default() Tariff {
	return Tariff{
		Name:     "evn-residential",
		Currency: "VND",
		VAT:      0.08,
		Tiers: []Tier{
			{Limit: 50, Rate: 1984},
			{Limit: 50, Rate: 2050},
			{Limit: 100, Rate: 2380},
			{Limit: 100, Rate: 2998},
			{Limit: 100, Rate: 3350},
			{Limit: 0, Rate: 3460},
		},
	}
}

// Configured loads the tariff from the optional --tariff-file YAML file,
// falling back to Default.
func Configured() *Tariff {
	path := lflag.String("tariff-file", "", "YAML file describing the tiered electricity tariff (defaults to the built-in residential tariff)")
	vat := lflag.String("tariff-vat", "", "Override the tariff VAT rate (e.g. 0.1)")

	t := &Tariff{}
	lflag.Do(func() {
		loaded := Default()
		if *path != "" {
			var err error
			loaded, err = Load(*path)
			if err != nil {
				panic(fmt.Sprintf("failed to load tariff: %v", err))
			}
		}
		if *vat != "" {
			v, err := strconv.ParseFloat(*vat, 64)
			if err != nil {
				panic(fmt.Sprintf("invalid tariff-vat (%s): %v", *vat, err))
			}
			loaded.VAT = v
		}
		if err := loaded.Validate(); err != nil {
			panic(fmt.Sprintf("invalid tariff: %v", err))
		}
		*t = loaded
	})
	return t
}

// Load reads a tariff from a YAML file.
func Load(path string) (Tariff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tariff{}, fmt.Errorf("failed to read tariff file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML tariff and validates it.
func Parse(data []byte) (Tariff, error) {
	var t Tariff
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tariff{}, fmt.Errorf("failed to parse tariff: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tariff{}, err
	}
	return t, nil
}

// Validate ensures tiers are applied in a well-defined ascending order.
func (t Tariff) Validate() error {
	if len(t.Tiers) == 0 {
		return errors.New("tariff needs at least one tier")
	}
	if t.VAT < 0 || math.IsNaN(t.VAT) {
		return fmt.Errorf("invalid vat: %v", t.VAT)
	}
	for i, tier := range t.Tiers {
		if tier.Rate < 0 || math.IsNaN(tier.Rate) {
			return fmt.Errorf("tier %d: invalid rate %v", i+1, tier.Rate)
		}
		if tier.Limit < 0 || math.IsNaN(tier.Limit) {
			return fmt.Errorf("tier %d: invalid limit %v", i+1, tier.Limit)
		}
		if tier.Limit == 0 && i != len(t.Tiers)-1 {
			return fmt.Errorf("tier %d: only the last tier can be unbounded", i+1)
		}
	}
	return nil
}

// Cost returns the price of kwh under t including VAT.
func (t Tariff) Cost(kwh float64) float64 {
	return Cost(t.Tiers, kwh, t.VAT)
}

// Savings is what generating part of the load locally saved: the cost of
// the whole load minus the cost of what was actually imported. Because the
// tariff is progressive the avoided kWh are the most expensive ones.
func (t Tariff) Savings(loadKWH, gridKWH float64) float64 {
	return t.Cost(loadKWH) - t.Cost(gridKWH)
}

// IncrementalSavings is the part of a billing period's savings attributable
// to load and grid consumed after priorLoad and priorGrid had already been
// consumed in the same period. Later days move further up the tiers, so the
// same kWh can save more at the end of a month than at its start.
func (t Tariff) IncrementalSavings(priorLoad, priorGrid, load, grid float64) float64 {
	return t.Savings(priorLoad+load, priorGrid+grid) - t.Savings(priorLoad, priorGrid)
}

// Cost consumes kwh through tiers in order and applies vat to the sum.
// Anything left over after the last tier is billed at the last tier's rate.
// Zero or negative consumption costs nothing.
func Cost(tiers []Tier, kwh, vat float64) float64 {
	if kwh <= 0 || len(tiers) == 0 {
		return 0
	}
	remaining := kwh
	var total float64
	for _, tier := range tiers {
		if remaining <= 0 {
			break
		}
		used := remaining
		if tier.Limit > 0 && tier.Limit < used {
			used = tier.Limit
		}
		total += used * tier.Rate
		remaining -= used
	}
	if remaining > 0 {
		total += remaining * tiers[len(tiers)-1].Rate
	}
	return total * (1 + vat)
}
