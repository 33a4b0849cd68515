package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Simplici0/foodcost/internal/calibration"
	"github.com/Simplici0/foodcost/internal/pricing"
)

// Built-in profile names.
const (
	ProfileStandard    = "standard"
	ProfilePerDelivery = "per_delivery"
	ProfileLongHaul    = "long_haul"
)

// Annual setup spend over annual pounds distributed.
const standardFixedCostPerLb = 13044792.0 / 17562606.0

// Profile bundles every deployment-adjustable cost constant.
type Profile struct {
	Name                   string                      `yaml:"-" json:"name"`
	FixedCostPerLb         float64                     `yaml:"fixed_cost_per_lb" json:"fixed_cost_per_lb"`
	TransportCostPerLbMile float64                     `yaml:"transport_cost_per_lb_mile" json:"transport_cost_per_lb_mile"`
	FixedCostMode          pricing.FixedCostMode       `yaml:"fixed_cost_mode" json:"fixed_cost_mode"`
	CostFloor              float64                     `yaml:"cost_floor" json:"cost_floor"`
	DonatedPrice           float64                     `yaml:"donated_price" json:"donated_price"`
	DefaultProducePrice    float64                     `yaml:"default_produce_price" json:"default_produce_price"`
	DefaultPurchasedPrice  float64                     `yaml:"default_purchased_price" json:"default_purchased_price"`
	PurchasedMin           float64                     `yaml:"purchased_min" json:"purchased_min"`
	PurchasedMax           float64                     `yaml:"purchased_max" json:"purchased_max"`
	GridPoints             int                         `yaml:"grid_points" json:"grid_points"`
	FixedPurchasePrice     float64                     `yaml:"fixed_purchase_price" json:"fixed_purchase_price"`
	FixedSplit             float64                     `yaml:"fixed_split" json:"fixed_split"`
	FixedProduceFallback   calibration.ProduceFallback `yaml:"fixed_produce_fallback" json:"fixed_produce_fallback"`
}

// Calibration returns the solver and guardrail constants.
func (p Profile) Calibration() calibration.Params {
	return calibration.Params{
		CostFloor:             p.CostFloor,
		DonatedPrice:          p.DonatedPrice,
		DefaultProducePrice:   p.DefaultProducePrice,
		DefaultPurchasedPrice: p.DefaultPurchasedPrice,
		PurchasedMin:          p.PurchasedMin,
		PurchasedMax:          p.PurchasedMax,
		GridPoints:            p.GridPoints,
		FixedPurchasePrice:    p.FixedPurchasePrice,
		FixedSplit:            p.FixedSplit,
		FixedProduceFallback:  p.FixedProduceFallback,
	}
}

// Rates returns the delivery surcharges.
func (p Profile) Rates() pricing.Rates {
	return pricing.Rates{
		FixedCostPerLb:         p.FixedCostPerLb,
		TransportCostPerLbMile: p.TransportCostPerLbMile,
		FixedCostMode:          p.FixedCostMode,
	}
}

// Validate checks the profile constants.
func (p Profile) Validate() error {
	if err := errors.Join(p.Calibration().Validate(), p.Rates().Validate()); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return nil
}

// StandardProfile charges fixed cost once a year at 0.01/lb/mile transport
// and derives the fixed-price program's produce from an equal split.
func StandardProfile() Profile {
	params := calibration.DefaultParams()
	return Profile{
		Name:                   ProfileStandard,
		FixedCostPerLb:         standardFixedCostPerLb,
		TransportCostPerLbMile: 0.01,
		FixedCostMode:          pricing.FixedAnnual,
		CostFloor:              params.CostFloor,
		DonatedPrice:           params.DonatedPrice,
		DefaultProducePrice:    params.DefaultProducePrice,
		DefaultPurchasedPrice:  params.DefaultPurchasedPrice,
		PurchasedMin:           params.PurchasedMin,
		PurchasedMax:           params.PurchasedMax,
		GridPoints:             params.GridPoints,
		FixedPurchasePrice:     params.FixedPurchasePrice,
		FixedSplit:             params.FixedSplit,
		FixedProduceFallback:   params.FixedProduceFallback,
	}
}

// Profiles is a registry keyed by profile name.
type Profiles map[string]Profile

// BuiltinProfiles returns the three calculator variants.
func BuiltinProfiles() Profiles {
	standard := StandardProfile()

	perDelivery := standard
	perDelivery.Name = ProfilePerDelivery
	perDelivery.FixedCostMode = pricing.FixedPerDelivery

	longHaul := standard
	longHaul.Name = ProfileLongHaul
	longHaul.TransportCostPerLbMile = 0.02
	longHaul.FixedProduceFallback = calibration.FallbackDefault

	return Profiles{
		standard.Name:    standard,
		perDelivery.Name: perDelivery,
		longHaul.Name:    longHaul,
	}
}

// Lookup returns the named profile.
func (ps Profiles) Lookup(name string) (Profile, error) {
	p, ok := ps[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown cost profile %q (known: %v)", name, ps.Names())
	}
	return p, nil
}

// Names returns profile names in sorted order.
func (ps Profiles) Names() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type profilesFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfiles returns the built-in profiles merged with those defined in
// the YAML file at path. A file profile starts from the built-in of the same
// name, or from standard, and overrides only the keys it sets.
func LoadProfiles(path string) (Profiles, error) {
	profiles := BuiltinProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing profiles YAML: %w", err)
	}

	for name, node := range file.Profiles {
		base, ok := profiles[name]
		if !ok {
			base = StandardProfile()
		}
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("decoding profile %s: %w", name, err)
		}
		base.Name = name
		if err := base.Validate(); err != nil {
			return nil, err
		}
		profiles[name] = base
	}
	return profiles, nil
}
