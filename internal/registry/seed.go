package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kalaikatha/commissions/internal/db"
)

// seedFile is the on-disk shape of a seller seed fixture.
type seedFile struct {
	Sellers []seedSeller `yaml:"sellers"`
}

type seedSeller struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	AcceptingCommissions bool   `yaml:"accepting_commissions"`
	MinimumBudget        *int64 `yaml:"minimum_budget"`
	AcceptablePriceFloor *int64 `yaml:"acceptable_price_floor"`
	AutoAcceptAtFloor    bool   `yaml:"auto_accept_at_floor"`
	NegotiationStyle     string `yaml:"negotiation_style"`
}

// LoadSeed parses a YAML seller fixture into registry rows ready for upsert.
func LoadSeed(path string) ([]db.Seller, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	sellers := make([]db.Seller, 0, len(file.Sellers))
	for i, s := range file.Sellers {
		if s.ID == "" {
			return nil, fmt.Errorf("seed entry %d: missing seller id", i)
		}
		if s.NegotiationStyle == "" {
			s.NegotiationStyle = "friendly"
		}
		switch s.NegotiationStyle {
		case "firm", "friendly", "flexible":
		default:
			return nil, fmt.Errorf("seed entry %s: unknown negotiation style %q", s.ID, s.NegotiationStyle)
		}

		seller := db.Seller{
			ID:                   s.ID,
			Name:                 s.Name,
			AcceptingCommissions: s.AcceptingCommissions,
			AutoAcceptAtFloor:    s.AutoAcceptAtFloor,
			NegotiationStyle:     s.NegotiationStyle,
		}
		if s.MinimumBudget != nil {
			m := db.Money(*s.MinimumBudget)
			seller.MinimumBudget = &m
		}
		if s.AcceptablePriceFloor != nil {
			m := db.Money(*s.AcceptablePriceFloor)
			seller.AcceptablePriceFloor = &m
		}
		sellers = append(sellers, seller)
	}

	return sellers, nil
}
