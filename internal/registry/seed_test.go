package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/db"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sellers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSeed(t *testing.T) {
	path := writeSeedFile(t, `
sellers:
  - id: seller-a
    name: Asha Pottery
    accepting_commissions: true
    acceptable_price_floor: 280000
    auto_accept_at_floor: true
    negotiation_style: friendly
  - id: seller-b
    name: Bharat Weaves
    accepting_commissions: true
    minimum_budget: 50000
    negotiation_style: firm
`)

	sellers, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, sellers, 2)

	assert.Equal(t, "seller-a", sellers[0].ID)
	assert.True(t, sellers[0].AutoAcceptAtFloor)
	require.NotNil(t, sellers[0].AcceptablePriceFloor)
	assert.Equal(t, db.Money(280000), *sellers[0].AcceptablePriceFloor)

	assert.Equal(t, "firm", sellers[1].NegotiationStyle)
	require.NotNil(t, sellers[1].MinimumBudget)
	assert.Equal(t, db.Money(50000), *sellers[1].MinimumBudget)
	assert.Nil(t, sellers[1].AcceptablePriceFloor)
}

func TestLoadSeedDefaultsStyle(t *testing.T) {
	path := writeSeedFile(t, `
sellers:
  - id: seller-c
    name: Chitra Crafts
    accepting_commissions: true
`)

	sellers, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, "friendly", sellers[0].NegotiationStyle)
}

func TestLoadSeedRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing id",
			content: "sellers:\n  - name: Nameless\n",
		},
		{
			name:    "unknown style",
			content: "sellers:\n  - id: x\n    negotiation_style: aggressive\n",
		},
		{
			name:    "invalid yaml",
			content: "sellers: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSeedFile(t, tt.content)
			_, err := LoadSeed(path)
			assert.Error(t, err)
		})
	}
}
