// Package generator builds fake row payloads for simulated senders.
package generator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/jaswdr/faker"
)

// Row is one generated order line.
type Row struct {
	OrderID   string    `json:"order_id"`
	Customer  string    `json:"customer"`
	Email     string    `json:"email"`
	City      string    `json:"city"`
	Category  string    `json:"category"`
	Quantity  int       `json:"quantity"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

var categories = []string{
	"Books",
	"Electronics",
	"Garden",
	"Grocery",
	"Music",
	"Outdoors",
	"Toys",
}

// Generator produces batch bodies. A Generator is not safe for concurrent
// use; give each sender its own.
type Generator struct {
	faker   faker.Faker
	minRows int
	maxRows int
}

// New creates a generator producing between minRows and maxRows rows per
// batch.
func New(seed int64, minRows, maxRows int) *Generator {
	if minRows < 0 {
		minRows = 0
	}
	if maxRows < minRows {
		maxRows = minRows
	}
	return &Generator{
		faker:   faker.NewWithSeed(rand.NewSource(seed)),
		minRows: minRows,
		maxRows: maxRows,
	}
}

// Rows generates the rows of one batch.
func (g *Generator) Rows() []Row {
	n := g.minRows
	if g.maxRows > g.minRows {
		n = g.faker.IntBetween(g.minRows, g.maxRows)
	}

	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			OrderID:   "O" + g.faker.UUID().V4()[0:8],
			Customer:  g.faker.Person().Name(),
			Email:     g.faker.Internet().Email(),
			City:      g.faker.Address().City(),
			Category:  categories[g.faker.IntBetween(0, len(categories)-1)],
			Quantity:  g.faker.IntBetween(1, 12),
			Amount:    float64(g.faker.IntBetween(100, 99999)) / 100,
			CreatedAt: time.Now().UTC(),
		}
	}
	return rows
}

// Body generates one batch and returns it JSON encoded with its row count.
func (g *Generator) Body() ([]byte, int, error) {
	rows := g.Rows()
	if len(rows) == 0 {
		return nil, 0, nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal rows: %w", err)
	}
	return body, len(rows), nil
}

// Chance reports true with probability p.
func (g *Generator) Chance(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return g.faker.IntBetween(1, 10000) <= int(p*10000)
}
