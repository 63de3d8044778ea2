package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Record is one flagged record in the shape the auditor stores on chain.
type Record map[string]any

// Generator produces synthetic flagged records for the graph store and UI.
type Generator struct {
	cfg  Config
	rand *rand.Rand
	base time.Time
}

var (
	simpleRules = []ruleTemplate{
		{"Large Cash Transfer", "High"},
		{"Rapid Movement of Funds", "Medium"},
		{"High-Risk Merchant Category", "Medium"},
		{"Structuring Below Threshold", "High"},
	}
	layeringRule = ruleTemplate{"Multi-Layer Transfer Chain", "High"}
	clusterRule  = ruleTemplate{"Coordinated Dispersion-Aggregation Detected", "Critical"}

	merchantCategories = []string{"REMITTANCE", "PAYROLL", "E_COMMERCE", "CRYPTO", "GAMBLING", "DONATION"}
	paymentMethods     = []string{"wallet", "card", "bank_transfer", "crypto"}
)

type ruleTemplate struct {
	name string
	risk string
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumRecords <= 0 {
		cfg.NumRecords = def.NumRecords
	}
	if cfg.SimpleShare <= 0 && cfg.LayerShare <= 0 && cfg.ClusterShare <= 0 {
		cfg.SimpleShare, cfg.LayerShare, cfg.ClusterShare = def.SimpleShare, def.LayerShare, def.ClusterShare
	}
	if cfg.MaxHops < 3 {
		cfg.MaxHops = def.MaxHops
	}
	// Paths and clusters draw distinct wallets, so the pool must cover the largest.
	if cfg.NumWallets < max(cfg.MaxHops, 6) {
		cfg.NumWallets = max(cfg.MaxHops, 6, def.NumWallets)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
		base: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Generate synthesises flagged records. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0, g.cfg.NumRecords)
	total := g.cfg.SimpleShare + g.cfg.LayerShare + g.cfg.ClusterShare

	for i := 0; i < g.cfg.NumRecords; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		at := g.base.Add(time.Duration(i) * time.Minute)
		if g.rand.Float64() < g.cfg.RawShare {
			records = append(records, Record{"raw": fmt.Sprintf("0x%x", g.rand.Int63())})
			continue
		}

		pick := g.rand.Float64() * total
		switch {
		case pick < g.cfg.SimpleShare:
			records = append(records, g.simple(at))
		case pick < g.cfg.SimpleShare+g.cfg.LayerShare:
			records = append(records, g.layered(at))
		default:
			records = append(records, g.cluster(at))
		}
	}
	return records, nil
}

func (g *Generator) simple(at time.Time) Record {
	wallets := g.distinctWallets(2)
	rule := simpleRules[g.rand.Intn(len(simpleRules))]
	amount := g.amount()
	return g.wrap(at, Record{
		"sender":            wallets[0],
		"receiver":          wallets[1],
		"amount":            amount,
		"merchant_category": merchantCategories[g.rand.Intn(len(merchantCategories))],
		"payment_method":    paymentMethods[g.rand.Intn(len(paymentMethods))],
	}, rule)
}

func (g *Generator) layered(at time.Time) Record {
	hops := 3 + g.rand.Intn(g.cfg.MaxHops-2)
	path := g.distinctWallets(hops)
	amount := g.amount()

	timestamps := make([]float64, 0, hops-1)
	var delay float64
	ts := float64(at.Unix())
	for i := 0; i < hops-1; i++ {
		step := float64(30 + g.rand.Intn(600))
		delay += step
		ts += step
		timestamps = append(timestamps, ts)
	}

	return g.wrap(at, Record{
		"sender":                   path[0],
		"receiver":                 path[len(path)-1],
		"amount":                   amount,
		"total_amount":             amount * float64(hops-1),
		"path":                     path,
		"num_layers":               hops - 1,
		"num_accounts_involved":    hops,
		"avg_delay_between_layers": delay / float64(hops-1),
		"timestamps":               timestamps,
	}, layeringRule)
}

// cluster emits a dispersion-aggregation pattern: one origin fans out to
// intermediaries that all pay the common receiver.
func (g *Generator) cluster(at time.Time) Record {
	size := 4 + g.rand.Intn(3)
	members := g.distinctWallets(size)
	receiver := members[len(members)-1]
	return g.wrap(at, Record{
		"receiver":                     receiver,
		"amount":                       g.amount(),
		"linked_chain_members":         members,
		"linked_chain_common_receiver": receiver,
	}, clusterRule)
}

func (g *Generator) wrap(at time.Time, tx Record, rule ruleTemplate) Record {
	return Record{
		"tx":            tx,
		"matched_rules": []string{rule.name},
		"risk_levels":   []string{rule.risk},
		"timestamp":     at.Format(time.RFC3339),
	}
}

func (g *Generator) distinctWallets(n int) []string {
	picked := make(map[int]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		idx := g.rand.Intn(g.cfg.NumWallets)
		if _, ok := picked[idx]; ok {
			continue
		}
		picked[idx] = struct{}{}
		out = append(out, fmt.Sprintf("W%04d", idx+1))
	}
	return out
}

func (g *Generator) amount() float64 {
	cents := 1000_00 + g.rand.Intn(99_000_00)
	return float64(cents) / 100
}
