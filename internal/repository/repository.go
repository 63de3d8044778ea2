package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/amlwatch/internal/domain"
	"github.com/vanshika/amlwatch/internal/graph"
)

// ErrNotFound indicates the requested flagged transaction has no stored projection.
var ErrNotFound = errors.New("flagged transaction not found")

// ListFlaggedOptions defines filters and pagination for flagged listing.
type ListFlaggedOptions struct {
	Offset    int
	Limit     int
	Rule      string
	Account   string
	SortField string
	SortOrder string
}

// Repository persists flagged-transaction graph projections.
type Repository struct {
	client graph.Client
	now    func() time.Time
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client, now: time.Now}
}

// Ping verifies the graph store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.VerifyConnectivity(ctx)
}

// UpsertFlagged stores a flagged transaction and replaces its graph projection.
func (r *Repository) UpsertFlagged(ctx context.Context, f domain.FlaggedTransaction, g domain.Graph) error {
	if f.ID == "" {
		return errors.New("flagged transaction id is required")
	}

	params := map[string]any{
		"flaggedId": f.ID,
		"props":     flaggedProperties(f, r.now()),
		"nodes":     nodeParams(g.Nodes),
		"edges":     edgeParams(g.Edges),
	}

	if _, err := r.client.ExecuteWrite(ctx, upsertFlaggedCypher, params); err != nil {
		return fmt.Errorf("upsert flagged %s: %w", f.ID, err)
	}
	return nil
}

// ListFlagged returns paginated flagged projections matching provided filters.
func (r *Repository) ListFlagged(ctx context.Context, opts ListFlaggedOptions) (domain.FlaggedListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	params := map[string]any{
		"rule":    strings.ToLower(strings.TrimSpace(opts.Rule)),
		"account": strings.TrimSpace(opts.Account),
		"skip":    offset,
		"limit":   limit,
	}

	query := fmt.Sprintf(listFlaggedCypherTemplate, flaggedFilterClause, flaggedOrderClause(opts.SortField, opts.SortOrder))
	res, err := r.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return domain.FlaggedListResult{}, fmt.Errorf("list flagged query: %w", err)
	}

	items := make([]domain.FlaggedSummary, 0, len(res.Records))
	for _, record := range res.Records {
		items = append(items, summaryFromRecord(record))
	}

	countQuery := fmt.Sprintf(countFlaggedCypherTemplate, flaggedFilterClause)
	countRes, err := r.client.ExecuteRead(ctx, countQuery, params)
	if err != nil {
		return domain.FlaggedListResult{}, fmt.Errorf("count flagged query: %w", err)
	}

	var total int64
	if len(countRes.Records) > 0 {
		total = toInt64(countRes.Records[0]["total"])
	}

	return domain.FlaggedListResult{Items: items, Total: total}, nil
}

// FetchFlaggedGraph loads the stored graph of a flagged transaction.
func (r *Repository) FetchFlaggedGraph(ctx context.Context, id string) (domain.Graph, error) {
	res, err := r.client.ExecuteRead(ctx, flaggedGraphCypher, map[string]any{"flaggedId": id})
	if err != nil {
		return domain.Graph{}, fmt.Errorf("fetch flagged graph %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return domain.Graph{}, ErrNotFound
	}

	record := res.Records[0]
	g := domain.Graph{Nodes: []domain.Node{}, Edges: []domain.Edge{}}
	for _, raw := range toSlice(record["nodes"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		g.Nodes = append(g.Nodes, domain.Node{
			ID:    toString(m["id"]),
			Color: domain.Color(toString(m["color"])),
		})
	}
	for _, raw := range toSlice(record["edges"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		g.Edges = append(g.Edges, domain.Edge{
			Source: toString(m["source"]),
			Target: toString(m["target"]),
		})
	}
	return g, nil
}

// FlaggedForAccount lists the flagged transactions an account appears in, newest first.
func (r *Repository) FlaggedForAccount(ctx context.Context, accountID string) ([]domain.AccountFlag, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errors.New("account id is required")
	}

	res, err := r.client.ExecuteRead(ctx, accountFlaggedCypher, map[string]any{"accountId": accountID})
	if err != nil {
		return nil, fmt.Errorf("account flagged query %s: %w", accountID, err)
	}

	flags := make([]domain.AccountFlag, 0, len(res.Records))
	for _, record := range res.Records {
		flags = append(flags, domain.AccountFlag{
			Flagged: summaryFromRecord(record),
			Color:   domain.Color(toString(record["color"])),
		})
	}
	return flags, nil
}

func summaryFromRecord(record graph.Record) domain.FlaggedSummary {
	return domain.FlaggedSummary{
		ID:         toString(record["flaggedId"]),
		Sender:     toString(record["sender"]),
		Receiver:   toString(record["receiver"]),
		Amount:     toDecimal(record["amount"]),
		Rules:      toStrings(record["rules"]),
		PathLength: int(toInt64(record["pathLength"])),
		FlaggedAt:  toString(record["flaggedAt"]),
	}
}

func flaggedProperties(f domain.FlaggedTransaction, now time.Time) map[string]any {
	amount, _ := f.Tx.Amount.Float64()
	return map[string]any{
		"sender":      f.Tx.Sender,
		"receiver":    f.Tx.Receiver,
		"amount":      f.Tx.Amount.String(),
		"amountValue": amount,
		"totalAmount": f.Tx.TotalAmount.String(),
		"rules":       nonNil(f.Rules),
		"riskLevels":  nonNil(f.RiskLevels),
		"flaggedAt":   f.FlaggedAt,
		"pathLength":  len(f.Tx.HopPath()),
		"layers":      f.Tx.Layering.Layers,
		"clustered":   len(f.Tx.LinkedMembers) > 0,
		"raw":         f.Raw,
		"syncedAt":    now.UTC().Format(time.RFC3339Nano),
	}
}

func nodeParams(nodes []domain.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for i, n := range nodes {
		out = append(out, map[string]any{
			"id":       n.ID,
			"color":    string(n.Color),
			"position": i,
		})
	}
	return out
}

func edgeParams(edges []domain.Edge) []map[string]any {
	out := make([]map[string]any, 0, len(edges))
	for i, e := range edges {
		out = append(out, map[string]any{
			"source": e.Source,
			"target": e.Target,
			"seq":    i,
		})
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toDecimal(val any) decimal.Decimal {
	switch v := val.(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}

func toSlice(val any) []any {
	if v, ok := val.([]any); ok {
		return v
	}
	return nil
}

func toStrings(val any) []string {
	switch v := val.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

const upsertFlaggedCypher = `
MERGE (f:FlaggedTransaction {flaggedId: $flaggedId})
SET f += $props
WITH f
OPTIONAL MATCH ()-[oldHop:HOP {flaggedId: $flaggedId}]->()
DELETE oldHop
WITH DISTINCT f
OPTIONAL MATCH (f)-[oldInv:INVOLVES]->(:Account)
DELETE oldInv
WITH DISTINCT f
FOREACH (node IN $nodes |
  MERGE (a:Account {accountId: node.id})
  MERGE (f)-[inv:INVOLVES]->(a)
  SET inv.color = node.color, inv.position = node.position
)
FOREACH (edge IN $edges |
  MERGE (s:Account {accountId: edge.source})
  MERGE (t:Account {accountId: edge.target})
  MERGE (s)-[:HOP {flaggedId: $flaggedId, seq: edge.seq}]->(t)
)
`

const listFlaggedCypherTemplate = `
MATCH (f:FlaggedTransaction)
%s
RETURN f.flaggedId AS flaggedId,
       f.sender AS sender,
       f.receiver AS receiver,
       f.amount AS amount,
       f.rules AS rules,
       f.pathLength AS pathLength,
       f.flaggedAt AS flaggedAt
ORDER BY %s
SKIP $skip
LIMIT $limit
`

const countFlaggedCypherTemplate = `
MATCH (f:FlaggedTransaction)
%s
RETURN count(f) AS total
`

const flaggedFilterClause = `
WHERE ($rule = "" OR any(rule IN coalesce(f.rules, []) WHERE toLower(rule) CONTAINS $rule))
  AND ($account = "" OR EXISTS { MATCH (f)-[:INVOLVES]->(:Account {accountId: $account}) })
`

const flaggedGraphCypher = `
MATCH (f:FlaggedTransaction {flaggedId: $flaggedId})
OPTIONAL MATCH (f)-[inv:INVOLVES]->(a:Account)
WITH f, inv, a
ORDER BY inv.position
WITH f, collect(CASE WHEN a IS NULL THEN NULL ELSE {id: a.accountId, color: inv.color} END) AS nodes
OPTIONAL MATCH (s:Account)-[h:HOP {flaggedId: $flaggedId}]->(t:Account)
WITH nodes, h, s, t
ORDER BY h.seq
RETURN nodes,
       collect(CASE WHEN h IS NULL THEN NULL ELSE {source: s.accountId, target: t.accountId} END) AS edges
`

const accountFlaggedCypher = `
MATCH (:Account {accountId: $accountId})<-[inv:INVOLVES]-(f:FlaggedTransaction)
RETURN f.flaggedId AS flaggedId,
       f.sender AS sender,
       f.receiver AS receiver,
       f.amount AS amount,
       f.rules AS rules,
       f.pathLength AS pathLength,
       f.flaggedAt AS flaggedAt,
       inv.color AS color
ORDER BY f.flaggedAt DESC
`

func flaggedOrderClause(field, order string) string {
	dir := "DESC"
	if strings.EqualFold(order, "ASC") {
		dir = "ASC"
	}
	switch strings.ToLower(field) {
	case "amount":
		return fmt.Sprintf("coalesce(f.amountValue, 0.0) %s", dir)
	case "pathlength":
		return fmt.Sprintf("coalesce(f.pathLength, 0) %s", dir)
	case "sender":
		return fmt.Sprintf("f.sender %s", dir)
	default:
		return fmt.Sprintf("f.flaggedAt %s", dir)
	}
}
