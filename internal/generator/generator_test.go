package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/amlwatch/internal/record"
	"github.com/vanshika/amlwatch/internal/txgraph"
)

func encodeAll(t *testing.T, records []Record) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := Config{NumRecords: 40, Seed: 7}
	a, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	b, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, encodeAll(t, a), encodeAll(t, b))
}

func TestGeneratedRecordsBuildGraphs(t *testing.T) {
	records, err := New(Config{NumRecords: 300, Seed: 11, MaxHops: 6}).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 300)

	kinds := map[txgraph.Kind]int{}
	for _, raw := range encodeAll(t, records) {
		flagged, ok := record.Decode(raw)
		require.True(t, ok)
		g, kind := txgraph.Describe(flagged.Tx)
		kinds[kind]++

		if kind == txgraph.KindEmpty {
			assert.NotEmpty(t, flagged.Raw, "only raw on-chain strings should have nothing to draw")
			continue
		}
		assert.NotEmpty(t, flagged.Rules)
		assert.LessOrEqual(t, len(g.Nodes), 7)
		for _, e := range g.Edges {
			assert.NotEqual(t, e.Source, e.Target)
		}
	}
	assert.Positive(t, kinds[txgraph.KindPath])
	assert.Positive(t, kinds[txgraph.KindCluster])
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{NumRecords: 10, Seed: 1}).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClampsWalletPool(t *testing.T) {
	g := New(Config{NumWallets: 2, MaxHops: 9, Seed: 3})
	assert.GreaterOrEqual(t, g.cfg.NumWallets, 9)
}

func TestWriteRecords(t *testing.T) {
	records, err := New(Config{NumRecords: 5, Seed: 5}).Generate(context.Background())
	require.NoError(t, err)

	path, err := WriteRecords(records, filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 5)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, records))
	assert.JSONEq(t, string(data), buf.String())
}
