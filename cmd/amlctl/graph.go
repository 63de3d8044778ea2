package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanshika/amlwatch/internal/record"
	"github.com/vanshika/amlwatch/internal/txgraph"
)

type graphOutput struct {
	Kind  string      `json:"kind"`
	Nodes []graphNode `json:"nodes"`
	Edges []graphEdge `json:"edges"`
}

type graphNode struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

type graphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func newGraphCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build the graph of one ledger or auditor record (stdin by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open record: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runGraph(in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the record from this file instead of stdin")
	return cmd
}

func runGraph(in io.Reader, out io.Writer) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}

	kind := txgraph.KindEmpty
	g := txgraph.BuildRecord(nil)
	if tx, ok := record.DecodeTransaction(raw); ok {
		g, kind = txgraph.Describe(tx)
	}

	res := graphOutput{Kind: string(kind), Nodes: []graphNode{}, Edges: []graphEdge{}}
	for _, n := range g.Nodes {
		res.Nodes = append(res.Nodes, graphNode{ID: n.ID, Color: string(n.Color)})
	}
	for _, e := range g.Edges {
		res.Edges = append(res.Edges, graphEdge{Source: e.Source, Target: e.Target})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
