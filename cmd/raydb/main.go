// Package main provides the RayDB CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raydb/raydb/pkg/config"
	"github.com/raydb/raydb/pkg/raydb"
	"github.com/raydb/raydb/pkg/wal"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "raydb",
		Short: "RayDB - embeddable graph storage engine",
		Long: `RayDB is an embeddable graph database storage engine written in Go:
a CSR snapshot image, a delta overlay for uncompacted writes, a
write-ahead log, a checkpoint compactor, and an MVCC core, all behind a
single-process embedding surface.

This CLI covers the engine's own operational surface: opening a database,
checking its structural integrity, forcing a checkpoint, reporting its
counters, and inspecting a raw WAL segment. It is not a server and does not
speak any query language.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("raydb v%s (%s)\n", version, commit)
		},
	})

	checkCmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Run a structural consistency pass over a database",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
	checkCmd.Flags().String("backend", "native", "Storage backend: native or badger")
	rootCmd.AddCommand(checkCmd)

	statsCmd := &cobra.Command{
		Use:   "stats [path]",
		Short: "Print the engine's size and fill counters",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	statsCmd.Flags().String("backend", "native", "Storage backend: native or badger")
	rootCmd.AddCommand(statsCmd)

	optimizeCmd := &cobra.Command{
		Use:   "optimize [path]",
		Short: "Force an immediate checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runOptimize,
	}
	optimizeCmd.Flags().String("backend", "native", "Storage backend: native or badger")
	rootCmd.AddCommand(optimizeCmd)

	walCmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect write-ahead log segments",
	}
	walDumpCmd := &cobra.Command{
		Use:   "dump [segment-file]",
		Short: "Decode and print the records in a WAL segment",
		Args:  cobra.ExactArgs(1),
		RunE:  runWALDump,
	}
	walCmd.AddCommand(walDumpCmd)
	rootCmd.AddCommand(walCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, dataDir string) *config.Config {
	cfg := config.LoadFromEnv()
	if backend, err := cmd.Flags().GetString("backend"); err == nil && backend != "" {
		cfg.Backend = backend
	}
	cfg.DataDir = dataDir
	cfg.CreateIfMissing = false
	return cfg
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd, args[0])
	e, err := raydb.Open(args[0], cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	res, err := e.Check()
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("error: %s\n", e)
	}
	if res.Valid {
		fmt.Println("ok")
		return nil
	}
	return fmt.Errorf("%d error(s) found", len(res.Errors))
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd, args[0])
	e, err := raydb.Open(args[0], cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	st, err := e.Stats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	fmt.Printf("generation:        %d\n", st.SnapshotGen)
	fmt.Printf("nodes:             %d\n", st.SnapshotNodes)
	fmt.Printf("edges:             %d\n", st.SnapshotEdges)
	fmt.Printf("max node id:       %d\n", st.SnapshotMaxNodeID)
	fmt.Printf("delta nodes +/-:   %d/%d\n", st.DeltaNodesCreated, st.DeltaNodesDeleted)
	fmt.Printf("delta edges +/-:   %d/%d\n", st.DeltaEdgesAdded, st.DeltaEdgesDeleted)
	fmt.Printf("wal bytes:         %s\n", config.FormatMemorySize(int64(st.WALBytes)))
	fmt.Printf("recommend compact: %v\n", st.RecommendCompact)
	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd, args[0])
	e, err := raydb.Open(args[0], cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	if err := e.Optimize(); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	fmt.Println("checkpoint complete")
	return nil
}

// runWALDump decodes a single WAL segment file directly, bypassing the
// container layer entirely — it is meant for inspecting a
// wal/wal_<segid>.gdw file (or any raw segment with the 96-byte header
// pkg/wal.Create writes) after a crash, not for driving a live engine.
func runWALDump(cmd *cobra.Command, args []string) error {
	res, err := wal.Recover(args[0])
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	for _, grp := range res.Committed {
		fmt.Printf("tx %d (%d record(s)):\n", grp.TxID, len(grp.Records))
		for _, rec := range grp.Records {
			fmt.Printf("  %-20s payload=%d byte(s)\n", recordTypeName(rec.Type), len(rec.Payload))
		}
	}
	fmt.Printf("valid length: %d byte(s)\n", res.ValidLength)
	if res.Truncated {
		fmt.Println("truncated: yes (CRC mismatch or short tail past this point)")
	}
	return nil
}

func recordTypeName(t wal.RecordType) string {
	switch t {
	case wal.TypeBegin:
		return "BEGIN"
	case wal.TypeCommit:
		return "COMMIT"
	case wal.TypeRollback:
		return "ROLLBACK"
	case wal.TypeCreateNode:
		return "CREATE_NODE"
	case wal.TypeDeleteNode:
		return "DELETE_NODE"
	case wal.TypeAddEdge:
		return "ADD_EDGE"
	case wal.TypeDeleteEdge:
		return "DELETE_EDGE"
	case wal.TypeDefineLabel:
		return "DEFINE_LABEL"
	case wal.TypeAddNodeLabel:
		return "ADD_NODE_LABEL"
	case wal.TypeRemoveNodeLabel:
		return "REMOVE_NODE_LABEL"
	case wal.TypeDefineEtype:
		return "DEFINE_ETYPE"
	case wal.TypeDefinePropkey:
		return "DEFINE_PROPKEY"
	case wal.TypeSetNodeProp:
		return "SET_NODE_PROP"
	case wal.TypeDelNodeProp:
		return "DEL_NODE_PROP"
	case wal.TypeSetEdgeProp:
		return "SET_EDGE_PROP"
	case wal.TypeDelEdgeProp:
		return "DEL_EDGE_PROP"
	default:
		return fmt.Sprintf("TYPE(%d)", t)
	}
}
