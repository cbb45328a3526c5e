// trv-statsdb is a maintenance and inspection tool for the hub database.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentrv/trv-hub/internal/stats"
	"github.com/opentrv/trv-hub/internal/storage"
)

var (
	dbPath string

	rootCmd = &cobra.Command{
		Use:   "trv-statsdb",
		Short: "TRV hub database tool",
		Long:  "Inspect and maintain the hub's SQLite database: node associations, by-hour statistics and the frame log.",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/trvhub/hub.db", "Database file path")

	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(associateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(hubIDCmd)

	framesCmd.Flags().IntVarP(&framesLimit, "limit", "n", 20, "Maximum number of frames to show")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 7, "Delete frame log entries older than this many days")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*storage.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s", dbPath)
	}
	return storage.Open(dbPath)
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List associated nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		nodes, err := db.GetAllNodes()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRX COUNTER\tLAST SEEN")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				n.IDHex, n.Name, hex.EncodeToString(n.RXCounter),
				n.LastSeen.Format("2006-01-02 15:04:05"))
		}
		w.Flush()

		fmt.Printf("\n%d node(s)\n", len(nodes))
		return nil
	},
}

var associateCmd = &cobra.Command{
	Use:   "associate <node-id-hex> [name]",
	Short: "Associate a node (or rename an existing one)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := storage.ParseNodeID(args[0])
		if err != nil {
			return err
		}
		name := ""
		if len(args) > 1 {
			name = args[1]
		}

		db, err := storage.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.AssociateNode(id, name); err != nil {
			return err
		}
		fmt.Printf("Associated node %x\n", id)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persisted by-hour statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		slots, err := db.GetStatSlots()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SET\tHOUR\tVALUE\tUPDATED")
		for _, s := range slots {
			value := fmt.Sprintf("%d", s.Value)
			if s.Value == stats.Unset {
				value = "unset"
			}
			fmt.Fprintf(w, "%s\t%02d\t%s\t%s\n",
				stats.SetID(s.SetID), s.Hour, value,
				s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
		return nil
	},
}

var framesLimit int

var framesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Show recently received frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		recs, err := db.GetRecentFrames(framesLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNODE\tSEQ\tSECURE\tBODY\tSTATS\tRECEIVED")
		for _, r := range recs {
			secure := "no"
			if r.Secure {
				secure = "yes"
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%s\t%s\n",
				r.ID, r.NodeIDHex, r.Seq, secure, r.BodyLen, r.StatsJSON,
				r.ReceivedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
		return nil
	},
}

var pruneDays int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old frame log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		cutoff := time.Now().AddDate(0, 0, -pruneDays)
		n, err := db.PruneFrameLog(cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d frame log entries older than %s\n", n, cutoff.Format("2006-01-02"))
		return nil
	},
}

var hubIDCmd = &cobra.Command{
	Use:   "hub-id",
	Short: "Show the hub's persistent ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.HubID()
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}
