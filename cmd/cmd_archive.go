package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"extract-core/failure"
)

var archiveFlags struct {
	dir    string
	typ    string
	policy string
	prune  bool
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and resolve archived failures",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived failures",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

var archiveMarkFixedCmd = &cobra.Command{
	Use:   "mark-fixed <file>...",
	Short: "Resolve archived failures by filename or relative path",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runArchiveMarkFixed,
}

func init() {
	archiveCmd.PersistentFlags().StringVar(&archiveFlags.dir, "dir", "", "Archive directory (defaults to the configured one)")
	archiveListCmd.Flags().StringVar(&archiveFlags.typ, "type", "", "Only list this error type")
	f := archiveMarkFixedCmd.Flags()
	f.StringVar(&archiveFlags.policy, "policy", string(failure.FixRemove), "remove or flag")
	f.BoolVar(&archiveFlags.prune, "prune", false, "Remove the archive when nothing unfixed remains")

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveMarkFixedCmd)
}

func openArchive() (*failure.Archive, error) {
	dir := archiveFlags.dir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dir = cfg.ArchiveDir()
	}
	return failure.OpenArchive(dir, failure.ArchiveOptions{Logger: logger})
}

func runArchiveList(cmd *cobra.Command, _ []string) error {
	typ := failure.Type(archiveFlags.typ)
	if typ != "" && !typ.Known() {
		return fmt.Errorf("unknown error type %q", typ)
	}
	a, err := openArchive()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	entries := a.Entries(typ)
	if len(entries) == 0 {
		fmt.Fprintf(out, "No archived failures in %s\n", a.Root())
		return nil
	}
	for _, e := range entries {
		state := ""
		if e.Fixed {
			state = " (fixed)"
		}
		fmt.Fprintf(out, "%-18s %-10s %s%s\n  %s\n", e.Type, e.Stage, e.RelPath, state, e.Message)
	}
	m := a.Manifest()
	fmt.Fprintf(out, "\n%d unfixed of %d entries\n", m.Total, len(m.Entries))
	return nil
}

func runArchiveMarkFixed(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	res, err := a.MarkFixed(args, failure.FixPolicy(archiveFlags.policy), archiveFlags.prune)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range res.Matched {
		fmt.Fprintf(out, "fixed     %s\n", m)
	}
	for _, n := range res.NotFound {
		fmt.Fprintf(out, "not found %s\n", n)
	}
	if res.Pruned {
		fmt.Fprintf(out, "archive %s pruned\n", a.Root())
	}
	if len(res.NotFound) > 0 {
		return fmt.Errorf("%d of %d names not found in archive", len(res.NotFound), len(args))
	}
	return nil
}
