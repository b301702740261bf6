package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Jmemon/contextual-clarity-sub001/internal/catalog"
	"github.com/Jmemon/contextual-clarity-sub001/pkg/app"
)

func setsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Manage recall sets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recall sets with point and due counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			sets, err := rt.Catalog.ListSets(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), sets)
			}
			return printSets(cmd.OutOrStdout(), sets)
		},
	}
	list.Flags().Bool("json", false, "Print JSON")

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a recall set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			desc, _ := cmd.Flags().GetString("description")
			set, err := rt.Catalog.CreateSet(cmd.Context(), strings.Join(args, " "), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created set %q (%s)\n", set.Name, set.ID)
			return nil
		},
	}
	create.Flags().StringP("description", "d", "", "Set description")

	cmd.AddCommand(list, create)
	return cmd
}

func pointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Author recall points",
	}

	add := &cobra.Command{
		Use:   "add <set> <content>",
		Short: "Add a point to a set; it is due immediately",
		Long:  "Add a point to a set. <set> is an id or a name. Content can follow as arguments or be piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			if content == "" {
				b, err := readPiped(cmd.InOrStdin())
				if err != nil {
					return err
				}
				content = b
			}

			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			set, err := rt.Catalog.FindSet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pointContext, _ := cmd.Flags().GetString("context")
			p, err := rt.Catalog.AddPoint(cmd.Context(), set.ID, content, pointContext)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added point %s to %q\n", p.ID, set.Name)
			return nil
		},
	}
	add.Flags().String("context", "", "Background the tutor may use")

	imp := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import a set and its points from YAML",
		Long: "Import a set and its points from YAML. Points join the set with the same name, " +
			"which is created when missing. Use - to read stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			set, n, err := rt.Catalog.Import(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d points into %q (%s)\n", n, set.Name, set.ID)
			return nil
		},
	}

	cmd.AddCommand(add, imp)
	return cmd
}

func dueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due [set]",
		Short: "Show due counts, or the due points of one set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, app.BuildOptions{SkipProviders: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sets, err := rt.Catalog.ListSets(cmd.Context())
				if err != nil {
					return err
				}
				return printSets(out, sets)
			}

			set, err := rt.Catalog.FindSet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			points, err := rt.Catalog.DuePoints(cmd.Context(), set.ID)
			if err != nil {
				return err
			}
			if len(points) == 0 {
				fmt.Fprintf(out, "nothing due in %q\n", set.Name)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDUE\tPHASE\tCONTENT")
			for _, p := range points {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.State.Due.Local().Format("2006-01-02 15:04"), p.State.Phase, truncate(p.Content, 60))
			}
			return tw.Flush()
		},
	}
}

func printSets(w io.Writer, sets []catalog.SetSummary) error {
	if len(sets) == 0 {
		fmt.Fprintln(w, "no recall sets; create one with `clarity sets create` or `clarity points import`")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPOINTS\tDUE")
	for _, s := range sets {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.ID, s.Name, s.Points, s.Due)
	}
	return tw.Flush()
}

func readPiped(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("content is required (argument or stdin)")
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
