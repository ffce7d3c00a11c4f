package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marginalia/api/internal/auth"
	"marginalia/api/internal/config"
	"marginalia/api/internal/query"
	"marginalia/api/internal/store"
	"marginalia/api/internal/thread"
	"marginalia/api/internal/viewport"
)

type buildFlags struct {
	query     string
	sort      string
	focusPath string
	selected  []string
	forced    []string
	now       string
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "filter query, e.g. 'tag:review user:alice'")
	cmd.Flags().StringVar(&f.sort, "sort", "Newest", "top-level order: Newest, Oldest or Location")
	cmd.Flags().StringVar(&f.focusPath, "focus", "", "YAML focus descriptor layered beneath the query")
	cmd.Flags().StringSliceVar(&f.selected, "select", nil, "restrict the top level to these thread ids")
	cmd.Flags().StringSliceVar(&f.forced, "force", nil, "keep these ids visible regardless of the filter")
	cmd.Flags().StringVar(&f.now, "now", "", "RFC 3339 time that since: terms count back from")
}

func (f *buildFlags) options() (thread.Options, error) {
	key, err := thread.ParseSortKey(f.sort)
	if err != nil {
		return thread.Options{}, err
	}
	spec := query.Parse(f.query)
	focus, err := config.LoadFocus(f.focusPath)
	if err != nil {
		return thread.Options{}, err
	}
	if focus.Configured() {
		spec = spec.WithFocusUser(focus.User.Value)
	}
	now := time.Now()
	if f.now != "" {
		if now, err = time.Parse(time.RFC3339, f.now); err != nil {
			return thread.Options{}, fmt.Errorf("parse --now: %w", err)
		}
	}
	return thread.Options{
		Filter:        spec,
		Now:           now,
		Selected:      f.selected,
		ForcedVisible: f.forced,
		Sort:          key,
		Diagnostics:   thread.NewDiagnostics(nil),
	}, nil
}

func newRenderCmd() *cobra.Command {
	var flags buildFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "render [file|-]",
		Short: "Print the thread tree for an annotation export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := readAnnotations(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			tree := thread.Build(annotations, opts)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), tree.Views())
			}
			renderTree(cmd.OutOrStdout(), tree)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print nested JSON instead of text")
	return cmd
}

func newWindowCmd() *cobra.Command {
	var flags buildFlags
	var scrollTop, viewportHeight float64
	dims := viewport.DefaultDimensions()
	cmd := &cobra.Command{
		Use:   "window [file|-]",
		Short: "Show which top-level threads a viewport would render",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			annotations, err := readAnnotations(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			views := thread.Build(annotations, opts).Views()
			w := viewport.Calculate(views, func(v thread.View) string { return v.ID }, nil, scrollTop, viewportHeight, dims)
			ids := make([]string, 0, len(w.Visible))
			for _, v := range w.Visible {
				ids = append(ids, v.ID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "upper spacer: %.0f\n", w.OffscreenUpperHeight)
			fmt.Fprintf(out, "visible: %s\n", strings.Join(ids, ", "))
			fmt.Fprintf(out, "lower spacer: %.0f\n", w.OffscreenLowerHeight)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&scrollTop, "scroll", 0, "scroll offset in pixels")
	cmd.Flags().Float64Var(&viewportHeight, "viewport", 800, "viewport height in pixels")
	cmd.Flags().Float64Var(&dims.DefaultHeight, "thread-height", dims.DefaultHeight, "estimated height of a thread")
	cmd.Flags().Float64Var(&dims.MarginAbove, "margin-above", dims.MarginAbove, "extra pixels rendered above the viewport")
	cmd.Flags().Float64Var(&dims.MarginBelow, "margin-below", dims.MarginBelow, "extra pixels rendered below the viewport")
	return cmd
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [query]",
		Short: "Print the faceted form of a filter query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := query.Parse(args[0])
			out := make(map[query.Facet]query.Field)
			for facet, field := range spec {
				if len(field.Terms) > 0 {
					out[facet] = field
				}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		name   string
		groups []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Issue a bearer token for the annotation API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("MARGINALIA_TOKEN_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("a secret is required (--secret or MARGINALIA_TOKEN_SECRET)")
			}
			token, err := auth.IssueToken([]byte(secret), args[0], name, groups, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret shared with the API")
	cmd.Flags().StringVar(&name, "name", "", "display name stamped onto saved annotations")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "groups the caller may focus; empty allows all")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func readAnnotations(stdin io.Reader, path string) ([]store.Annotation, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open export: %w", err)
		}
		defer f.Close()
		r = f
	}
	var annotations []store.Annotation
	if err := json.NewDecoder(r).Decode(&annotations); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return annotations, nil
}

func renderTree(w io.Writer, tree *thread.Tree) {
	tree.Walk(func(h thread.Handle, n thread.Node) bool {
		if !n.Visible && tree.CountVisible(h) == 0 {
			return false
		}
		indent := strings.Repeat("  ", n.Depth)
		marker := "-"
		if n.Collapsed && len(n.Children) > 0 {
			marker = "+"
		}
		switch {
		case n.IsPlaceholder():
			fmt.Fprintf(w, "%s%s [missing %s]\n", indent, marker, n.ID)
		case !n.Visible:
			fmt.Fprintf(w, "%s%s (%s hidden)\n", indent, marker, n.ID)
		default:
			fmt.Fprintf(w, "%s%s %s %s: %s\n", indent, marker, n.ID, n.Annotation.User, firstLine(n.Annotation.Text))
		}
		return true
	})
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
