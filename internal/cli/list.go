package cli

import (
	"fmt"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
	"github.com/user/stow/internal/storage"
)

var (
	listLimit   int
	listOffset  int
	listOrderBy string
	listDesc    bool
	listWhere   []string
	listCached  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Long: `List records in the current stash with the state of their attachments.

WHERE clause format:
  field=value        Equals
  field!=value       Not equals
  field LIKE pattern Pattern match (use % for wildcard)

Examples:
  stow list
  stow list --limit 10 --order-by title --desc
  stow list --where "title LIKE %beach%"
  stow list --cached`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Limit results to N records (0 = no limit)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N records")
	listCmd.Flags().StringVar(&listOrderBy, "order-by", "", "Sort by field (default: _updated_at)")
	listCmd.Flags().BoolVar(&listDesc, "desc", false, "Sort descending")
	listCmd.Flags().StringArrayVar(&listWhere, "where", nil, "Filter by field value (can be repeated)")
	listCmd.Flags().BoolVar(&listCached, "cached", false, "Only records with an attachment still waiting for promotion")
	rootCmd.AddCommand(listCmd)
}

var likeClause = regexp.MustCompile(`(?i)^(\S+)\s+LIKE\s+(.+)$`)

func parseWhereClause(clause string) (storage.WhereCondition, error) {
	clause = strings.TrimSpace(clause)
	if m := likeClause.FindStringSubmatch(clause); len(m) == 3 {
		return storage.WhereCondition{Field: m[1], Operator: "LIKE", Value: stripQuotes(m[2])}, nil
	}
	for _, op := range []string{"!=", "<>", "="} {
		if idx := strings.Index(clause, op); idx > 0 {
			return storage.WhereCondition{
				Field:    strings.TrimSpace(clause[:idx]),
				Operator: op,
				Value:    stripQuotes(clause[idx+len(op):]),
			}, nil
		}
	}
	return storage.WhereCondition{}, usagef("invalid WHERE clause: %s (expected field=value, field!=value or field LIKE pattern)", clause)
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

type listItem struct {
	ID          string               `json:"id"`
	UpdatedAt   string               `json:"updated_at"`
	Fields      map[string]string    `json:"fields"`
	Attachments map[string]*fileView `json:"attachments"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return err
	}
	opts := storage.ListOptions{Limit: listLimit, Offset: listOffset, OrderBy: listOrderBy, Descending: listDesc}
	for _, clause := range listWhere {
		cond, err := parseWhereClause(clause)
		if err != nil {
			return err
		}
		opts.Where = append(opts.Where, cond)
	}
	records, err := s.store.ListRecords(ctx, stash.Name, opts)
	if err != nil {
		return err
	}

	attachments := stash.Columns.Attachments()
	items := make([]listItem, 0, len(records))
	for _, rec := range records {
		item := listItem{
			ID:          rec.ID,
			UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
			Fields:      map[string]string{},
			Attachments: map[string]*fileView{},
		}
		cached := false
		for _, name := range attachments {
			col := model.AttachmentColumn(name)
			var fv *fileView
			if v := rec.Get(col); v != "" {
				if f, err := model.ParseUploadedFile(v); err == nil {
					fv = viewFile(f)
					cached = cached || f.Storage == attacher.DefaultCache
				}
			}
			item.Attachments[name] = fv
			delete(rec.Fields, col)
		}
		if listCached && !cached {
			continue
		}
		for k, v := range rec.Fields {
			item.Fields[k] = v
		}
		items = append(items, item)
	}

	w := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(w, items)
	}
	if len(items) == 0 {
		if !IsQuiet() {
			fmt.Fprintln(w, "No records found")
		}
		return nil
	}

	textCols := filterOut(stash.Columns.Names(), attachments)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"ID"}, textCols...)
	header = append(header, attachments...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, item := range items {
		row := []string{item.ID}
		for _, c := range textCols {
			row = append(row, item.Fields[c])
		}
		for _, name := range attachments {
			row = append(row, listCell(item.Attachments[name]))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func listCell(f *fileView) string {
	if f == nil {
		return "-"
	}
	name := f.Filename
	if name == "" {
		name = f.ID
	}
	if f.Size >= 0 {
		name += " " + humanize.Bytes(uint64(f.Size))
	}
	return f.Storage + ":" + name
}

// filterOut returns the text columns, leaving out attachment columns.
func filterOut(cols, attachments []string) []string {
	skip := make(map[string]bool, len(attachments))
	for _, a := range attachments {
		skip[model.AttachmentColumn(a)] = true
	}
	var out []string
	for _, c := range cols {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}
