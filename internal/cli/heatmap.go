package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/heatmap"
	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/service/dashboard"
)

func newHeatmapCommand() *cobra.Command {
	var bp bool
	cmd := &cobra.Command{
		Use:   "heatmap [domain]",
		Short: "Show a domain's scored heatmap",
		Long: `Fetch the latest scored results for a domain and render them as a
check-by-scenario matrix, grouped by check category.

Each cell shows the specialist result, followed by the mcpc result for
domains that have both variants. Without a domain, the available domains
are listed.

With --bp, the static best-practice linter matrix is shown instead: one
row per check, one column per skill.`,
		Example: `  skillcheckctl heatmap
  skillcheckctl heatmap web
  skillcheckctl heatmap web -o yaml
  skillcheckctl heatmap --bp`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFrom(cmd)
			if err != nil {
				return err
			}
			dash, err := env.dashboard()
			if err != nil {
				return err
			}
			if bp {
				if len(args) > 0 {
					return fmt.Errorf("heatmap: --bp takes no domain")
				}
				v, err := dash.BPMatrix(cmd.Context())
				if err != nil {
					return fmt.Errorf("heatmap --bp: %w", err)
				}
				return env.Renderer.Emit(v, func() error {
					env.Renderer.renderBP(v)
					return nil
				})
			}
			if len(args) == 0 {
				domains, err := dash.Domains(cmd.Context())
				if err != nil {
					return err
				}
				return env.Renderer.Emit(domains, func() error {
					env.Renderer.renderDomains(domains)
					return nil
				})
			}

			hm, err := dash.DomainHeatmap(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("heatmap %s: %w", args[0], err)
			}
			return env.Renderer.Emit(hm, func() error {
				env.Renderer.renderHeatmap(hm)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&bp, "bp", false, "show the best-practice linter matrix")
	return cmd
}

func (r *Renderer) renderDomains(domains []model.Domain) {
	t := r.NewTable()
	t.AppendHeader(table.Row{"Domain", "Specialist", "Scenarios", "Variants"})
	for _, d := range domains {
		variants := "specialist, mcpc"
		if d.IsDev {
			variants = "specialist"
		}
		t.AppendRow(table.Row{d.ID, d.Specialist, d.ScenarioCount, variants})
	}
	t.Render()
}

func (r *Renderer) renderHeatmap(hm dashboard.DomainHeatmap) {
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render(fmt.Sprintf("%s (%s)", hm.Domain, hm.Specialist)))

	t := r.NewTable()
	header := table.Row{"Check", "Severity"}
	for _, s := range hm.Scenarios {
		for _, m := range hm.Models {
			header = append(header, s.ID+"\n"+m)
		}
	}
	t.AppendHeader(header)

	for _, g := range hm.Groups {
		t.AppendRow(table.Row{r.styles.Header.Render(g.Name)})
		for _, row := range g.Rows {
			cells := table.Row{row.Check.ID, row.Check.Severity}
			for _, perModel := range row.Cells {
				for _, c := range perModel {
					cells = append(cells, r.displayCell(c, hm.SingleVariant))
				}
			}
			t.AppendRow(cells)
		}
		t.AppendSeparator()
	}
	t.Render()

	s := hm.Summary
	_, _ = fmt.Fprintf(r.out, "pass %.1f%%  (pass %d, fail %d, unclear %d, na %d)\n",
		hm.PassPct, s.Pass, s.Fail, s.Unclear, s.NA)
	for i, gap := range hm.TopGaps {
		_, _ = fmt.Fprintf(r.out, "gap %d: %s %s [%s]\n", i+1, gap.CheckID, gap.Name, gap.Severity)
	}
	if hm.Dropped > 0 {
		r.Noticef("%d result cells fell outside the domain's axes and were ignored", hm.Dropped)
	}
}

func (r *Renderer) renderBP(v heatmap.BPView) {
	t := r.NewTable()
	header := table.Row{"Check", "Name", "Severity"}
	for _, s := range v.Skills {
		header = append(header, strings.TrimPrefix(s, "apify-"))
	}
	t.AppendHeader(header)
	for _, row := range v.Rows {
		cells := table.Row{row.Check.ID, row.Check.Name, row.Check.Severity}
		for _, c := range row.Cells {
			cells = append(cells, r.Result(c.Result))
		}
		t.AppendRow(cells)
	}
	t.Render()

	s := v.Summary
	_, _ = fmt.Fprintf(r.out, "pass %.1f%%  (pass %d, fail %d, error %d, na %d)\n",
		v.PassPct, s.Pass, s.Fail, v.Errors, s.NA-v.Errors)
	if v.Dropped > 0 {
		r.Noticef("%d linter cells named skills outside the manifest and were ignored", v.Dropped)
	}
}

func (r *Renderer) displayCell(c heatmap.DisplayCell, singleVariant bool) string {
	if singleVariant {
		return r.Result(c.Specialist)
	}
	return r.Result(c.Specialist) + " / " + r.Result(c.MCPC)
}
