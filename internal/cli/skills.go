package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/model"
)

func newSkillsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skills [skill]",
		Short: "Show per-skill health from the latest scored results",
		Example: `  skillcheckctl skills
  skillcheckctl skills web-researcher -o json`,
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

			if len(args) == 1 {
				h, err := dash.Skill(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return env.Renderer.Emit(h, func() error {
					env.Renderer.renderSkills([]model.SkillHealth{h})
					for i, gap := range h.TopGaps {
						_, _ = fmt.Fprintf(env.Renderer.Writer(), "gap %d: %s %s [%s]\n", i+1, gap.CheckID, gap.Name, gap.Severity)
					}
					return nil
				})
			}

			all, err := dash.SkillHealth(cmd.Context())
			if err != nil {
				return err
			}
			return env.Renderer.Emit(all, func() error {
				env.Renderer.renderSkills(all)
				return nil
			})
		},
	}
}

func (r *Renderer) renderSkills(skills []model.SkillHealth) {
	t := r.NewTable()
	t.AppendHeader(table.Row{"Skill", "Domain", "Pass %", "Pass", "Fail", "Unclear", "NA", "Top gap"})
	for _, h := range skills {
		gap := ""
		if len(h.TopGaps) > 0 {
			gap = h.TopGaps[0].CheckID
		}
		t.AppendRow(table.Row{
			h.Skill, h.Domain, fmt.Sprintf("%.1f", h.PassPct),
			h.PassCount, r.failCount(h.FailCount), h.UnclearCount, h.NACount, gap,
		})
	}
	t.Render()
}

func (r *Renderer) failCount(n int) string {
	if n == 0 {
		return "0"
	}
	return r.styles.Fail.Render(fmt.Sprint(n))
}
