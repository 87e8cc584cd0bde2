package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/skillcheck/internal/model"
)

// Format selects how command results are written.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Styles colours result values in table output. Colours are dropped when
// the writer is not a terminal.
type Styles struct {
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Unclear lipgloss.Style
	Muted   lipgloss.Style
	Running lipgloss.Style
	Header  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Pass:    r.NewStyle().Foreground(lipgloss.Color("42")),
		Fail:    r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Unclear: r.NewStyle().Foreground(lipgloss.Color("214")),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("245")),
		Running: r.NewStyle().Foreground(lipgloss.Color("39")),
		Header:  r.NewStyle().Bold(true),
	}
}

// Renderer writes results in the selected format. Progress and notices go
// to the error stream so stdout stays machine-readable.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	format Format
	styles Styles
}

// NewRenderer creates a Renderer.
func NewRenderer(out, errOut io.Writer, format Format) *Renderer {
	return &Renderer{
		out:    out,
		errOut: errOut,
		format: format,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

func (r *Renderer) Format() Format    { return r.format }
func (r *Renderer) Writer() io.Writer { return r.out }
func (r *Renderer) Styles() Styles    { return r.styles }

// Emit writes v as JSON or YAML, or calls tableFn in table mode.
func (r *Renderer) Emit(v any, tableFn func() error) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		return writeYAML(r.out, v)
	default:
		return tableFn()
	}
}

// Noticef writes a status line to the error stream.
func (r *Renderer) Noticef(format string, args ...any) {
	_, _ = fmt.Fprintf(r.errOut, format+"\n", args...)
}

// NewTable returns a table writer mirrored to the output.
func (r *Renderer) NewTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	return t
}

// Result colours a judged result value.
func (r *Renderer) Result(v model.ResultValue) string {
	switch v {
	case model.ResultPass:
		return r.styles.Pass.Render(string(v))
	case model.ResultFail:
		return r.styles.Fail.Render(string(v))
	case model.ResultUnclear, model.ResultError:
		return r.styles.Unclear.Render(string(v))
	default:
		return r.styles.Muted.Render(string(v))
	}
}

// Status colours a task status.
func (r *Renderer) Status(s model.TaskStatus) string {
	switch s {
	case model.TaskOK:
		return r.styles.Pass.Render(string(s))
	case model.TaskError:
		return r.styles.Fail.Render(string(s))
	case model.TaskRunning:
		return r.styles.Running.Render(string(s))
	default:
		return r.styles.Muted.Render(string(s))
	}
}

// writeYAML encodes v through its JSON form so keys match the JSON field
// names and keep their declared order.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles JSON input leaves on every
// node.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
