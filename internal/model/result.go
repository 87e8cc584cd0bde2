package model

// ResultValue is a judged outcome for one check.
type ResultValue string

const (
	ResultPass    ResultValue = "pass"
	ResultFail    ResultValue = "fail"
	ResultUnclear ResultValue = "unclear"
	ResultNA      ResultValue = "na"

	// ResultError marks a linter cell whose skill could not be read. It only
	// appears in the best-practice matrix; ParseResult folds it into na.
	ResultError ResultValue = "error"
)

// ParseResult maps a backend result string onto a ResultValue. Anything the
// judge did not classify as pass, fail or unclear counts as na.
func ParseResult(s string) ResultValue {
	switch ResultValue(s) {
	case ResultPass, ResultFail, ResultUnclear:
		return ResultValue(s)
	default:
		return ResultNA
	}
}

// ParseBPResult is ParseResult for linter cells, which keep error.
func ParseBPResult(s string) ResultValue {
	if ResultValue(s) == ResultError {
		return ResultError
	}
	return ParseResult(s)
}

// Variant is the evaluation strategy that produced a result.
type Variant string

const (
	VariantSpecialist Variant = "specialist"
	VariantMCPC       Variant = "mcpc"
)

// ResultCell is one scored outcome for a (scenario, check, model, variant)
// tuple as returned by the backend.
type ResultCell struct {
	ScenarioID string      `json:"scenario_id"`
	CheckID    string      `json:"check_id"`
	Model      string      `json:"model"`
	Variant    Variant     `json:"variant"`
	Result     ResultValue `json:"result"`
	Evidence   string      `json:"evidence,omitempty"`
	Summary    string      `json:"summary,omitempty"`
}

// Check is one scoring criterion.
type Check struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Group       string `json:"group"`
	Description string `json:"description,omitempty"`
}

// CheckGroup is a taxonomy category with its checks in display order.
type CheckGroup struct {
	Key           string   `json:"key"`
	Name          string   `json:"name"`
	DefaultModels []string `json:"default_models,omitempty"`
	Checks        []Check  `json:"checks"`
}

// Taxonomy is the ordered check grouping. Order controls rendering only.
type Taxonomy struct {
	Groups []CheckGroup `json:"groups"`
}

// Checks flattens the taxonomy in group order.
func (t Taxonomy) Checks() []Check {
	var out []Check
	for _, g := range t.Groups {
		out = append(out, g.Checks...)
	}
	return out
}

// Scenario is a scripted prompt used to evaluate a skill.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Prompt      string `json:"prompt,omitempty"`
	TargetSkill string `json:"target_skill,omitempty"`
	SourceFile  string `json:"source_file,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Domain groups scenarios under one specialist skill. Dev domains have no
// mcpc variant.
type Domain struct {
	ID            string `json:"id"`
	Specialist    string `json:"specialist"`
	ScenarioCount int    `json:"scenario_count"`
	IsDev         bool   `json:"is_dev"`
}

// DomainResult is the result set for one domain together with its axes.
type DomainResult struct {
	Domain     string       `json:"domain"`
	Specialist string       `json:"specialist"`
	IsDev      bool         `json:"is_dev"`
	Scenarios  []Scenario   `json:"scenarios"`
	Checks     []Check      `json:"checks"`
	Models     []string     `json:"models"`
	Cells      []ResultCell `json:"cells"`
}

// CheckGap names a check that failed often.
type CheckGap struct {
	CheckID  string `json:"check_id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// SkillHealth is the backend's per-skill roll-up of the latest scored report.
type SkillHealth struct {
	Skill        string     `json:"skill"`
	Domain       string     `json:"domain"`
	IsDev        bool       `json:"is_dev"`
	PassPct      float64    `json:"pass_pct"`
	PassCount    int        `json:"pass_count"`
	FailCount    int        `json:"fail_count"`
	UnclearCount int        `json:"unclear_count"`
	NACount      int        `json:"na_count"`
	TopGaps      []CheckGap `json:"top_gaps"`
	Models       []string   `json:"models,omitempty"`
}

// SkillDetail is one variant's full answer for a heatmap cell.
type SkillDetail struct {
	Skill            string `json:"skill"`
	Model            string `json:"model"`
	Result           string `json:"result"`
	Evidence         string `json:"evidence"`
	Summary          string `json:"summary"`
	MarkdownResponse string `json:"markdown_response"`
}

// VariantDetails pairs both variants' answers for one model.
type VariantDetails struct {
	Specialist *SkillDetail `json:"specialist"`
	MCPC       *SkillDetail `json:"mcpc"`
}

// CellDetail compares both variants for one (scenario, check). Multi-model
// backends key the comparison by model; older ones report a single pair.
type CellDetail struct {
	ScenarioID string                    `json:"scenario_id"`
	CheckID    string                    `json:"check_id"`
	Models     map[string]VariantDetails `json:"models,omitempty"`
	Specialist *SkillDetail              `json:"specialist,omitempty"`
	MCPC       *SkillDetail              `json:"mcpc,omitempty"`
}

// Report is a report document fetched by name.
type Report struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ReportSummary lists one report file known to the backend.
type ReportSummary struct {
	Filename      string   `json:"filename"`
	JSONFilename  *string  `json:"json_filename"`
	Generated     string   `json:"generated,omitempty"`
	Models        []string `json:"models,omitempty"`
	ScenarioCount int      `json:"scenario_count,omitempty"`
}

// BPCell is one static best-practice check applied to one skill.
type BPCell struct {
	Skill   string      `json:"skill"`
	CheckID string      `json:"check_id"`
	Result  ResultValue `json:"result"`
	Detail  string      `json:"detail,omitempty"`
}

// BPResult is the best-practice linter matrix for every skill in the
// manifest.
type BPResult struct {
	Skills []string `json:"skills"`
	Checks []Check  `json:"checks"`
	Cells  []BPCell `json:"cells"`
}
