package rules

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"example.com/xtfgate/internal/common"
	"example.com/xtfgate/internal/xtf"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

type Rule struct {
	RuleId    string         `json:"ruleId"`
	Name      string         `json:"name,omitempty"`
	Scope     string         `json:"scope"` // header|time|channel|record|file
	AppliesTo map[string]any `json:"appliesTo,omitempty"`
	Severity  Severity       `json:"severity"`
	CheckFunc string         `json:"checkFunction,omitempty"`
	Refs      []string       `json:"refs"`
	Params    map[string]any `json:"params,omitempty"`
	Message   string         `json:"message"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
	Profile    string `json:"profile"`
	Rules      []Rule `json:"rules"`
}

type Diagnostic struct {
	Ts              time.Time `json:"ts"`
	File            string    `json:"file"`
	ChannelId       int       `json:"channelId,omitempty"`
	FrameIndex      int       `json:"frameIndex,omitempty"`
	Offset          string    `json:"offset,omitempty"`
	RuleId          string    `json:"ruleId"`
	Severity        Severity  `json:"severity"`
	Message         string    `json:"message"`
	Refs            []string  `json:"refs"`
	Passed          bool      `json:"passed"`
	Occurrences     int       `json:"occurrences,omitempty"`
	TimestampUs     *int64    `json:"timestamp_us"`
	TimestampSource *string   `json:"timestamp_source"`
}

type GateResult struct {
	RuleId   string   `json:"ruleId"`
	Name     string   `json:"name,omitempty"`
	Scope    string   `json:"scope"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
}

type AcceptanceReport struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	GateMatrix []GateResult `json:"gateMatrix"`
	Findings   []Diagnostic `json:"findings,omitempty"`
}

// Context carries the decoded survey file a rule pack evaluates against. The
// framing pass is lazy: checks that only look at the file header never pay
// for a full scan.
type Context struct {
	InputFile string
	Profile   string

	Header *xtf.FileHeader
	Index  *xtf.FileIndex

	// Metrics, when set, observes the lazy framing pass.
	Metrics *common.Metrics
}

func (ctx *Context) EnsureFileIndex() error {
	if ctx == nil {
		return errors.New("nil context")
	}
	if ctx.InputFile == "" {
		return nil
	}
	if ctx.Index != nil {
		return nil
	}
	fh, idx, err := xtf.ScanFile(ctx.InputFile, ctx.Metrics)
	if err != nil {
		return err
	}
	ctx.Header = fh
	ctx.Index = &idx
	return nil
}

type Engine struct {
	rulePack               RulePack
	registry               map[string]CheckFunc
	diagnostics            []Diagnostic
	gates                  []GateResult
	includeTimestampFields bool
	onDiagnostic           func(Diagnostic) error
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack:               rp,
		registry:               make(map[string]CheckFunc),
		includeTimestampFields: true,
	}
}

// CheckFunc evaluates one rule against the context. The returned Diagnostic
// carries the outcome; passed reports whether the file satisfied the rule.
type CheckFunc func(ctx *Context, rule Rule) (Diagnostic, bool, error)

func (e *Engine) Register(name string, f CheckFunc) {
	e.registry[name] = f
}

// SetDiagnosticCallback streams each diagnostic to cb as Eval produces it.
// A callback error aborts the evaluation. Pass nil to disable streaming.
func (e *Engine) SetDiagnosticCallback(cb func(Diagnostic) error) {
	e.onDiagnostic = cb
}

func (e *Engine) Eval(ctx *Context) ([]Diagnostic, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	if err := ctx.EnsureFileIndex(); err != nil {
		return nil, err
	}
	var diags []Diagnostic
	var gates []GateResult
	for _, r := range e.rulePack.Rules {
		if r.CheckFunc == "" {
			continue
		}
		fn, ok := e.registry[r.CheckFunc]
		if !ok {
			d := Diagnostic{
				Ts: time.Now(), File: ctx.InputFile, RuleId: r.RuleId, Severity: WARN,
				Message: "no function for rule", Refs: r.Refs,
			}
			diags = append(diags, d)
			gates = append(gates, GateResult{RuleId: r.RuleId, Name: r.Name, Scope: r.Scope, Severity: WARN, Passed: false})
			if e.onDiagnostic != nil {
				if err := e.onDiagnostic(d); err != nil {
					return diags, err
				}
			}
			continue
		}
		d, passed, err := fn(ctx, r)
		if err != nil {
			d.Severity = ERROR
			d.Message = d.Message + " (" + err.Error() + ")"
			passed = false
		}
		d.Passed = passed
		if passed && d.Severity == "" {
			d.Severity = INFO
		}
		diags = append(diags, d)
		gates = append(gates, GateResult{RuleId: r.RuleId, Name: r.Name, Scope: r.Scope, Severity: d.Severity, Passed: passed})
		if e.onDiagnostic != nil {
			if err := e.onDiagnostic(d); err != nil {
				return diags, err
			}
		}
	}
	e.diagnostics = diags
	e.gates = gates
	return diags, nil
}

func (e *Engine) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	return e.writeNDJSON(w)
}

func (e *Engine) writeNDJSON(w io.Writer) error {
	for _, d := range e.diagnostics {
		var (
			b   []byte
			err error
		)
		if e.includeTimestampFields {
			b, err = json.Marshal(d)
		} else {
			b, err = json.Marshal(d.toNoTimestamp())
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

type diagnosticNoTimestamp struct {
	Ts          time.Time `json:"ts"`
	File        string    `json:"file"`
	ChannelId   int       `json:"channelId,omitempty"`
	FrameIndex  int       `json:"frameIndex,omitempty"`
	Offset      string    `json:"offset,omitempty"`
	RuleId      string    `json:"ruleId"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Refs        []string  `json:"refs"`
	Passed      bool      `json:"passed"`
	Occurrences int       `json:"occurrences,omitempty"`
}

func (d Diagnostic) toNoTimestamp() diagnosticNoTimestamp {
	return diagnosticNoTimestamp{
		Ts:          d.Ts,
		File:        d.File,
		ChannelId:   d.ChannelId,
		FrameIndex:  d.FrameIndex,
		Offset:      d.Offset,
		RuleId:      d.RuleId,
		Severity:    d.Severity,
		Message:     d.Message,
		Refs:        d.Refs,
		Passed:      d.Passed,
		Occurrences: d.Occurrences,
	}
}

func (e *Engine) SetConfigValue(key string, value any) {
	if e == nil {
		return
	}
	switch key {
	case "diag.include_timestamps":
		switch v := value.(type) {
		case bool:
			e.includeTimestampFields = v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				e.includeTimestampFields = b
			}
		default:
			if s, ok := value.(fmt.Stringer); ok {
				if b, err := strconv.ParseBool(s.String()); err == nil {
					e.includeTimestampFields = b
				}
			}
		}
	}
}

func (e *Engine) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int
	for _, d := range e.diagnostics {
		if d.Passed {
			continue
		}
		switch d.Severity {
		case ERROR:
			errs++
		case WARN:
			warns++
		}
	}
	rep.Summary.Total = len(e.diagnostics)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.GateMatrix = e.gates
	rep.Findings = e.diagnostics
	return rep
}

func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	err = json.Unmarshal(b, &rp)
	return rp, err
}

var ErrNotImplemented = errors.New("check not implemented yet")
