// Package rules provides the pattern engine that turns message text into risk signals.
package rules

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxEvidence is the number of characters of a match kept as evidence.
const maxEvidence = 100

// Engine scans text against the pattern catalog, the combo rules and the
// social-engineering keyword clusters. It is safe for concurrent use.
type Engine struct {
	env      *cel.Env
	rules    []PatternRule
	combos   []CompiledCombo
	clusters []KeywordCluster
	version  string
}

// CompiledCombo holds a combo rule and its pre-compiled CEL program.
type CompiledCombo struct {
	Rule       ComboRule
	Expression string
	Program    cel.Program
}

// NewEngine creates a pattern engine over the fixed catalog.
func NewEngine(version string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("categories", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:      env,
		rules:    Catalog(),
		clusters: KeywordClusters(),
		version:  version,
	}

	for _, combo := range ComboCatalog() {
		compiled, err := e.compileCombo(combo)
		if err != nil {
			return nil, err
		}
		e.combos = append(e.combos, compiled)
	}

	return e, nil
}

// Version returns the ruleset version.
func (e *Engine) Version() string {
	return e.version
}

// Rules returns the pattern catalog in evaluation order.
func (e *Engine) Rules() []PatternRule {
	return e.rules
}

// Combos returns the compiled combo rules in evaluation order.
func (e *Engine) Combos() []CompiledCombo {
	return e.combos
}

// Clusters returns the keyword clusters.
func (e *Engine) Clusters() []KeywordCluster {
	return e.clusters
}

// Scan runs the catalog over text and returns signals ordered as
// pattern rules, then combo rules, then keyword clusters.
func (e *Engine) Scan(text string) []domain.Signal {
	signals := make([]domain.Signal, 0, 8)

	for _, rule := range e.rules {
		match, ok := rule.Matcher.Match(text)
		if !ok {
			continue
		}
		signals = append(signals, domain.Signal{
			ID:         rule.ID,
			Category:   rule.Category,
			Message:    rule.Message,
			Severity:   rule.Severity,
			Confidence: rule.Confidence,
			Evidence:   truncateEvidence(match),
		})
	}

	signals = append(signals, e.detectCombos(signals)...)
	signals = append(signals, e.detectClusters(text)...)

	return signals
}

// detectCombos evaluates the combo rules against the categories found so far.
func (e *Engine) detectCombos(signals []domain.Signal) []domain.Signal {
	seen := make(map[domain.Category]bool, len(signals))
	categories := make([]string, 0, len(signals))
	for _, s := range signals {
		if !seen[s.Category] {
			seen[s.Category] = true
			categories = append(categories, string(s.Category))
		}
	}

	activation := map[string]any{"categories": categories}

	var out []domain.Signal
	for _, combo := range e.combos {
		val, _, err := combo.Program.Eval(activation)
		if err != nil {
			slog.Warn("combo rule evaluation failed",
				"combo_id", combo.Rule.ID,
				"error", err,
			)
			continue
		}
		if val != types.True {
			continue
		}
		out = append(out, domain.Signal{
			ID:         combo.Rule.ID,
			Category:   domain.CategorySocialEngineering,
			Message:    combo.Rule.Message,
			Severity:   combo.Rule.Severity,
			Confidence: ComboConfidence,
		})
	}
	return out
}

// detectClusters emits one signal per keyword cluster with a phrase in text.
func (e *Engine) detectClusters(text string) []domain.Signal {
	lower := strings.ToLower(text)

	var out []domain.Signal
	for _, cluster := range e.clusters {
		for _, phrase := range cluster.Phrases {
			if strings.Contains(lower, phrase) {
				out = append(out, domain.Signal{
					ID:         cluster.ID,
					Category:   domain.CategorySocialEngineering,
					Message:    cluster.Message,
					Severity:   cluster.Severity,
					Confidence: cluster.Confidence,
				})
				break
			}
		}
	}
	return out
}

func (e *Engine) compileCombo(rule ComboRule) (CompiledCombo, error) {
	if len(rule.Requires) == 0 {
		return CompiledCombo{}, fmt.Errorf("combo %s: no required categories", rule.ID)
	}

	terms := make([]string, len(rule.Requires))
	for i, c := range rule.Requires {
		terms[i] = strconv.Quote(string(c)) + " in categories"
	}
	expr := strings.Join(terms, " && ")

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledCombo{}, fmt.Errorf("failed to compile combo %s: %w", rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledCombo{}, fmt.Errorf("combo %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return CompiledCombo{}, fmt.Errorf("failed to create program for combo %s: %w", rule.ID, err)
	}

	return CompiledCombo{
		Rule:       rule,
		Expression: expr,
		Program:    program,
	}, nil
}

func truncateEvidence(match string) string {
	if utf8.RuneCountInString(match) < maxEvidence {
		return match
	}
	runes := []rune(match)
	return string(runes[:maxEvidence]) + "..."
}
