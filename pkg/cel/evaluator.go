package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"wikirelay/pkg/models"
)

// Variables available to filter expressions. The full decoded event is exposed as `event`;
// reserved words such as namespace must be read with index syntax: event["namespace"].
const (
	VarEvent    = "event"
	VarOpType   = "op_type"
	VarTitle    = "title"
	VarTitleURL = "title_url"
	VarUser     = "user"
	VarWiki     = "wiki"
	VarBot      = "bot"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarEvent, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarOpType, cel.StringType),
		cel.Variable(VarTitle, cel.StringType),
		cel.Variable(VarTitleURL, cel.StringType),
		cel.Variable(VarUser, cel.StringType),
		cel.Variable(VarWiki, cel.StringType),
		cel.Variable(VarBot, cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compileFilter(expression)
	return err
}

func (e *Evaluator) compileFilter(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// Filter is a compiled boolean expression evaluated once per event.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, err := e.compileFilter(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the filter against an event and its full decoded body.
func (f *Filter) Match(ctx context.Context, event models.RawEvent, body map[string]interface{}) (bool, error) {
	if body == nil {
		body = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		VarEvent:    body,
		VarOpType:   event.Type,
		VarTitle:    deref(event.Title),
		VarTitleURL: event.TitleURL,
		VarUser:     deref(event.User),
		VarWiki:     event.Wiki,
		VarBot:      event.Bot,
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
