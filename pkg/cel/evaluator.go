package cel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"orderflow/pkg/models"
)

// Evaluator compiles and runs routing expressions against event envelopes.
// Expressions see the envelope identity plus the payload as a map, e.g.
// `event_type == "order.paid" && payload.amount > 1000.0`.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("aggregate_id", cel.StringType),
		cel.Variable("occurred_at", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("routing expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) EvaluateRule(ctx context.Context, expression string, env models.Envelope) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("routing expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	vars := map[string]interface{}{
		"event_id":     env.EventID,
		"event_type":   string(env.EventType),
		"aggregate_id": env.AggregateID,
		"occurred_at":  env.OccurredAt,
		"payload":      payloadToMap(env.Payload),
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// payloadToMap flattens the typed payload through its JSON form so rule
// authors address the same field names that travel on the wire.
func payloadToMap(payload models.Payload) map[string]interface{} {
	result := make(map[string]interface{})
	if payload == nil {
		return result
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return result
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return map[string]interface{}{}
	}
	return result
}
