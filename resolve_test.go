package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func resolveContext(t *testing.T) *ExecutionContext {
	t.Helper()
	trigger := map[string]any{
		"customer": map[string]any{"id": "c-17", "tier": "gold"},
		"items":    []any{"book", "lamp"},
	}
	ec := newExecutionContext(newRunID(), trigger, nil, nil, nil)
	ec.recordResult("fetch", StepResult{
		Status: StepStatusCompleted,
		Output: map[string]any{"total": 19.5, "lines": []any{map[string]any{"sku": "b-1"}}},
	})
	ec.recordResult("flaky", StepResult{Status: StepStatusFailed, Error: "upstream unavailable"})
	ec.SetVariable("attempt", 3)
	return ec
}

func TestResolvePathPrefixes(t *testing.T) {
	t.Parallel()
	ec := resolveContext(t)

	assert.Equal(t, map[string]any{"total": 19.5, "lines": []any{map[string]any{"sku": "b-1"}}}, ResolvePath("steps.fetch", ec))
	assert.Equal(t, 19.5, ResolvePath("steps.fetch.output.total", ec))
	assert.Equal(t, "b-1", ResolvePath("steps.fetch.output.lines.0.sku", ec))
	assert.Equal(t, 19.5, ResolvePath("steps.fetch.total", ec), "bare fields read through the output")
	assert.Equal(t, string(StepStatusCompleted), ResolvePath("steps.fetch.status", ec))
	assert.Equal(t, "upstream unavailable", ResolvePath("steps.flaky.error", ec))

	assert.Equal(t, "gold", ResolvePath("trigger.customer.tier", ec))
	assert.Equal(t, "lamp", ResolvePath("trigger.items.1", ec))
	assert.Equal(t, 3, ResolvePath("variables.attempt", ec))
}

func TestResolvePathFallbacks(t *testing.T) {
	t.Parallel()
	ec := resolveContext(t)
	ec.SetVariable("checkout.mode", "express")

	// A variable key containing dots wins over a structural walk.
	assert.Equal(t, "express", ResolvePath("checkout.mode", ec))

	assert.Nil(t, ResolvePath("steps.ghost.output", ec))
	assert.Nil(t, ResolvePath("trigger.customer.missing", ec))
	assert.Nil(t, ResolvePath("trigger.items.9", ec))
	assert.Nil(t, ResolvePath("", ec))
}

func TestResolveTemplateString(t *testing.T) {
	t.Parallel()
	ec := resolveContext(t)

	assert.Equal(t, "total=19.5 tier=gold", ResolveTemplateString("total=${steps.fetch.output.total} tier=${trigger.customer.tier}", ec))
	assert.Equal(t, "keep ${steps.ghost.output} as-is", ResolveTemplateString("keep ${steps.ghost.output} as-is", ec))
	assert.Equal(t, "plain text", ResolveTemplateString("plain text", ec))
}

func TestResolveVariablesRecursion(t *testing.T) {
	t.Parallel()
	ec := resolveContext(t)

	in := map[string]any{
		"total":   "${steps.fetch.output.total}",
		"label":   "order for ${trigger.customer.id}",
		"nested":  []any{"${variables.attempt}", "fixed"},
		"untyped": 7,
	}
	out := ResolveVariables(in, ec).(map[string]any)

	assert.Equal(t, 19.5, out["total"], "whole-string reference preserves the value type")
	assert.Equal(t, "order for c-17", out["label"])
	assert.Equal(t, []any{3, "fixed"}, out["nested"])
	assert.Equal(t, 7, out["untyped"])
}
