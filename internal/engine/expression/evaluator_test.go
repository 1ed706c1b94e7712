package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	return &Context{
		Input: map[string]interface{}{
			"name":  "ada",
			"count": 3,
			"user":  map[string]interface{}{"email": "ada@example.com"},
		},
		TriggerInput: map[string]interface{}{"source": "webhook"},
		NodeOutputs: map[string]map[string]interface{}{
			"fetch": {"status": 200, "items": []interface{}{"a", "b"}},
		},
		Global:      map[string]interface{}{"region": "eu"},
		ExecutionID: "exec-1",
		FlowID:      "flow-1",
	}
}

func TestResolvePlainStringsPassThrough(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	assert.Equal(t, "hello", e.Resolve("hello", ctx))
	assert.Equal(t, 42, e.Resolve(42, ctx))
	assert.Equal(t, true, e.Resolve(true, ctx))
	assert.Nil(t, e.Resolve(nil, ctx))
}

func TestResolveInterpolation(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	tests := []struct {
		template string
		want     string
	}{
		{"Hello {{ $json.name }}!", "Hello ada!"},
		{"{{ $json.name }} has {{ $json.count }}", "ada has 3"},
		{"from {{ $trigger.source }}", "from webhook"},
		{"in {{ $vars.region }}", "in eu"},
		{"exec {{ $executionId }} flow {{ $flowId }}", "exec exec-1 flow flow-1"},
		{"nested {{ $json.user.email }}", "nested ada@example.com"},
		{"{{ uppercase($json.name) }}!", "ADA!"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Resolve(tt.template, ctx), tt.template)
	}
}

func TestResolveSingleExpressionKeepsType(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	assert.Equal(t, 3, e.Resolve("{{ $json.count }}", ctx))
	assert.Equal(t, map[string]interface{}{"email": "ada@example.com"}, e.Resolve("{{ $json.user }}", ctx))
	assert.Equal(t, true, e.Resolve("{{ $json.count > 2 }}", ctx))
}

func TestResolveNodeReference(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	assert.Equal(t, 200, e.Resolve(`{{ $node("fetch").output.status }}`, ctx))
	// Unknown node yields an empty output map, not an error.
	assert.Equal(t, "", e.Resolve(`{{ $node("ghost").output.status }}`, ctx))
}

func TestResolveErrorsYieldEmptyString(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	assert.Equal(t, "", e.Resolve("{{ $json.name + }}", ctx))
	assert.Equal(t, "x  y", e.Resolve("x {{ $json.name + }} y", ctx))
	assert.Equal(t, "", e.Resolve("{{ $json.missing }}", ctx))
}

func TestResolveRecursesIntoMapsAndLists(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	config := map[string]interface{}{
		"url": "https://api.example.com/{{ $json.name }}",
		"headers": map[string]interface{}{
			"X-Region": "{{ $vars.region }}",
		},
		"tags":  []interface{}{"{{ $json.name }}", "static"},
		"limit": 10,
	}

	resolved := e.ResolveMap(config, ctx)
	assert.Equal(t, "https://api.example.com/ada", resolved["url"])
	assert.Equal(t, "eu", resolved["headers"].(map[string]interface{})["X-Region"])
	assert.Equal(t, []interface{}{"ada", "static"}, resolved["tags"])
	assert.Equal(t, 10, resolved["limit"])
	// Original config is untouched.
	assert.Equal(t, "https://api.example.com/{{ $json.name }}", config["url"])
}

func TestResolveUtilityFunctions(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	tests := []struct {
		template string
		want     interface{}
	}{
		{`{{ lowercase("ADA") }}`, "ada"},
		{`{{ trim("  x  ") }}`, "x"},
		{`{{ length($node("fetch").output.items) }}`, 2},
		{`{{ coalesce($json.missing, "fallback") }}`, "fallback"},
		{`{{ ternary($json.count > 1, "many", "one") }}`, "many"},
		{`{{ contains($json.name, "d") }}`, true},
		{`{{ startsWith($json.name, "a") }}`, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Resolve(tt.template, ctx), tt.template)
	}
}

func TestResolveMapsStringifyAsJSON(t *testing.T) {
	e := New(nil)
	ctx := testContext()

	got, ok := e.Resolve(`user: {{ $json.user }}`, ctx).(string)
	require.True(t, ok)
	assert.Equal(t, `user: {"email":"ada@example.com"}`, got)
}

func TestEnvAllowList(t *testing.T) {
	t.Setenv("NODEFLOW_TEST_ALLOWED", "yes")
	t.Setenv("NODEFLOW_TEST_SECRET", "no")

	e := New([]string{"NODEFLOW_TEST_ALLOWED"})
	ctx := testContext()

	assert.Equal(t, "yes", e.Resolve("{{ $env.NODEFLOW_TEST_ALLOWED }}", ctx))
	assert.Equal(t, "", e.Resolve("{{ $env.NODEFLOW_TEST_SECRET }}", ctx))
}

func TestResolveNilContextMaps(t *testing.T) {
	e := New(nil)
	ctx := &Context{}

	assert.Equal(t, "", e.Resolve("{{ $json.anything }}", ctx))
	assert.Nil(t, e.ResolveMap(nil, ctx))
}
