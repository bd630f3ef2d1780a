package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesAllKeys(t *testing.T) {
	vars := map[string]string{"name": "Ana", "company_name": "Acme"}
	out := Render("Welcome {{name}}", "Hi {{name}}, thanks for joining {{company_name}}.", vars)

	assert.Equal(t, "Welcome Ana", out.Subject)
	assert.Equal(t, "Hi Ana, thanks for joining Acme.", out.Body)
	assert.False(t, HasPlaceholders(out.Body))
}

func TestRenderLeavesUnmatchedPlaceholders(t *testing.T) {
	out := Render("Hello {{name}}", "Your code is {{code}}", map[string]string{"name": "Bo"})

	assert.Equal(t, "Hello Bo", out.Subject)
	assert.Equal(t, "Your code is {{code}}", out.Body)
	assert.True(t, HasPlaceholders(out.Body))
}

func TestRenderGlobalReplacePerKey(t *testing.T) {
	out := Render("", "{{name}} and {{name}} again", map[string]string{"name": "Cy"})
	assert.Equal(t, "Cy and Cy again", out.Body)
}

func TestRenderCaseSensitive(t *testing.T) {
	out := Render("", "{{Name}}", map[string]string{"name": "lower"})
	assert.Equal(t, "{{Name}}", out.Body)
}

func TestRenderNoRecursiveSubstitution(t *testing.T) {
	out := Render("", "{{a}}", map[string]string{"a": "{{b}}", "b": "nope"})
	assert.Equal(t, "{{b}}", out.Body)
}

func TestRenderValuesInsertedVerbatim(t *testing.T) {
	out := Render("", "Hi {{name}}", map[string]string{"name": "<b>&amp;</b>"})
	assert.Equal(t, "Hi <b>&amp;</b>", out.Body)
}

func TestRenderToleratesWhitespaceInPlaceholder(t *testing.T) {
	out := Render("", "Hi {{ name }}", map[string]string{"name": "Di"})
	assert.Equal(t, "Hi Di", out.Body)
}

func TestVariables(t *testing.T) {
	names := Variables("Hi {{name}}, {{name}}: order {{order_id}} ships {{date}}")
	assert.Equal(t, []string{"name", "order_id", "date"}, names)
}

func TestMissingAndUnused(t *testing.T) {
	templates := []string{"Hi {{name}}", "Order {{order_id}} for {{name}}"}
	vars := map[string]string{"name": "E", "extra": "x"}

	assert.Equal(t, []string{"order_id"}, Missing(templates, vars))
	assert.Equal(t, []string{"extra"}, Unused(templates, vars))
}

func TestMissingNoneWhenAllProvided(t *testing.T) {
	assert.Empty(t, Missing([]string{"Hi {{name}}"}, map[string]string{"name": "F"}))
}
