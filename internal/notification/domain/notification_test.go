package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	out := Render("Hello {name}, your order {orderId} shipped", map[string]string{
		"name":    "Ann",
		"orderId": "ORD-1",
	})
	assert.Equal(t, "Hello Ann, your order ORD-1 shipped", out)
}

func TestRenderLeavesUnmatchedPlaceholders(t *testing.T) {
	out := Render("Hello {name}, order {orderId} shipped", map[string]string{"name": "Ann"})
	assert.Equal(t, "Hello Ann, order {orderId} shipped", out)
}

func TestRenderNoVariables(t *testing.T) {
	assert.Equal(t, "plain text", Render("plain text", nil))
}

func TestRenderSubstitutesLiterally(t *testing.T) {
	// No escaping: values land verbatim, braces in values included.
	out := Render("x={v}", map[string]string{"v": "{nested}"})
	assert.Equal(t, "x={nested}", out)
}
