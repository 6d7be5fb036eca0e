package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatHeader(t *testing.T) {
	assert.Equal(t, "# Report", FormatHeader(1, "Report"))
	assert.Equal(t, "### Detail", FormatHeader(3, "Detail"))
	assert.Equal(t, "# Clamped", FormatHeader(0, "Clamped"))
}

func TestFormatKeyValue(t *testing.T) {
	assert.Equal(t, "- **Kind**: shell_command", FormatKeyValue("Kind", "shell_command"))
}

func TestFormatCodeBlock(t *testing.T) {
	got := FormatCodeBlock("python", "target(name=\"app\")\n")
	assert.Equal(t, "```python\ntarget(name=\"app\")\n```", got)
}
