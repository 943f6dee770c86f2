package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single fence", "```python\nX\n```", "X"},
		{"bare fence", "```\nprint(1)\n```", "print(1)"},
		{"surrounding prose", "Here you go:\n```python\nimport os\n```\nHope it helps", "import os"},
		{"first block wins", "```js\nA\n```\ntext\n```js\nB\n```", "A"},
		{"doubly nested", "```markdown\n```python\nX\n```\n```", "X"},
		{"doubly nested untagged", "```\n```\nX\n```\n```", "X"},
		{"untagged inner after blank line", "```\n\n```python\nX\n```\n```", "X"},
		{"untagged inner with tagged outer", "```markdown\n```\nprint(1)\n```\n```", "print(1)"},
		{"triply nested", "```md\n```text\n```python\nX\n```\n```\n```", "X"},
		{"nested after code is kept", "```python\nimport os\ndoc = '''\n```bash\nls\n```\n'''\n```", "import os\ndoc = '''\n```bash\nls\n```\n'''"},
		{"unclosed fence", "```python\nimport os\ndef f():", "import os\ndef f():"},
		{"no fence", "import os\ndef f(): pass", "import os\ndef f(): pass"},
		{"leading language tag", "python\nimport os", "import os"},
		{"jsx tag", "JSX\nfunction App() {}", "function App() {}"},
		{"first word not a tag", "hello\nworld", "hello\nworld"},
		{"indented fence", "  ```python\n  X\n  ```", "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.in))
		})
	}
}

func TestExtractCodeBoundedNesting(t *testing.T) {
	depth := maxFenceDepth * 4
	in := strings.Repeat("```x\n", depth) + "core\n" + strings.Repeat("```\n", depth)

	assert.NotPanics(t, func() {
		out := ExtractCode(in)
		assert.NotEmpty(t, out)
	})
}
