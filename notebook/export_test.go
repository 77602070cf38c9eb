package notebook

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestExportReflectsOrder(t *testing.T) {
	// fresh room, seeded, then a markdown cell inserted at index 0
	nb := NewSeededNotebook()
	index := 0
	nb.Insert(&Cell{
		Id:      "intro",
		Type:    CellTypeMarkdown,
		Content: "# Intro",
	}, &index)

	assert.Equal(t, CellTypeMarkdown, nb.Cells[0].Type)
	assert.Equal(t, CellTypeCode, nb.Cells[1].Type)

	markdown := ExportMarkdown(nb)
	intro := strings.Index(markdown, "# Intro")
	welcome := strings.Index(markdown, "```python")
	assert.NotEqual(t, -1, intro)
	assert.NotEqual(t, -1, welcome)
	// markdown cell renders before the default code cell
	assert.Equal(t, true, intro < welcome)
}

func TestExportOutputs(t *testing.T) {
	nb := &Notebook{Cells: []*Cell{
		&Cell{
			Id:       "a",
			Type:     CellTypeCode,
			Content:  "print(1)",
			Language: "python",
			Output:   NewTextOutput("1"),
		},
		&Cell{
			Id:       "b",
			Type:     CellTypeCode,
			Content:  "boom(",
			Language: "python",
			Output:   NewErrorOutput("SyntaxError"),
		},
	}}

	markdown := ExportMarkdown(nb)
	assert.Equal(t, true, strings.Contains(markdown, "_output:_"))
	assert.Equal(t, true, strings.Contains(markdown, "_error:_"))
	assert.Equal(t, true, strings.Contains(markdown, "SyntaxError"))
}

func TestExportHTML(t *testing.T) {
	nb := &Notebook{Cells: []*Cell{
		&Cell{
			Id:      "m",
			Type:    CellTypeMarkdown,
			Content: "# Title",
		},
	}}

	html, err := ExportHTML(nb)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, strings.Contains(html, "<h1"))
	assert.Equal(t, true, strings.Contains(html, "Title"))
}
