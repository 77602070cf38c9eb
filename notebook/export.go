package notebook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var exportMarkdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
	),
)

// ExportMarkdown renders the notebook as one markdown document, cells
// in canonical order. Code cells are fenced with their language tag and
// followed by their most recent output, if any.
func ExportMarkdown(nb *Notebook) string {
	var out strings.Builder
	for _, cell := range nb.Cells {
		switch cell.Type {
		case CellTypeMarkdown:
			out.WriteString(cell.Content)
			out.WriteString("\n\n")
		case CellTypeCode:
			fmt.Fprintf(&out, "```%s\n%s\n```\n\n", cell.Language, cell.Content)
			if cell.Output != nil {
				label := "output"
				if cell.Output.Kind == OutputKindError {
					label = "error"
				}
				fmt.Fprintf(&out, "_%s:_\n\n```\n%s\n```\n\n", label, cell.Output.Data)
			}
		}
	}
	return out.String()
}

// ExportHTML converts the markdown export to HTML.
func ExportHTML(nb *Notebook) (string, error) {
	var buf bytes.Buffer
	if err := exportMarkdown.Convert([]byte(ExportMarkdown(nb)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
