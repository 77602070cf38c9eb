package notebook

import (
	"time"
)

type CellType string

const (
	CellTypeCode     CellType = "code"
	CellTypeMarkdown CellType = "markdown"
)

func ValidCellType(cellType CellType) bool {
	switch cellType {
	case CellTypeCode, CellTypeMarkdown:
		return true
	default:
		return false
	}
}

type OutputKind string

const (
	OutputKindText  OutputKind = "text"
	OutputKindError OutputKind = "error"
	OutputKindHtml  OutputKind = "html"
	OutputKindImage OutputKind = "image"
	OutputKindTable OutputKind = "table"
	OutputKindJson  OutputKind = "json"
)

// immutable once attached to a cell.
// replaced wholesale by the next execution.
type Output struct {
	Kind       OutputKind `json:"type"`
	Data       string     `json:"data"`
	ProducedAt time.Time  `json:"timestamp"`
}

func NewTextOutput(data string) *Output {
	return &Output{
		Kind:       OutputKindText,
		Data:       data,
		ProducedAt: time.Now(),
	}
}

func NewErrorOutput(data string) *Output {
	return &Output{
		Kind:       OutputKindError,
		Data:       data,
		ProducedAt: time.Now(),
	}
}

// cell ids are opaque strings assigned by whichever party creates the cell.
// the server mints uuid-format ids for seed and duplicated cells.
type Cell struct {
	Id       string   `json:"id"`
	Type     CellType `json:"type"`
	Content  string   `json:"content"`
	Language string   `json:"language,omitempty"`
	Output   *Output  `json:"output"`
	Running  bool     `json:"running,omitempty"`
}

// Output and Running are meaningful only for code cells
func (self *Cell) Executable() bool {
	return self.Type == CellTypeCode
}

func (self *Cell) Copy() *Cell {
	cell := &Cell{
		Id:       self.Id,
		Type:     self.Type,
		Content:  self.Content,
		Language: self.Language,
		Running:  self.Running,
	}
	if self.Output != nil {
		output := *self.Output
		cell.Output = &output
	}
	return cell
}

// Duplicate is a copy with a new id, cleared output, and not running
func (self *Cell) Duplicate() *Cell {
	return &Cell{
		Id:       NewId().String(),
		Type:     self.Type,
		Content:  self.Content,
		Language: self.Language,
	}
}

const WelcomeContent = "# Welcome to CollabAI Notebook\nprint(\"Hello, World!\")"
const DefaultLanguage = "python"

type Notebook struct {
	Cells []*Cell `json:"cells"`
}

// seeded with exactly one default code cell
func NewSeededNotebook() *Notebook {
	return &Notebook{
		Cells: []*Cell{
			&Cell{
				Id:       NewId().String(),
				Type:     CellTypeCode,
				Content:  WelcomeContent,
				Language: DefaultLanguage,
			},
		},
	}
}

func (self *Notebook) Find(cellId string) *Cell {
	for _, cell := range self.Cells {
		if cell.Id == cellId {
			return cell
		}
	}
	return nil
}

// index nil appends. An index out of range is clamped to [0, len]
func (self *Notebook) Insert(cell *Cell, index *int) int {
	i := len(self.Cells)
	if index != nil {
		i = *index
		if i < 0 {
			i = 0
		} else if len(self.Cells) < i {
			i = len(self.Cells)
		}
	}
	cells := make([]*Cell, 0, len(self.Cells)+1)
	cells = append(cells, self.Cells[0:i]...)
	cells = append(cells, cell)
	cells = append(cells, self.Cells[i:]...)
	self.Cells = cells
	return i
}

func (self *Notebook) Delete(cellId string) bool {
	for i, cell := range self.Cells {
		if cell.Id == cellId {
			self.Cells = append(self.Cells[0:i], self.Cells[i+1:]...)
			return true
		}
	}
	return false
}

// content is overwritten unconditionally.
// cellType and language overwrite only when non-empty (partial update).
func (self *Notebook) Update(cellId string, content string, cellType CellType, language string) bool {
	cell := self.Find(cellId)
	if cell == nil {
		return false
	}
	cell.Content = content
	if cellType != "" {
		cell.Type = cellType
	}
	if language != "" {
		cell.Language = language
	}
	return true
}

// authoritative reorder: the result contains exactly the cells named by
// cellIds, in that order. Unknown ids are skipped, unlisted cells dropped.
func (self *Notebook) Reorder(cellIds []string) {
	cells := make([]*Cell, 0, len(cellIds))
	for _, cellId := range cellIds {
		if cell := self.Find(cellId); cell != nil {
			cells = append(cells, cell)
		}
	}
	self.Cells = cells
}

// deep copy for broadcast payloads, so that the wire state never reflects
// a mutation applied after the copy was sequenced
func (self *Notebook) Snapshot() *Notebook {
	cells := make([]*Cell, len(self.Cells))
	for i, cell := range self.Cells {
		cells[i] = cell.Copy()
	}
	return &Notebook{
		Cells: cells,
	}
}
