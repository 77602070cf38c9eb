package notebook

// logical event names on the pub/sub surface.
// these match the client protocol and must not change without a
// coordinated client release.
const (
	EventJoin          = "join"
	EventJoined        = "joined"
	EventDisconnected  = "disconnected"
	EventNotebookState = "notebook-state"
	EventAddCell       = "add-cell"
	EventDeleteCell    = "delete-cell"
	EventUpdateCell    = "update-cell"
	EventReorderCells  = "reorder-cells"
	EventExecuteCell   = "execute-cell"
	EventCellExecStart = "cell-execution-start"
	EventCellExecEnd   = "cell-execution-end"
	EventCellOutput    = "cell-output"
	EventSyncNotebook  = "sync-notebook"

	// legacy whole-buffer sync, kept for older clients
	EventCodeChange = "code-change"
	EventSyncCode   = "sync-code"
)

type Member struct {
	ConnectionId Id     `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type JoinPayload struct {
	RoomId      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type JoinedPayload struct {
	Members      []Member `json:"members"`
	DisplayName  string   `json:"displayName"`
	ConnectionId Id       `json:"connectionId"`
}

type DisconnectedPayload struct {
	ConnectionId Id     `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type NotebookStatePayload struct {
	Notebook *Notebook `json:"notebook"`
}

type AddCellPayload struct {
	RoomId string `json:"roomId,omitempty"`
	Cell   *Cell  `json:"cell"`
	Index  *int   `json:"index,omitempty"`
}

type DeleteCellPayload struct {
	RoomId string `json:"roomId,omitempty"`
	CellId string `json:"cellId"`
}

// fields the caller left empty are carried empty; downstream consumers
// apply the same ignore-empty rule as the synchronizer
type UpdateCellPayload struct {
	RoomId   string   `json:"roomId,omitempty"`
	CellId   string   `json:"cellId"`
	Content  string   `json:"content"`
	CellType CellType `json:"cellType,omitempty"`
	Language string   `json:"language,omitempty"`
}

type ReorderCellsPayload struct {
	RoomId  string   `json:"roomId,omitempty"`
	CellIds []string `json:"cellIds"`
}

type ExecuteCellPayload struct {
	RoomId string `json:"roomId,omitempty"`
	CellId string `json:"cellId"`
}

type CellExecPayload struct {
	CellId string `json:"cellId"`
}

type CellOutputPayload struct {
	CellId string  `json:"cellId"`
	Output *Output `json:"output"`
}

type SyncNotebookPayload struct {
	ConnectionId Id     `json:"connectionId"`
	RoomId       string `json:"roomId"`
}

type CodeChangePayload struct {
	RoomId string `json:"roomId,omitempty"`
	Code   string `json:"code"`
}

type SyncCodePayload struct {
	ConnectionId Id     `json:"connectionId"`
	Code         string `json:"code"`
}
