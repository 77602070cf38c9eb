package notebook

import (
	"github.com/golang/glog"
)

// The mutation protocol applied under each room's single-writer
// discipline. Every operation is a silent no-op when the room or the
// target cell is absent: peer events race against closed rooms and
// concurrent deletes, and those races are expected.
//
// Each successful mutation broadcasts the same logical event to every
// member except the sender, which already applied the change
// optimistically on its own view. Payloads are captured at mutation
// time so a later operation can never change what was sent.

// InsertCell inserts a fully-formed cell at the given index, clamped to
// the valid range; a nil index appends. A malformed cell is ignored.
func (self *RoomManager) InsertCell(roomId string, sender Id, cell *Cell, index *int) {
	if cell == nil || cell.Id == "" || !ValidCellType(cell.Type) {
		glog.V(1).Infof("[sync]add %s malformed cell\n", roomId)
		return
	}

	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if room.notebook.Find(cell.Id) != nil {
		// duplicate insert, likely a client retry
		return
	}

	at := room.notebook.Insert(cell, index)

	self.gateway.ToRoomExcept(roomId, sender, EventAddCell, &AddCellPayload{
		Cell:  cell.Copy(),
		Index: &at,
	})
	glog.V(2).Infof("[sync]add %s %s @%d\n", roomId, cell.Id, at)
}

func (self *RoomManager) DeleteCell(roomId string, sender Id, cellId string) {
	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if !room.notebook.Delete(cellId) {
		return
	}

	self.gateway.ToRoomExcept(roomId, sender, EventDeleteCell, &DeleteCellPayload{
		CellId: cellId,
	})
	glog.V(2).Infof("[sync]delete %s %s\n", roomId, cellId)
}

// UpdateCell overwrites content unconditionally and type/language only
// when supplied non-empty. An unknown cell type rejects the whole
// operation with no broadcast.
func (self *RoomManager) UpdateCell(roomId string, sender Id, cellId string, content string, cellType CellType, language string) {
	if cellType != "" && !ValidCellType(cellType) {
		glog.V(1).Infof("[sync]update %s %s unknown type %q\n", roomId, cellId, cellType)
		return
	}

	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if !room.notebook.Update(cellId, content, cellType, language) {
		return
	}

	// the payload carries the caller's fields as supplied, empty ones
	// included; consumers apply the same ignore-empty rule
	self.gateway.ToRoomExcept(roomId, sender, EventUpdateCell, &UpdateCellPayload{
		CellId:   cellId,
		Content:  content,
		CellType: cellType,
		Language: language,
	})
	glog.V(2).Infof("[sync]update %s %s\n", roomId, cellId)
}

// ReorderCells rebuilds the sequence from the complete ordering the
// caller wants. Not a delta: unlisted cells are dropped.
func (self *RoomManager) ReorderCells(roomId string, sender Id, cellIds []string) {
	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	room.notebook.Reorder(cellIds)

	self.gateway.ToRoomExcept(roomId, sender, EventReorderCells, &ReorderCellsPayload{
		CellIds: cellIds,
	})
	glog.V(2).Infof("[sync]reorder %s n=%d\n", roomId, len(cellIds))
}

// SyncNotebook delivers the current snapshot privately to one member,
// on that member's request.
func (self *RoomManager) SyncNotebook(roomId string, target Id) {
	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	self.gateway.ToOne(target, EventNotebookState, &NotebookStatePayload{
		Notebook: room.notebook.Snapshot(),
	})
}

// legacy whole-buffer passthroughs. No canonical state is touched.

func (self *RoomManager) CodeChange(roomId string, sender Id, code string) {
	self.gateway.ToRoomExcept(roomId, sender, EventCodeChange, &CodeChangePayload{
		Code: code,
	})
}

func (self *RoomManager) SyncCode(target Id, code string) {
	self.gateway.ToOne(target, EventCodeChange, &CodeChangePayload{
		Code: code,
	})
}
