package notebook

import (
	"context"
	"strings"

	"github.com/golang/glog"
)

// Per-cell execution state machine: idle -> running -> idle.
// The running guard is checked on the room-serialized writer path, so a
// second execute for a running cell is dropped without any mutex beyond
// the room's own. Execution itself happens off the room lock; only the
// brief apply-result step re-enters serialized state, so the room stays
// free for inserts and edits while an execution is in flight.

// ExecuteCell drives one execution of a code cell.
// Start, output, and end notifications are symmetric: all members,
// requester included, and always in that order.
func (self *RoomManager) ExecuteCell(roomId string, cellId string) {
	room := self.room(roomId)
	if room == nil {
		return
	}

	room.stateLock.Lock()

	cell := room.notebook.Find(cellId)
	if cell == nil || !cell.Executable() || strings.TrimSpace(cell.Content) == "" {
		room.stateLock.Unlock()
		return
	}
	if cell.Running {
		// already in flight. The first dispatch wins.
		room.stateLock.Unlock()
		glog.V(1).Infof("[exec]busy %s %s\n", roomId, cellId)
		return
	}

	cell.Running = true
	// capture before releasing the lock: the content that runs is the
	// content as of the dispatch, not whatever an edit races in later
	source := cell.Content
	language := cell.Language

	self.gateway.ToRoomAll(roomId, EventCellExecStart, &CellExecPayload{
		CellId: cellId,
	})
	room.stateLock.Unlock()

	glog.V(1).Infof("[exec]start %s %s lang=%s\n", roomId, cellId, language)

	go func() {
		executeCtx, cancel := context.WithTimeout(self.ctx, self.settings.ExecuteTimeout)
		defer cancel()

		output := self.runner.Execute(executeCtx, source, language)
		if output == nil {
			// the service contract is to always produce an output
			output = NewErrorOutput("execution produced no result")
		}

		self.applyResult(roomId, cellId, output)
	}()
}

// applyResult re-enters the room's serialized state to attach the
// output and clear the running flag, then notifies every member.
// If the cell (or room) was deleted mid-flight, the output is not
// attached but the end notification still closes the started lifecycle
// for observers.
func (self *RoomManager) applyResult(roomId string, cellId string, output *Output) {
	room := self.room(roomId)
	if room == nil {
		glog.V(1).Infof("[exec]drop %s %s room gone\n", roomId, cellId)
		return
	}

	room.stateLock.Lock()
	defer room.stateLock.Unlock()

	if cell := room.notebook.Find(cellId); cell != nil {
		cell.Output = output
		cell.Running = false
	}

	self.gateway.ToRoomAll(roomId, EventCellOutput, &CellOutputPayload{
		CellId: cellId,
		Output: output,
	})
	self.gateway.ToRoomAll(roomId, EventCellExecEnd, &CellExecPayload{
		CellId: cellId,
	})

	glog.V(1).Infof("[exec]end %s %s kind=%s\n", roomId, cellId, output.Kind)
}
