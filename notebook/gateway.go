package notebook

// Gateway is the fan-out primitive under the room coordinator.
// All deliveries are fire-and-forget: no acknowledgment, no retry.
// Payloads must be fully materialized at mutation time; implementations
// may serialize and deliver later without re-reading room state.
type Gateway interface {
	ToOne(connectionId Id, event string, payload any)
	ToRoomExcept(roomId string, excludedConnectionId Id, event string, payload any)
	ToRoomAll(roomId string, event string, payload any)
}
