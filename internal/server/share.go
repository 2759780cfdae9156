package server

// Screen-share signaling: the server relays session descriptions and ICE
// candidates between exactly one sharer and any number of viewers. Payloads
// are opaque, media never touches this server.

func (r *Room) handleShare(msg *ClientMessage) {
	cmd := msg.Share

	switch cmd.Action {
	case ShareActionStart:
		r.startShare(msg)
	case ShareActionStop:
		r.stopShare(msg)
	case ShareActionCandidate:
		r.relayCandidate(msg)
	case ShareActionAnswer:
		r.relayAnswer(msg)
	default:
		msg.client.queueMessage(ErrValidation(msg.Id, "unknown share action"))
	}
}

// startShare enforces the single-sharer invariant: a second concurrent start
// is rejected, never queued or preempted.
func (r *Room) startShare(msg *ClientMessage) {
	if r.sharer != nil {
		msg.client.queueMessage(ErrConflict(msg.Id, "screen share already active"))
		return
	}

	r.sharer = msg.client

	r.relayShare(&ShareEvent{
		RoomId:     r.externalId,
		Action:     ShareActionStart,
		Payload:    msg.Share.Payload,
		FromConnId: msg.client.id,
		FromUserId: msg.UserId,
	}, msg.client)
}

func (r *Room) stopShare(msg *ClientMessage) {
	if r.sharer == nil {
		msg.client.queueMessage(ErrInvalidState(msg.Id, "no active screen share"))
		return
	}

	if r.sharer != msg.client {
		msg.client.queueMessage(ErrAccessDenied(msg.Id, "only the sharer can stop the session"))
		return
	}

	r.sharer = nil

	r.relayShare(&ShareEvent{
		RoomId:     r.externalId,
		Action:     ShareActionStop,
		FromConnId: msg.client.id,
		FromUserId: msg.UserId,
	}, msg.client)
}

// relayCandidate routes by caller identity: the sharer's candidates fan out
// to every viewer, a viewer's go point-to-point to the sharer. Candidates
// with no sharer recorded are dropped.
func (r *Room) relayCandidate(msg *ClientMessage) {
	if r.sharer == nil {
		return
	}

	event := &ShareEvent{
		RoomId:     r.externalId,
		Action:     ShareActionCandidate,
		Payload:    msg.Share.Payload,
		FromConnId: msg.client.id,
		FromUserId: msg.UserId,
	}

	if msg.client == r.sharer {
		r.relayShare(event, msg.client)
		return
	}

	r.sharer.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Share:       event,
	})
}

// relayAnswer delivers a viewer's answer to the named sharer connection only.
func (r *Room) relayAnswer(msg *ClientMessage) {
	target := msg.Share.TargetConnId
	if target == "" {
		msg.client.queueMessage(ErrValidation(msg.Id, "target connection required"))
		return
	}

	for c := range r.clients {
		if c.id == target {
			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Share: &ShareEvent{
					RoomId:     r.externalId,
					Action:     ShareActionAnswer,
					Payload:    msg.Share.Payload,
					FromConnId: msg.client.id,
					FromUserId: msg.UserId,
				},
			})
			return
		}
	}

	msg.client.queueMessage(ErrNotFound(msg.Id, "target connection not found"))
}

// relayShare sends a share event to every client in the room except skip.
func (r *Room) relayShare(event *ShareEvent, skip *Client) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Share:       event,
		SkipClient:  skip,
	})
}
