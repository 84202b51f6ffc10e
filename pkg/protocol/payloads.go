package protocol

// SDPMessage is the payload of offer and answer messages.
type SDPMessage struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// ICECandidateMessage is the payload of ice-candidate messages.
type ICECandidateMessage struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// JoinPayload is what a degraded-transport client announces about itself.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// JoinRequest is the first frame of a connection that did not pass its room
// in the query string.
type JoinRequest struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"roomId"`
	UserID string      `json:"userId,omitempty"`
}
