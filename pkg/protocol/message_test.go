package protocol

import (
	"encoding/json"
	"testing"

	"github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageType
		wantErr bool
	}{
		{"offer", `{"type":"offer","payload":{"type":"offer","sdp":"v=0"}}`, TypeOffer, false},
		{"candidate", `{"type":"ice-candidate","payload":{"candidate":"candidate:1"}}`, TypeICECandidate, false},
		{"join", `{"type":"join","roomId":"ABC"}`, TypeJoin, false},
		{"not json", `hello`, "", true},
		{"missing type", `{"payload":{}}`, "", true},
		{"unknown type", `{"type":"chat"}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeProtocol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Type)
		})
	}
}

func TestPayloadForwardedVerbatim(t *testing.T) {
	in := `{"type":"answer","payload":{"sdp":"v=0\r\n","type":"answer","extra":[1,2]}}`
	msg, err := Decode([]byte(in))
	require.NoError(t, err)

	out, err := Encode(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(out, &back))
	assert.JSONEq(t, `{"sdp":"v=0\r\n","type":"answer","extra":[1,2]}`, string(back.Payload))
}

func TestRelayable(t *testing.T) {
	for _, typ := range []MessageType{TypeOffer, TypeAnswer, TypeICECandidate, TypeUserJoined} {
		assert.True(t, typ.Relayable(), typ)
	}
	for _, typ := range []MessageType{TypeUserID, TypeUserLeft, TypeJoin, "bogus"} {
		assert.False(t, typ.Relayable(), typ)
	}
}

func TestNewAndDecodePayload(t *testing.T) {
	msg, err := New(TypeOffer, SDPMessage{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	assert.NotZero(t, msg.Timestamp)

	var sdp SDPMessage
	require.NoError(t, msg.DecodePayload(&sdp))
	assert.Equal(t, "v=0", sdp.SDP)

	empty := &Message{Type: TypeAnswer}
	assert.Error(t, empty.DecodePayload(&sdp))
}

func TestCloneIsIndependent(t *testing.T) {
	msg := &Message{Type: TypeUserID, Peers: []string{"a"}, Payload: json.RawMessage(`{}`)}
	c := msg.Clone()
	c.From = "x"
	c.Peers[0] = "b"
	assert.Empty(t, msg.From)
	assert.Equal(t, "a", msg.Peers[0])
}

func TestRoomIDs(t *testing.T) {
	assert.Equal(t, "AB12CD34", NormalizeRoomID(" ab12cd34 "))
	assert.True(t, ValidRoomID("AB12CD34"))
	assert.False(t, ValidRoomID(""))
	assert.False(t, ValidRoomID("room-1"))
}
