package utils

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"
)

const (
	participantAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	roomCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	ParticipantIDPrefix = "user_"
	participantIDLength = 13
	RoomCodeLength      = 8
)

// GenerateParticipantID returns "user_" followed by 13 lowercase base36 characters.
func GenerateParticipantID() string {
	id, err := gonanoid.Generate(participantAlphabet, participantIDLength)
	if err != nil {
		// crypto/rand failure; nothing sensible left to do
		panic(fmt.Sprintf("generate participant id: %v", err))
	}
	return ParticipantIDPrefix + id
}

// GenerateRoomCode returns an 8 character upper-case alphanumeric code.
func GenerateRoomCode() string {
	code, err := gonanoid.Generate(roomCodeAlphabet, RoomCodeLength)
	if err != nil {
		panic(fmt.Sprintf("generate room code: %v", err))
	}
	return code
}
