package constants

import (
	"time"
)

const (
	DefaultStreamID   = "chatme"
	DefaultICETimeout = 10 * time.Second
	DefaultCodec      = CodecOPUS
)

const (
	CodecPCMU = "pcmu"
	CodecOPUS = "opus"
	CodecVP8  = "vp8"
	CodecH264 = "h264"
)

// Negotiation timings.
const (
	DefaultInitialOfferWait = 2 * time.Second
	DefaultReconnectDelay   = 3 * time.Second
	DefaultMaxReconnects    = 3
	DefaultJoinScanWindow   = 15 * time.Second
	DefaultSendTimeout      = 5 * time.Second
)

// User-facing status lines.
const (
	StatusConnecting       = "Connecting..."
	StatusSignalingUp      = "Connected to signaling server"
	StatusWaiting          = "Waiting for another user to join..."
	StatusUserJoined       = "User joined! Initiating connection..."
	StatusFoundExisting    = "Found existing users! Connecting..."
	StatusOfferSent        = "Connection initiated..."
	StatusAnswerSent       = "Answer sent, establishing connection..."
	StatusAnswerReceived   = "Answer received, finalizing connection..."
	StatusConnected        = "Connected! Video should be visible now."
	StatusConnectionLost   = "Connection lost"
	StatusConnectionClosed = "Connection closed"
	StatusReconnecting     = "Connection failed - trying to reconnect..."
	StatusConnectionFailed = "Connection failed"
	StatusOfferFailed      = "Connection failed to initiate"
	StatusOfferError       = "Error handling connection offer"
	StatusAnswerError      = "Error handling connection answer"
	StatusUserLeft         = "User left the room"
	StatusICEConnected     = "ICE connection established!"
	StatusICEConnecting    = "ICE connecting..."
	StatusICEFailed        = "ICE connection failed"
	StatusICEDisconnected  = "ICE disconnected"
	StatusMediaUnavailable = "Could not access camera or microphone"
	StatusRelayUnavailable = "Relay unavailable - connection limited to same device"
)
