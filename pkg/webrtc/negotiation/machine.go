// Package negotiation runs the offer/answer/ICE exchange for one local
// participant over whichever signaling transport is active.
package negotiation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Sender delivers a message to the room. transport.Transport satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *protocol.Message) error
}

// JoinScanner returns user-joined records newer than window. It backs the
// proactive offer when no roster was delivered.
type JoinScanner func(ctx context.Context, window time.Duration) ([]*protocol.Message, error)

type Options struct {
	ParticipantID    string
	InitialOfferWait time.Duration
	ReconnectDelay   time.Duration
	// MaxReconnects bounds one reconnection chain; zero disables retries.
	MaxReconnects  int
	JoinScanWindow time.Duration
	SendTimeout    time.Duration
	RecentJoins    JoinScanner

	OnStatus func(string)
	OnState  func(State)
	OnError  func(error)
}

// DefaultOptions returns the timings used by the browser client.
func DefaultOptions(participantID string) Options {
	return Options{
		ParticipantID:    participantID,
		InitialOfferWait: constants.DefaultInitialOfferWait,
		ReconnectDelay:   constants.DefaultReconnectDelay,
		MaxReconnects:    constants.DefaultMaxReconnects,
		JoinScanWindow:   constants.DefaultJoinScanWindow,
		SendTimeout:      constants.DefaultSendTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.InitialOfferWait <= 0 {
		o.InitialOfferWait = constants.DefaultInitialOfferWait
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = constants.DefaultReconnectDelay
	}
	if o.JoinScanWindow <= 0 {
		o.JoinScanWindow = constants.DefaultJoinScanWindow
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = constants.DefaultSendTimeout
	}
	if o.MaxReconnects < 0 {
		o.MaxReconnects = 0
	}
	return o
}

type eventKind int

const (
	evMessage eventKind = iota
	evPeerState
	evICEState
	evLocalCandidate
	evProactive
	evRetry
	evSnapshot
)

type event struct {
	kind      eventKind
	msg       *protocol.Message
	pc        PeerConnection
	peerState webrtc.PeerConnectionState
	iceState  webrtc.ICEConnectionState
	candidate *webrtc.ICECandidate
	epoch     uint64
	reply     chan Snapshot
}

// Snapshot is a view of the machine taken on its loop goroutine.
type Snapshot struct {
	State    State
	Self     string
	Remote   string
	Attempts int
	// Pending counts remote candidates waiting for a remote description.
	Pending int
}

// Machine is the negotiation state machine. Every event is handled on one
// goroutine started by Start; callbacks in Options run on that goroutine.
type Machine struct {
	opts    Options
	send    Sender
	factory PeerFactory
	log     *zap.Logger

	events    chan event
	done      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	current   atomic.Value

	// owned by the loop goroutine
	self     string
	state    State
	pc       PeerConnection
	remote   string
	roster   []string
	pending  []webrtc.ICECandidateInit
	observed bool
	retrying bool
	attempts int
	epoch    uint64
	// offerRetries counts resends of an offer that never left the process.
	offerRetries int
	// one pending timer per kind; stale firings are dropped by epoch
	timers map[eventKind]*time.Timer
}

const maxPendingCandidates = 256

// New builds a machine around a fresh peer connection from factory. A
// factory failure is a resource error and the session cannot start.
func New(send Sender, factory PeerFactory, opts Options, log *zap.Logger) (*Machine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pc, err := factory()
	if err != nil {
		return nil, apperrors.Resource(err, "create peer connection")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		opts:     opts.withDefaults(),
		send:     send,
		factory:  factory,
		log:      log,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		self:     opts.ParticipantID,
		state:    StateIdle,
		timers:   make(map[eventKind]*time.Timer),
	}
	m.current.Store(StateIdle)
	m.attach(pc)
	return m, nil
}

// Start launches the event loop and arms the proactive offer timer.
func (m *Machine) Start() {
	m.startOnce.Do(func() { go m.loop() })
}

// Stop ends the loop and cancels pending timers. The peer connection stays
// open until ClosePeer.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		close(m.done)
		// a machine that never started has no loop to wait for
		m.startOnce.Do(func() { close(m.loopDone) })
		<-m.loopDone
		for kind, t := range m.timers {
			t.Stop()
			delete(m.timers, kind)
		}
	})
}

// ClosePeer stops the machine if needed and closes the peer connection.
func (m *Machine) ClosePeer() error {
	m.Stop()
	if m.pc == nil {
		return nil
	}
	err := m.pc.Close()
	m.pc = nil
	return err
}

// Handle queues an inbound signaling message.
func (m *Machine) Handle(msg *protocol.Message) {
	m.post(event{kind: evMessage, msg: msg})
}

// State returns the current negotiation state.
func (m *Machine) State() State {
	return m.current.Load().(State)
}

// Snapshot asks the running loop for its current view. It returns only
// the state once the machine is stopped.
func (m *Machine) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case m.events <- event{kind: evSnapshot, reply: reply}:
	case <-m.done:
		return Snapshot{State: m.State()}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{State: m.State()}
	}
}

func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Machine) attach(pc PeerConnection) {
	m.pc = pc
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			m.post(event{kind: evLocalCandidate, pc: pc, candidate: c})
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.post(event{kind: evPeerState, pc: pc, peerState: s})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		m.post(event{kind: evICEState, pc: pc, iceState: s})
	})
}

func (m *Machine) loop() {
	defer close(m.loopDone)
	m.schedule(evProactive, m.opts.InitialOfferWait)
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

// schedule arms the timer for kind, replacing any pending one.
func (m *Machine) schedule(kind eventKind, d time.Duration) {
	if t := m.timers[kind]; t != nil {
		t.Stop()
	}
	epoch := m.epoch
	m.timers[kind] = time.AfterFunc(d, func() {
		m.post(event{kind: kind, epoch: epoch})
	})
}

func (m *Machine) dispatch(ev event) {
	switch ev.kind {
	case evMessage:
		m.onMessage(ev.msg)
	case evPeerState:
		if ev.pc == m.pc {
			m.onPeerState(ev.peerState)
		}
	case evICEState:
		if ev.pc == m.pc {
			m.onICEState(ev.iceState)
		}
	case evLocalCandidate:
		if ev.pc == m.pc {
			m.sendCandidate(ev.candidate)
		}
	case evProactive:
		if ev.epoch == m.epoch {
			m.proactiveOffer()
		}
	case evRetry:
		if ev.epoch == m.epoch {
			m.retry()
		}
	case evSnapshot:
		ev.reply <- Snapshot{
			State:    m.state,
			Self:     m.self,
			Remote:   m.remote,
			Attempts: m.attempts,
			Pending:  len(m.pending),
		}
	}
}

func (m *Machine) onMessage(msg *protocol.Message) {
	if msg == nil || (msg.From != "" && msg.From == m.self) {
		return
	}
	switch msg.Type {
	case protocol.TypeUserID:
		m.onUserID(msg)
	case protocol.TypeUserJoined:
		m.onUserJoined(msg)
	case protocol.TypeOffer:
		m.onOffer(msg)
	case protocol.TypeAnswer:
		m.onAnswer(msg)
	case protocol.TypeICECandidate:
		m.onRemoteCandidate(msg)
	case protocol.TypeUserLeft:
		m.onUserLeft(msg)
	default:
		m.log.Debug("ignoring message", zap.String("type", string(msg.Type)))
	}
}

func (m *Machine) onUserID(msg *protocol.Message) {
	if msg.UserID != "" {
		m.self = msg.UserID
	}
	m.roster = m.roster[:0]
	for _, p := range msg.Peers {
		if p != m.self {
			m.roster = append(m.roster, p)
		}
	}
	if len(m.roster) == 0 {
		m.status(constants.StatusWaiting)
	}
}

func peerOf(msg *protocol.Message) string {
	if msg.From != "" {
		return msg.From
	}
	return msg.UserID
}

// onUserJoined offers to the joiner. A join from someone other than the
// current remote replaces the call.
func (m *Machine) onUserJoined(msg *protocol.Message) {
	m.observed = true
	joiner := peerOf(msg)
	switch {
	case m.state == StateIdle:
	case m.state == StateFailed, joiner != "" && joiner != m.remote:
		m.log.Info("replacing peer connection for new participant",
			zap.String("previous", m.remote), zap.String("participant", joiner), zap.String("state", m.state.String()))
		m.epoch++
		m.retrying = false
		m.attempts = 0
		m.offerRetries = 0
		if !m.resetPeer() {
			return
		}
		m.setState(StateIdle)
	default:
		m.log.Debug("user-joined during negotiation, offer not repeated", zap.String("state", m.state.String()))
		return
	}
	m.remote = joiner
	m.status(constants.StatusUserJoined)
	m.offer(false)
}

// offer creates and sends a local offer. Outside an ICE restart it refuses
// while an offer is outstanding.
func (m *Machine) offer(restart bool) {
	if m.pc == nil {
		m.log.Warn("no peer connection, offer skipped")
		return
	}
	if m.state == StateOffering && !restart {
		m.log.Debug("offer already outstanding")
		return
	}
	desc, err := m.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if err != nil {
		m.fail(constants.StatusOfferFailed, apperrors.Negotiation(err, "create offer"))
		return
	}
	if err := m.pc.SetLocalDescription(desc); err != nil {
		m.fail(constants.StatusOfferFailed, apperrors.Negotiation(err, "set local offer"))
		return
	}
	if err := m.sendDescription(protocol.TypeOffer, desc); err != nil {
		m.offerNotSent(restart)
		return
	}
	m.offerRetries = 0
	m.setState(StateOffering)
	m.status(constants.StatusOfferSent)
}

// offerNotSent undoes a local offer the transport could not deliver. A
// first offer is retried on the proactive timer, up to MaxReconnects
// times. An ICE restart goes back through the reconnect chain.
func (m *Machine) offerNotSent(restart bool) {
	rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if err := m.pc.SetLocalDescription(rollback); err != nil {
		m.log.Warn("roll back undelivered offer", zap.Error(err))
	}
	m.status(constants.StatusOfferError)
	if restart {
		m.onPeerFailed()
		return
	}
	if m.offerRetries >= m.opts.MaxReconnects {
		m.log.Warn("offer not delivered, waiting for the peer", zap.Int("attempts", m.offerRetries))
		return
	}
	m.offerRetries++
	m.observed = false
	m.schedule(evProactive, m.opts.ReconnectDelay)
}

// polite reports whether the local side yields when offers collide. The
// smaller participant id is polite; equal ids yield too.
func (m *Machine) polite(remote string) bool {
	return m.self <= remote
}

func (m *Machine) onOffer(msg *protocol.Message) {
	m.observed = true
	if m.pc == nil {
		m.log.Warn("offer dropped, no peer connection")
		return
	}
	var sdp protocol.SDPMessage
	if err := msg.DecodePayload(&sdp); err != nil || sdp.SDP == "" {
		m.log.Warn("offer dropped, bad payload", zap.Error(err))
		return
	}
	from := peerOf(msg)
	if m.state == StateOffering {
		if !m.polite(from) {
			m.log.Debug("offer collision, keeping local offer", zap.String("remote", from))
			return
		}
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := m.pc.SetLocalDescription(rollback); err != nil {
			m.fail(constants.StatusOfferError, apperrors.Negotiation(err, "roll back local offer"))
			return
		}
	}
	m.remote = from
	m.setState(StateAnswering)

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp.SDP}
	if err := m.pc.SetRemoteDescription(remote); err != nil {
		m.fail(constants.StatusOfferError, apperrors.Negotiation(err, "apply remote offer"))
		return
	}
	m.flushCandidates()

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		m.fail(constants.StatusOfferError, apperrors.Negotiation(err, "create answer"))
		return
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		m.fail(constants.StatusOfferError, apperrors.Negotiation(err, "set local answer"))
		return
	}
	if err := m.sendDescription(protocol.TypeAnswer, answer); err != nil {
		// stay answering; a resent offer from the peer is answered again
		m.status(constants.StatusAnswerError)
		return
	}
	m.setState(StateConnected)
	m.status(constants.StatusAnswerSent)
}

func (m *Machine) onAnswer(msg *protocol.Message) {
	if m.pc == nil {
		m.log.Warn("answer dropped, no peer connection")
		return
	}
	if m.state != StateOffering {
		m.log.Debug("answer without outstanding offer", zap.String("state", m.state.String()))
		return
	}
	var sdp protocol.SDPMessage
	if err := msg.DecodePayload(&sdp); err != nil || sdp.SDP == "" {
		m.log.Warn("answer dropped, bad payload", zap.Error(err))
		return
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp.SDP}
	if err := m.pc.SetRemoteDescription(remote); err != nil {
		m.fail(constants.StatusAnswerError, apperrors.Negotiation(err, "apply remote answer"))
		return
	}
	m.remote = peerOf(msg)
	m.flushCandidates()
	m.setState(StateConnected)
	m.status(constants.StatusAnswerReceived)
}

func (m *Machine) onRemoteCandidate(msg *protocol.Message) {
	var c protocol.ICECandidateMessage
	if err := msg.DecodePayload(&c); err != nil {
		m.log.Warn("candidate dropped, bad payload", zap.Error(err))
		return
	}
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if m.pc == nil || m.pc.RemoteDescription() == nil {
		if len(m.pending) < maxPendingCandidates {
			m.pending = append(m.pending, init)
		}
		return
	}
	if err := m.pc.AddICECandidate(init); err != nil {
		m.log.Warn("add remote candidate", zap.Error(err))
	}
}

func (m *Machine) flushCandidates() {
	pending := m.pending
	m.pending = nil
	for _, c := range pending {
		if err := m.pc.AddICECandidate(c); err != nil {
			m.log.Warn("add buffered candidate", zap.Error(err))
		}
	}
}

func (m *Machine) sendCandidate(c *webrtc.ICECandidate) {
	init := c.ToJSON()
	_ = m.sendMessage(protocol.TypeICECandidate, protocol.ICECandidateMessage{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (m *Machine) onUserLeft(msg *protocol.Message) {
	left := msg.UserID
	if left == "" {
		left = msg.From
	}
	if m.remote != "" && left != "" && left != m.remote {
		m.log.Debug("ignoring user-left for another participant", zap.String("participant", left))
		return
	}
	m.status(constants.StatusUserLeft)
	m.epoch++
	m.retrying = false
	m.attempts = 0
	m.offerRetries = 0
	m.observed = false
	m.remote = ""
	if m.resetPeer() {
		m.setState(StateIdle)
	}
}

// resetPeer swaps the peer connection for a fresh one from the factory.
func (m *Machine) resetPeer() bool {
	if m.pc != nil {
		if err := m.pc.Close(); err != nil {
			m.log.Warn("close peer connection", zap.Error(err))
		}
	}
	m.pc = nil
	m.pending = nil
	pc, err := m.factory()
	if err != nil {
		m.fail(constants.StatusMediaUnavailable, apperrors.Resource(err, "recreate peer connection"))
		return false
	}
	m.attach(pc)
	return true
}

func (m *Machine) onPeerState(s webrtc.PeerConnectionState) {
	m.log.Debug("peer connection state", zap.String("state", s.String()))
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if m.retrying {
			m.epoch++
		}
		m.retrying = false
		m.attempts = 0
		m.status(constants.StatusConnected)
	case webrtc.PeerConnectionStateDisconnected:
		m.status(constants.StatusConnectionLost)
	case webrtc.PeerConnectionStateClosed:
		m.status(constants.StatusConnectionClosed)
	case webrtc.PeerConnectionStateFailed:
		m.onPeerFailed()
	}
}

func (m *Machine) onPeerFailed() {
	if m.state == StateIdle || m.state == StateFailed {
		return
	}
	if m.retrying {
		m.log.Debug("reconnect already pending")
		return
	}
	if m.attempts >= m.opts.MaxReconnects {
		m.fail(constants.StatusConnectionFailed,
			apperrors.NewAppErrorf(apperrors.ErrCodeNegotiation, "gave up after %d reconnect attempts", m.attempts))
		return
	}
	m.attempts++
	m.retrying = true
	m.status(constants.StatusReconnecting)
	m.schedule(evRetry, m.opts.ReconnectDelay)
}

func (m *Machine) retry() {
	m.retrying = false
	if m.state == StateIdle || m.state == StateFailed {
		return
	}
	m.log.Info("restarting ICE", zap.Int("attempt", m.attempts))
	m.offer(true)
}

func (m *Machine) onICEState(s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		m.status(constants.StatusICEConnected)
	case webrtc.ICEConnectionStateChecking:
		m.status(constants.StatusICEConnecting)
	case webrtc.ICEConnectionStateFailed:
		m.status(constants.StatusICEFailed)
	case webrtc.ICEConnectionStateDisconnected:
		m.status(constants.StatusICEDisconnected)
	}
}

// proactiveOffer recovers a peer whose user-joined we never saw, using the
// relay roster or, without one, recent join records.
func (m *Machine) proactiveOffer() {
	if m.observed || m.state != StateIdle {
		return
	}
	peers := append([]string(nil), m.roster...)
	if len(peers) == 0 && m.opts.RecentJoins != nil {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
		joins, err := m.opts.RecentJoins(ctx, m.opts.JoinScanWindow)
		cancel()
		if err != nil {
			m.log.Warn("scan recent joins", zap.Error(err))
		}
		for _, j := range joins {
			if p := peerOf(j); p != "" && p != m.self {
				peers = append(peers, p)
			}
		}
	}
	if len(peers) == 0 && m.remote != "" {
		peers = append(peers, m.remote)
	}
	if len(peers) == 0 {
		m.status(constants.StatusWaiting)
		return
	}
	m.remote = peers[0]
	m.status(constants.StatusFoundExisting)
	m.offer(false)
}

func (m *Machine) sendDescription(t protocol.MessageType, desc webrtc.SessionDescription) error {
	return m.sendMessage(t, protocol.SDPMessage{Type: desc.Type.String(), SDP: desc.SDP})
}

// sendMessage logs and returns send failures.
func (m *Machine) sendMessage(t protocol.MessageType, payload interface{}) error {
	msg, err := protocol.New(t, payload)
	if err != nil {
		return err
	}
	msg.From = m.self
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.SendTimeout)
	defer cancel()
	if err := m.send.Send(ctx, msg); err != nil {
		m.log.Warn("send signaling message", zap.String("type", string(t)), zap.Error(err))
		return err
	}
	return nil
}

func (m *Machine) fail(status string, err error) {
	m.log.Warn("negotiation failed", zap.String("state", m.state.String()), zap.Error(err))
	m.setState(StateFailed)
	m.status(status)
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.current.Store(s)
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}

func (m *Machine) status(s string) {
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(s)
	}
}
