package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/webrtc/constants"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeer struct {
	mu         sync.Mutex
	id         int
	offers     int
	restarts   int
	answers    int
	rollbacks  int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	remoteSets int
	candidates []webrtc.ICECandidateInit
	remoteErr  error
	closed     bool
	onCand     func(*webrtc.ICECandidate)
	onState    func(webrtc.PeerConnectionState)
	onICE      func(webrtc.ICEConnectionState)
}

func (p *fakePeer) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	if opts != nil && opts.ICERestart {
		p.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.id, p.offers)}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d-%d", p.id, p.answers)}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.Type == webrtc.SDPTypeRollback {
		p.rollbacks++
		p.local = nil
		return nil
	}
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = &d
	p.remoteSets++
	return nil
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	p.onCand = f
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = f
	p.mu.Unlock()
}

func (p *fakePeer) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	p.onICE = f
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) fire(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(s)
}

func (p *fakePeer) counts() (offers, restarts, answers, rollbacks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.restarts, p.answers, p.rollbacks
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type outbox struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	// fail rejects that many sends before delivering again.
	fail int
}

var errUndelivered = errors.New("transport down")

func (o *outbox) Send(_ context.Context, m *protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail > 0 {
		o.fail--
		return errUndelivered
	}
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) failNext(n int) {
	o.mu.Lock()
	o.fail = n
	o.mu.Unlock()
}

func (o *outbox) ofType(mt protocol.MessageType) []*protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*protocol.Message
	for _, m := range o.msgs {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	m    *Machine
	out  *outbox
	errs chan error

	mu         sync.Mutex
	peers      []*fakePeer
	statuses   []string
	factoryErr error
}

func (h *harness) factory() (PeerConnection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.factoryErr != nil {
		return nil, h.factoryErr
	}
	p := &fakePeer{id: len(h.peers) + 1}
	h.peers = append(h.peers, p)
	return p, nil
}

func (h *harness) peer(i int) *fakePeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[i]
}

func (h *harness) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *harness) status() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

func (h *harness) countStatus(s string) int {
	n := 0
	for _, got := range h.status() {
		if got == s {
			n++
		}
	}
	return n
}

func newHarness(t *testing.T, self string, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{out: &outbox{}, errs: make(chan error, 8)}
	opts := DefaultOptions(self)
	opts.InitialOfferWait = time.Hour
	opts.ReconnectDelay = 20 * time.Millisecond
	opts.OnStatus = func(s string) {
		h.mu.Lock()
		h.statuses = append(h.statuses, s)
		h.mu.Unlock()
	}
	opts.OnError = func(err error) { h.errs <- err }
	if mutate != nil {
		mutate(&opts)
	}
	m, err := New(h.out, h.factory, opts, zap.NewNop())
	require.NoError(t, err)
	h.m = m
	m.Start()
	t.Cleanup(func() { _ = m.ClosePeer() })
	return h
}

func message(t *testing.T, mt protocol.MessageType, from string, payload interface{}) *protocol.Message {
	t.Helper()
	m, err := protocol.New(mt, payload)
	require.NoError(t, err)
	m.From = from
	return m
}

func remoteOffer(t *testing.T, from string) *protocol.Message {
	return message(t, protocol.TypeOffer, from, protocol.SDPMessage{Type: "offer", SDP: "remote-offer"})
}

func remoteAnswer(t *testing.T, from string) *protocol.Message {
	return message(t, protocol.TypeAnswer, from, protocol.SDPMessage{Type: "answer", SDP: "remote-answer"})
}

func remoteCandidate(t *testing.T, from string) *protocol.Message {
	mid := "0"
	return message(t, protocol.TypeICECandidate, from, protocol.ICECandidateMessage{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid})
}

func TestUserJoinedStartsSingleOffer(t *testing.T) {
	h := newHarness(t, "user_a", nil)
	joined := message(t, protocol.TypeUserJoined, "user_b", nil)
	h.m.Handle(joined)
	h.m.Handle(joined)

	snap := h.m.Snapshot()
	assert.Equal(t, StateOffering, snap.State)
	assert.Equal(t, "user_b", snap.Remote)

	offers, _, _, _ := h.peer(0).counts()
	assert.Equal(t, 1, offers)
	sent := h.out.ofType(protocol.TypeOffer)
	require.Len(t, sent, 1)
	var sdp protocol.SDPMessage
	require.NoError(t, sent[0].DecodePayload(&sdp))
	assert.Equal(t, "offer-1-1", sdp.SDP)
	assert.Equal(t, "offer", sdp.Type)
	assert.Equal(t, []string{constants.StatusUserJoined, constants.StatusOfferSent}, h.status())
}

func TestAnswerCompletesOffer(t *testing.T) {
	h := newHarness(t, "user_a", nil)
	h.m.Handle(message(t, protocol.TypeUserJoined, "user_b", nil))
	h.m.Handle(remoteAnswer(t, "user_b"))
	h.m.Handle(remoteAnswer(t, "user_b"))

	assert.Equal(t, StateConnected, h.m.Snapshot().State)
	p := h.peer(0)
	p.mu.Lock()
	assert.Equal(t, 1, p.remoteSets, "duplicate answer is not applied")
	assert.Equal(t, webrtc.SDPTypeAnswer, p.remote.Type)
	p.mu.Unlock()
	assert.Equal(t, 1, h.countStatus(constants.StatusAnswerReceived))
}

func TestAnswerWithoutOfferIgnored(t *testing.T) {
	h := newHarness(t, "user_a", nil)
	h.m.Handle(remoteAnswer(t, "user_b"))
	assert.Equal(t, StateIdle, h.m.Snapshot().State)
	assert.Nil(t, h.peer(0).RemoteDescription())
}

func TestOfferIsAnswered(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	h.m.Handle(remoteOffer(t, "user_a"))

	snap := h.m.Snapshot()
	assert.Equal(t, StateConnected, snap.State)
	assert.Equal(t, "user_a", snap.Remote)
	answers := h.out.ofType(protocol.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "user_b", answers[0].From)
	assert.Empty(t, h.out.ofType(protocol.TypeOffer))
	assert.Equal(t, []string{constants.StatusAnswerSent}, h.status())
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	h.m.Handle(remoteCandidate(t, "user_a"))
	h.m.Handle(remoteCandidate(t, "user_a"))

	snap := h.m.Snapshot()
	assert.Equal(t, 2, snap.Pending)
	assert.Equal(t, StateIdle, snap.State, "candidates do not change state")
	assert.Zero(t, h.peer(0).candidateCount())

	h.m.Handle(remoteOffer(t, "user_a"))
	assert.Zero(t, h.m.Snapshot().Pending)
	assert.Equal(t, 2, h.peer(0).candidateCount())

	h.m.Handle(remoteCandidate(t, "user_a"))
	h.m.Snapshot()
	assert.Equal(t, 3, h.peer(0).candidateCount())
}

func TestOfferCollision(t *testing.T) {
	tests := []struct {
		name       string
		self       string
		remote     string
		wantState  State
		wantAnswer bool
	}{
		{"smaller id yields", "user_a", "user_b", StateConnected, true},
		{"larger id keeps its offer", "user_c", "user_b", StateOffering, false},
		{"prefix id yields", "user_b", "user_b2", StateConnected, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.self, nil)
			h.m.Handle(message(t, protocol.TypeUserJoined, tt.remote, nil))
			h.m.Handle(remoteOffer(t, tt.remote))

			assert.Equal(t, tt.wantState, h.m.Snapshot().State)
			_, _, answers, rollbacks := h.peer(0).counts()
			if tt.wantAnswer {
				assert.Equal(t, 1, rollbacks)
				assert.Equal(t, 1, answers)
				assert.Len(t, h.out.ofType(protocol.TypeAnswer), 1)
			} else {
				assert.Zero(t, rollbacks)
				assert.Empty(t, h.out.ofType(protocol.TypeAnswer))
			}
			assert.Len(t, h.out.ofType(protocol.TypeOffer), 1)
		})
	}
}

func TestPoliteComparesIDs(t *testing.T) {
	m := &Machine{self: "user_same"}
	assert.True(t, m.polite("user_same"))
	assert.True(t, m.polite("user_zzz"))
	assert.False(t, m.polite("user_aaa"))
}

func TestRemoteDescriptionRejected(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	h.peer(0).mu.Lock()
	h.peer(0).remoteErr = errors.New("malformed sdp")
	h.peer(0).mu.Unlock()

	h.m.Handle(remoteOffer(t, "user_a"))
	assert.Equal(t, StateFailed, h.m.Snapshot().State)
	assert.Contains(t, h.status(), constants.StatusOfferError)
	select {
	case err := <-h.errs:
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNegotiation))
	default:
		t.Fatal("error callback not called")
	}
	assert.Empty(t, h.out.ofType(protocol.TypeAnswer))
}

// connect drives h to the connected state as the answering side.
func connect(t *testing.T, h *harness) *fakePeer {
	t.Helper()
	h.m.Handle(remoteOffer(t, "user_a"))
	require.Equal(t, StateConnected, h.m.Snapshot().State)
	p := h.peer(h.peerCount() - 1)
	p.fire(webrtc.PeerConnectionStateConnected)
	return p
}

func TestReconnectChainIsBounded(t *testing.T) {
	h := newHarness(t, "user_b", func(o *Options) { o.MaxReconnects = 2 })
	p := connect(t, h)

	p.fire(webrtc.PeerConnectionStateFailed)
	p.fire(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == 1 }, time.Second, 5*time.Millisecond)
	snap := h.m.Snapshot()
	assert.Equal(t, 1, snap.Attempts)
	assert.Equal(t, StateOffering, snap.State)
	assert.Equal(t, 1, h.countStatus(constants.StatusReconnecting), "second failure while pending is ignored")

	p.fire(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.m.Snapshot().Attempts)

	p.fire(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, StateFailed, h.m.Snapshot().State)
	assert.Contains(t, h.status(), constants.StatusConnectionFailed)

	time.Sleep(60 * time.Millisecond)
	_, restarts, _, _ := p.counts()
	assert.Equal(t, 2, restarts)
}

func TestReconnectChainResetsOnConnected(t *testing.T) {
	h := newHarness(t, "user_b", func(o *Options) {
		o.MaxReconnects = 1
		o.ReconnectDelay = 10 * time.Millisecond
	})
	p := connect(t, h)

	p.fire(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == 1 }, time.Second, 5*time.Millisecond)
	h.m.Handle(remoteAnswer(t, "user_a"))
	p.fire(webrtc.PeerConnectionStateConnected)
	assert.Zero(t, h.m.Snapshot().Attempts)

	p.fire(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == 2 }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateFailed, h.m.Snapshot().State)
}

func TestConnectedCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, "user_b", func(o *Options) { o.ReconnectDelay = 50 * time.Millisecond })
	p := connect(t, h)

	p.fire(webrtc.PeerConnectionStateFailed)
	p.fire(webrtc.PeerConnectionStateConnected)
	h.m.Snapshot()
	time.Sleep(100 * time.Millisecond)
	_, restarts, _, _ := p.counts()
	assert.Zero(t, restarts)
	assert.Equal(t, StateConnected, h.m.Snapshot().State)
}

func TestProactiveOffer(t *testing.T) {
	scan := func(joins ...string) JoinScanner {
		return func(context.Context, time.Duration) ([]*protocol.Message, error) {
			var out []*protocol.Message
			for _, j := range joins {
				out = append(out, &protocol.Message{Type: protocol.TypeUserJoined, From: j})
			}
			return out, nil
		}
	}
	tests := []struct {
		name       string
		roster     []string
		scanner    JoinScanner
		wantOffer  bool
		wantStatus string
	}{
		{"roster from relay", []string{"user_b", "user_a"}, nil, true, constants.StatusFoundExisting},
		{"recent joins from store", nil, scan("user_a", "user_b"), true, constants.StatusFoundExisting},
		{"nobody there", nil, scan("user_a"), false, constants.StatusWaiting},
		{"no roster no scanner", nil, nil, false, constants.StatusWaiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "user_a", func(o *Options) {
				o.InitialOfferWait = 20 * time.Millisecond
				o.RecentJoins = tt.scanner
			})
			if tt.roster != nil {
				h.m.Handle(&protocol.Message{Type: protocol.TypeUserID, UserID: "user_a", Peers: tt.roster})
			}
			require.Eventually(t, func() bool { return h.countStatus(tt.wantStatus) > 0 }, time.Second, 5*time.Millisecond)
			snap := h.m.Snapshot()
			if tt.wantOffer {
				assert.Equal(t, StateOffering, snap.State)
				assert.Equal(t, "user_b", snap.Remote)
				assert.Len(t, h.out.ofType(protocol.TypeOffer), 1)
			} else {
				assert.Equal(t, StateIdle, snap.State)
				assert.Empty(t, h.out.ofType(protocol.TypeOffer))
			}
		})
	}
}

func TestProactiveOfferSkippedAfterObservedOffer(t *testing.T) {
	h := newHarness(t, "user_b", func(o *Options) { o.InitialOfferWait = 30 * time.Millisecond })
	h.m.Handle(&protocol.Message{Type: protocol.TypeUserID, UserID: "user_b", Peers: []string{"user_a"}})
	h.m.Handle(remoteOffer(t, "user_a"))
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, StateConnected, h.m.Snapshot().State)
	assert.Empty(t, h.out.ofType(protocol.TypeOffer))
	assert.Zero(t, h.countStatus(constants.StatusFoundExisting))
}

func TestUserLeftRecreatesPeer(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	old := connect(t, h)

	h.m.Handle(&protocol.Message{Type: protocol.TypeUserLeft, UserID: "user_a", From: "user_a"})
	snap := h.m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Remote)
	assert.Equal(t, 2, h.peerCount())
	old.mu.Lock()
	assert.True(t, old.closed)
	old.mu.Unlock()
	assert.Contains(t, h.status(), constants.StatusUserLeft)

	// events from the discarded peer are ignored
	old.fire(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, StateIdle, h.m.Snapshot().State)

	h.m.Handle(message(t, protocol.TypeUserJoined, "user_c", nil))
	assert.Equal(t, StateOffering, h.m.Snapshot().State)
	offers, _, _, _ := h.peer(1).counts()
	assert.Equal(t, 1, offers)
}

func TestUserLeftForOtherParticipantIgnored(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	connect(t, h)
	h.m.Handle(&protocol.Message{Type: protocol.TypeUserLeft, UserID: "user_z"})
	assert.Equal(t, StateConnected, h.m.Snapshot().State)
	assert.Equal(t, 1, h.peerCount())
}

func TestFactoryFailure(t *testing.T) {
	_, err := New(&outbox{}, func() (PeerConnection, error) { return nil, errors.New("no camera") }, DefaultOptions("user_a"), nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResource))

	h := newHarness(t, "user_b", nil)
	connect(t, h)
	h.mu.Lock()
	h.factoryErr = errors.New("device busy")
	h.mu.Unlock()

	h.m.Handle(&protocol.Message{Type: protocol.TypeUserLeft, UserID: "user_a"})
	assert.Equal(t, StateFailed, h.m.Snapshot().State)
	assert.Contains(t, h.status(), constants.StatusMediaUnavailable)

	// without a peer connection offers are dropped
	h.m.Handle(remoteOffer(t, "user_c"))
	assert.Equal(t, StateFailed, h.m.Snapshot().State)
	assert.Len(t, h.out.ofType(protocol.TypeAnswer), 1)
}

func TestLocalCandidatesAreSent(t *testing.T) {
	h := newHarness(t, "user_a", nil)
	p := h.peer(0)
	p.mu.Lock()
	emit := p.onCand
	p.mu.Unlock()

	emit(nil)
	emit(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	h.m.Snapshot()
	sent := h.out.ofType(protocol.TypeICECandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, "user_a", sent[0].From)
}

func TestStopIsIdempotent(t *testing.T) {
	m, err := New(&outbox{}, func() (PeerConnection, error) { return &fakePeer{}, nil }, DefaultOptions("user_a"), nil)
	require.NoError(t, err)
	m.Stop()
	m.Stop()
	m.Start()
	assert.Equal(t, StateIdle, m.Snapshot().State)
	require.NoError(t, m.ClosePeer())
	require.NoError(t, m.ClosePeer())
}

func TestUndeliveredOfferIsRolledBack(t *testing.T) {
	h := newHarness(t, "user_b", func(o *Options) { o.ReconnectDelay = time.Hour })
	h.out.failNext(1)
	joined := message(t, protocol.TypeUserJoined, "user_a", nil)

	h.m.Handle(joined)
	snap := h.m.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "user_a", snap.Remote)
	assert.Empty(t, h.out.ofType(protocol.TypeOffer))
	_, _, _, rollbacks := h.peer(0).counts()
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 1, h.countStatus(constants.StatusOfferError))

	h.m.Handle(joined)
	h.m.Handle(remoteOffer(t, "user_a"))
	snap = h.m.Snapshot()
	assert.Equal(t, StateOffering, snap.State)
	assert.Len(t, h.out.ofType(protocol.TypeOffer), 1)
	assert.Empty(t, h.out.ofType(protocol.TypeAnswer))
	offers, _, _, _ := h.peer(0).counts()
	assert.Equal(t, 2, offers)
}

func TestUndeliveredOfferIsResent(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		delivered int
		state     State
	}{
		{name: "transient outage", failures: 2, delivered: 1, state: StateOffering},
		{name: "outage outlasts retries", failures: 10, delivered: 0, state: StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "user_a", nil)
			h.out.failNext(tt.failures)
			h.m.Handle(message(t, protocol.TypeUserJoined, "user_b", nil))

			// One first attempt plus MaxReconnects resends at most.
			attempts := tt.failures + 1
			if attempts > DefaultOptions("user_a").MaxReconnects+1 {
				attempts = DefaultOptions("user_a").MaxReconnects + 1
			}
			require.Eventually(t, func() bool {
				offers, _, _, _ := h.peer(0).counts()
				return offers == attempts
			}, time.Second, 5*time.Millisecond)
			time.Sleep(60 * time.Millisecond)

			offers, _, _, rollbacks := h.peer(0).counts()
			assert.Equal(t, attempts, offers)
			assert.Equal(t, attempts-tt.delivered, rollbacks)
			assert.Len(t, h.out.ofType(protocol.TypeOffer), tt.delivered)
			assert.Equal(t, tt.state, h.m.State())
			assert.Equal(t, "user_b", h.m.Snapshot().Remote)
		})
	}
}

func TestUndeliveredAnswerKeepsAnswering(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	h.out.failNext(1)
	h.m.Handle(remoteOffer(t, "user_a"))
	assert.Equal(t, StateAnswering, h.m.Snapshot().State)
	assert.Empty(t, h.out.ofType(protocol.TypeAnswer))
	assert.Equal(t, 1, h.countStatus(constants.StatusAnswerError))
	assert.Zero(t, h.countStatus(constants.StatusAnswerSent))

	h.m.Handle(remoteOffer(t, "user_a"))
	assert.Equal(t, StateConnected, h.m.Snapshot().State)
	assert.Len(t, h.out.ofType(protocol.TypeAnswer), 1)
}

func TestUndeliveredRestartUsesReconnectChain(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	p := connect(t, h)

	h.out.failNext(1)
	p.fire(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == 2 }, time.Second, 5*time.Millisecond)

	snap := h.m.Snapshot()
	assert.Equal(t, 2, snap.Attempts)
	assert.Len(t, h.out.ofType(protocol.TypeOffer), 1)
	_, _, _, rollbacks := p.counts()
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 2, h.countStatus(constants.StatusReconnecting))
}

func TestUserJoinedFromNewParticipantReplacesCall(t *testing.T) {
	tests := []struct {
		name   string
		joiner string
		peers  int
		state  State
		remote string
	}{
		{name: "same participant", joiner: "user_a", peers: 1, state: StateConnected, remote: "user_a"},
		{name: "new participant", joiner: "user_c", peers: 2, state: StateOffering, remote: "user_c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "user_b", nil)
			old := connect(t, h)

			h.m.Handle(message(t, protocol.TypeUserJoined, tt.joiner, nil))
			snap := h.m.Snapshot()
			assert.Equal(t, tt.state, snap.State)
			assert.Equal(t, tt.remote, snap.Remote)
			require.Equal(t, tt.peers, h.peerCount())
			if tt.peers == 1 {
				assert.Empty(t, h.out.ofType(protocol.TypeOffer))
				return
			}
			old.mu.Lock()
			assert.True(t, old.closed)
			old.mu.Unlock()
			offers, _, _, _ := h.peer(1).counts()
			assert.Equal(t, 1, offers)
			assert.Len(t, h.out.ofType(protocol.TypeOffer), 1)

			// A late state change from the replaced peer is ignored.
			old.fire(webrtc.PeerConnectionStateFailed)
			assert.Zero(t, h.m.Snapshot().Attempts)
		})
	}
}

func TestUserJoinedAfterFailureRecovers(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	h.peer(0).mu.Lock()
	h.peer(0).remoteErr = errors.New("bad sdp")
	h.peer(0).mu.Unlock()
	h.m.Handle(remoteOffer(t, "user_a"))
	require.Equal(t, StateFailed, h.m.Snapshot().State)
	<-h.errs

	h.m.Handle(message(t, protocol.TypeUserJoined, "user_a", nil))
	assert.Equal(t, StateOffering, h.m.Snapshot().State)
	assert.Equal(t, 2, h.peerCount())
}

func TestTimersAreReplaced(t *testing.T) {
	h := newHarness(t, "user_b", nil)
	p := connect(t, h)

	for i := 1; i <= 5; i++ {
		p.fire(webrtc.PeerConnectionStateFailed)
		require.Eventually(t, func() bool { _, r, _, _ := p.counts(); return r == i }, time.Second, 5*time.Millisecond)
		p.fire(webrtc.PeerConnectionStateConnected)
	}

	h.m.Snapshot()
	assert.LessOrEqual(t, len(h.m.timers), 2)

	h.m.Stop()
	assert.Empty(t, h.m.timers)
}
