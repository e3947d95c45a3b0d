package main

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"impulse-server/game"
)

var (
	ErrMatchFull   = errors.New("match full")
	ErrMatchClosed = errors.New("match closed")
	ErrNotSeated   = errors.New("not in this match")
	ErrSeatTaken   = errors.New("already seated")
)

const reasonNotYourEntity = "not your entity"

// Broadcaster is anything a match can push messages to
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// ResultRecorder persists the outcome of a finished game for an account
type ResultRecorder interface {
	RecordResult(playerID int64, won bool, kills, deaths int) error
}

// MatchSettings is what every game of a match is built from
type MatchSettings struct {
	Engine         game.Config
	StepInterval   time.Duration
	BroadcastEvery int
}

type seat struct {
	playerID string // engine player id
	name     string
	client   Broadcaster
	authID   int64 // 0 = guest
	rematch  bool
	kills    int
	deaths   int
}

// Match owns one engine and is its only writer: the engine is stepped on a
// ticker and every command arrives through the inbox, both on the goroutine
// running Run.
type Match struct {
	ID   string
	Name string

	settings MatchSettings
	engine   *game.Engine
	seats    [2]*seat
	tick     uint64
	emitted  int // events since the last state frame
	recorded bool

	inbox    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	results ResultRecorder
	metrics *Metrics
	log     zerolog.Logger
	onEmpty func()

	// mirror of the match summary for other goroutines
	infoMu     sync.RWMutex
	info       MatchInfo
	emptySince time.Time
}

// NewMatch creates a match with a fresh game. results and metrics may be nil.
func NewMatch(id, name string, settings MatchSettings, results ResultRecorder, metrics *Metrics, log zerolog.Logger) (*Match, error) {
	if settings.BroadcastEvery <= 0 {
		settings.BroadcastEvery = 1
	}
	m := &Match{
		ID:         id,
		Name:       name,
		settings:   settings,
		inbox:      make(chan func(), 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		results:    results,
		metrics:    metrics,
		log:        log.With().Str("match", id).Logger(),
		emptySince: time.Now(),
	}
	if err := m.newGame(); err != nil {
		return nil, err
	}
	return m, nil
}

// newGame replaces the engine and resets per-game seat counters
func (m *Match) newGame() error {
	engine, err := game.New(m.settings.Engine)
	if err != nil {
		return err
	}
	engine.Subscribe(m.forward)
	if m.metrics != nil {
		engine.Subscribe(m.metrics.Observe)
	}
	m.engine = engine
	m.recorded = false
	m.emitted = 0
	for _, s := range m.seats {
		if s != nil {
			s.rematch = false
			s.kills = 0
			s.deaths = 0
		}
	}
	m.publishInfo()
	return nil
}

// Run drives the match until Stop is called
func (m *Match) Run() {
	defer close(m.done)

	interval := m.settings.StepInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-ticker.C:
			m.step()
		case <-m.stop:
			return
		}
	}
}

// Stop terminates the match loop; safe to call more than once
func (m *Match) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Done is closed once Run has returned
func (m *Match) Done() <-chan struct{} {
	return m.done
}

// OnEmpty sets the callback invoked on the match goroutine when the last seated client leaves
func (m *Match) OnEmpty(fn func()) {
	m.onEmpty = fn
}

// do runs fn on the match goroutine and waits for it. Run must be running.
func (m *Match) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(finished) }:
	case <-m.stop:
		return ErrMatchClosed
	}
	select {
	case <-finished:
		return nil
	case <-m.stop:
		// fn may have stopped the match itself; once Run has returned,
		// finished tells whether fn ran
		<-m.done
		select {
		case <-finished:
			return nil
		default:
			return ErrMatchClosed
		}
	}
}

// Join seats c in the first free seat and returns its engine player id
func (m *Match) Join(c Broadcaster, name string, authID int64) (string, error) {
	var (
		pid string
		err error
	)
	if derr := m.do(func() { pid, err = m.join(c, name, authID) }); derr != nil {
		return "", derr
	}
	return pid, err
}

// Act hands a command from c to the engine
func (m *Match) Act(c Broadcaster, cmd game.Command) error {
	var err error
	if derr := m.do(func() { err = m.act(c, cmd) }); derr != nil {
		return derr
	}
	return err
}

// Leave frees c's seat
func (m *Match) Leave(c Broadcaster) error {
	return m.do(func() { m.leave(c) })
}

// Rematch records c's vote for a new game after gameover
func (m *Match) Rematch(c Broadcaster) error {
	var err error
	if derr := m.do(func() { err = m.rematch(c) }); derr != nil {
		return derr
	}
	return err
}

// Info returns the latest match summary
func (m *Match) Info() MatchInfo {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.info
}

// EmptySince reports since when the match has had no seated client.
// The zero time means somebody is seated.
func (m *Match) EmptySince() time.Time {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.emptySince
}

func (m *Match) join(c Broadcaster, name string, authID int64) (string, error) {
	if m.seatOf(c) >= 0 {
		return "", ErrSeatTaken
	}
	idx := -1
	for i, s := range m.seats {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrMatchFull
	}

	pid := m.engine.PlayerIDs()[idx]
	m.seats[idx] = &seat{playerID: pid, name: name, client: c, authID: authID}
	m.publishInfo()

	c.SendJSON(Envelope{T: MsgJoined, Data: MatchRef{MatchID: m.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{
		PlayerID: pid,
		Seat:     idx,
		State:    m.engine.Snapshot(),
	}})
	arrived := Envelope{T: MsgArrived, Data: ArrivedMsg{PlayerID: pid, Name: name, Seat: idx}}
	for i, s := range m.seats {
		if s != nil && i != idx {
			s.client.SendJSON(arrived)
		}
	}
	m.log.Info().Str("player", pid).Str("name", name).Int("seat", idx).Msg("player joined")
	return pid, nil
}

func (m *Match) act(c Broadcaster, cmd game.Command) error {
	idx := m.seatOf(c)
	if idx < 0 {
		return ErrNotSeated
	}
	s := m.seats[idx]
	if ent, ok := m.engine.Entity(cmd.EntityID); ok && ent.Owner != s.playerID {
		m.metrics.Reject(reasonNotYourEntity)
		c.SendJSON(errorEnvelope(reasonNotYourEntity))
		return &game.RejectedError{Command: cmd, Reason: reasonNotYourEntity}
	}

	err := m.engine.Dispatch(cmd)
	if err != nil {
		m.log.Debug().Err(err).Str("player", s.playerID).Int("entity", cmd.EntityID).Msg("command rejected")
	}
	m.publishInfo()
	return err
}

func (m *Match) leave(c Broadcaster) {
	idx := m.seatOf(c)
	if idx < 0 {
		return
	}
	pid := m.seats[idx].playerID
	m.seats[idx] = nil
	m.log.Info().Str("player", pid).Msg("player left")
	m.broadcast(Envelope{T: MsgLeft, Data: LeftMsg{PlayerID: pid}})
	m.publishInfo()

	if m.occupied() == 0 && m.onEmpty != nil {
		m.onEmpty()
	}
}

func (m *Match) rematch(c Broadcaster) error {
	idx := m.seatOf(c)
	if idx < 0 {
		return ErrNotSeated
	}
	if m.engine.Process() != game.ProcessGameOver {
		c.SendJSON(errorEnvelope("game is not over"))
		return nil
	}
	m.seats[idx].rematch = true

	votes := 0
	for _, s := range m.seats {
		if s != nil && s.rematch {
			votes++
		}
	}
	if votes < len(m.seats) {
		m.broadcast(Envelope{T: MsgRematchVote, Data: RematchMsg{Votes: votes}})
		return nil
	}

	if err := m.newGame(); err != nil {
		return err
	}
	m.log.Info().Msg("rematch started")
	m.broadcast(Envelope{T: MsgRematchVote, Data: RematchMsg{Votes: votes, Started: true}})
	m.broadcastState()
	return nil
}

// step advances the engine once and pushes a state frame when due
func (m *Match) step() {
	m.tick++
	if err := m.engine.Step(); err != nil {
		m.log.Error().Err(err).Msg("step failed")
		return
	}
	changed := m.emitted > 0
	if changed {
		m.publishInfo()
	}
	if changed || m.tick%uint64(m.settings.BroadcastEvery) == 0 {
		m.broadcastState()
	}
}

// forward relays engine events to both seats, in emission order
func (m *Match) forward(ev game.Event) {
	m.emitted++
	m.broadcast(Envelope{T: string(ev.Kind), Data: ev.Payload})

	switch p := ev.Payload.(type) {
	case game.EntityKilled:
		if s := m.seatFor(p.Killer.Owner); s != nil {
			s.kills++
		}
		if s := m.seatFor(p.Victim.Owner); s != nil {
			s.deaths++
		}
	case game.EntityOut:
		if s := m.seatFor(p.Entity.Owner); s != nil {
			s.deaths++
		}
	case game.GameOver:
		m.recordResults(p.WinnerID)
	}
}

// recordResults stores win/loss counters for seated accounts, once per game
func (m *Match) recordResults(winner string) {
	if m.recorded {
		return
	}
	m.recorded = true
	m.log.Info().Str("winner", winner).Int("turn", m.engine.Turn()).Msg("game over")
	if m.results == nil {
		return
	}
	for _, s := range m.seats {
		if s == nil || s.authID == 0 {
			continue
		}
		if err := m.results.RecordResult(s.authID, s.playerID == winner, s.kills, s.deaths); err != nil {
			m.log.Error().Err(err).Int64("account", s.authID).Msg("failed to record result")
		}
	}
}

func (m *Match) broadcastState() {
	m.emitted = 0
	if m.occupied() == 0 {
		return
	}
	data, err := encodeStateFrame(m.tick, m.engine.Snapshot())
	if err != nil {
		m.log.Error().Err(err).Msg("encode state frame")
		return
	}
	for _, s := range m.seats {
		if s != nil {
			s.client.SendBinary(data)
		}
	}
}

func (m *Match) broadcast(msg Envelope) {
	for _, s := range m.seats {
		if s != nil {
			s.client.SendJSON(msg)
		}
	}
}

func (m *Match) seatOf(c Broadcaster) int {
	for i, s := range m.seats {
		if s != nil && s.client == c {
			return i
		}
	}
	return -1
}

func (m *Match) seatFor(playerID string) *seat {
	for _, s := range m.seats {
		if s != nil && s.playerID == playerID {
			return s
		}
	}
	return nil
}

func (m *Match) occupied() int {
	n := 0
	for _, s := range m.seats {
		if s != nil {
			n++
		}
	}
	return n
}

func (m *Match) publishInfo() {
	n := m.occupied()
	m.infoMu.Lock()
	defer m.infoMu.Unlock()
	m.info = MatchInfo{
		ID:      m.ID,
		Name:    m.Name,
		Players: n,
		Turn:    m.engine.Turn(),
		Process: m.engine.Process(),
	}
	switch {
	case n > 0:
		m.emptySince = time.Time{}
	case m.emptySince.IsZero():
		m.emptySince = time.Now()
	}
}
