// Package game holds the pong match the network layer drives. It knows
// nothing about sockets: peers reach it through match.Game.
package game

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Field and object sizes in screen pixels.
const (
	Width        = 800
	Height       = 600
	PaddleInset  = 40
	PaddleWidth  = 15
	PaddleHeight = 80
	BallSize     = 15
	PaddleSpeed  = 7.0
	BallSpeed    = 4.5

	// speedup is applied to the ball on every paddle hit.
	speedup = 1.05
)

// MatchDuration is the clock a match starts with.
const MatchDuration = 30 * time.Second

// BonusTime is added to the clock by the T key.
const BonusTime = 5 * time.Second

// Side identifies a paddle's half of the field.
type Side int

const (
	None Side = iota
	Left
	Right
)

// Vec is a point or a velocity.
type Vec struct {
	X, Y float64
}

// Velocity picks the ball velocity for a new point.
type Velocity func() (vx, vy float64)

// RandomVelocity serves at BallSpeed within 45 degrees of the horizontal,
// towards either side.
func RandomVelocity(r *rand.Rand) Velocity {
	return func() (float64, float64) {
		angle := r.Float64()*math.Pi/2 - math.Pi/4
		if r.Intn(2) == 1 {
			angle += math.Pi
		}
		return BallSpeed * math.Cos(angle), BallSpeed * math.Sin(angle)
	}
}

// Match is safe for use by the render loop and network goroutines at once.
type Match struct {
	mu sync.Mutex

	paddles [2]Vec
	ball    Vec
	vel     Vec
	scores  [2]int

	velocity Velocity
	now      func() time.Time
	started  time.Time
	bonus    time.Duration
	running  bool
}

// Option configures a Match.
type Option func(*Match)

// WithClock replaces time.Now for the match timer.
func WithClock(now func() time.Time) Option {
	return func(m *Match) { m.now = now }
}

// NewMatch returns a reset match. velocity is consulted on every Reset; a
// nil velocity leaves the ball still until SetBallVelocity is called, which
// is how a slave waits for its master.
func NewMatch(velocity Velocity, opts ...Option) *Match {
	m := &Match{velocity: velocity, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.Reset()
	return m
}

func paddleIndex(p int) (int, bool) {
	if p != 1 && p != 2 {
		return 0, false
	}
	return p - 1, true
}

// Reset re-centres both paddles and the ball and serves a new velocity.
// Scores and the clock carry over.
func (m *Match) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paddles[0] = Vec{PaddleInset, Height / 2}
	m.paddles[1] = Vec{Width - PaddleInset, Height / 2}
	m.ball = Vec{Width / 2, Height / 2}
	m.vel = Vec{}
	if m.velocity != nil {
		m.vel.X, m.vel.Y = m.velocity()
	}
}

// SetPaddlePosition moves paddle 1 or 2; other paddle numbers are ignored.
func (m *Match) SetPaddlePosition(p int, x, y float64) {
	i, ok := paddleIndex(p)
	if !ok {
		return
	}
	m.mu.Lock()
	m.paddles[i] = Vec{x, y}
	m.mu.Unlock()
}

// Paddle returns the centre of paddle 1 or 2.
func (m *Match) Paddle(p int) Vec {
	i, ok := paddleIndex(p)
	if !ok {
		return Vec{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paddles[i]
}

// MovePaddle shifts a paddle vertically, keeping it on the field, and
// returns where it ended up.
func (m *Match) MovePaddle(p int, dy float64) Vec {
	i, ok := paddleIndex(p)
	if !ok {
		return Vec{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	y := m.paddles[i].Y + dy
	y = math.Max(PaddleHeight/2, math.Min(Height-PaddleHeight/2, y))
	m.paddles[i].Y = y
	return m.paddles[i]
}

func (m *Match) SetBallVelocity(vx, vy float64) {
	m.mu.Lock()
	m.vel = Vec{vx, vy}
	m.mu.Unlock()
}

func (m *Match) BallVelocity() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vel.X, m.vel.Y
}

// Ball returns the centre of the ball.
func (m *Match) Ball() Vec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ball
}

// Scores returns the points of paddle 1 and paddle 2.
func (m *Match) Scores() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[0], m.scores[1]
}

// StartTimer starts the match clock. Later calls do nothing.
func (m *Match) StartTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.started = m.now()
}

// AddTime extends the clock.
func (m *Match) AddTime(d time.Duration) {
	m.mu.Lock()
	m.bonus += d
	m.mu.Unlock()
}

// Remaining is the time left, counted down in whole seconds.
func (m *Match) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := MatchDuration + m.bonus
	if !m.running {
		return total
	}
	left := total - m.now().Sub(m.started).Truncate(time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Over reports whether the clock ran out.
func (m *Match) Over() bool {
	return m.Remaining() == 0
}

// Step advances the ball by one frame. It returns the side that scored, if
// any; the ball then stops until the next Reset or SetBallVelocity.
func (m *Match) Step() Side {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vel == (Vec{}) {
		return None
	}
	m.ball.X += m.vel.X
	m.ball.Y += m.vel.Y

	const r = BallSize / 2.0
	if m.ball.Y-r <= 0 && m.vel.Y < 0 {
		m.ball.Y = r
		m.vel.Y = -m.vel.Y
	}
	if m.ball.Y+r >= Height && m.vel.Y > 0 {
		m.ball.Y = Height - r
		m.vel.Y = -m.vel.Y
	}

	if m.vel.X < 0 && m.hits(m.paddles[0]) {
		m.ball.X = m.paddles[0].X + PaddleWidth/2.0 + r
		m.bounce(m.paddles[0], 1)
	}
	if m.vel.X > 0 && m.hits(m.paddles[1]) {
		m.ball.X = m.paddles[1].X - PaddleWidth/2.0 - r
		m.bounce(m.paddles[1], -1)
	}

	switch {
	case m.ball.X+r < 0:
		m.scores[1]++
		m.vel = Vec{}
		return Right
	case m.ball.X-r > Width:
		m.scores[0]++
		m.vel = Vec{}
		return Left
	}
	return None
}

func (m *Match) hits(p Vec) bool {
	const r = BallSize / 2.0
	return m.ball.X+r >= p.X-PaddleWidth/2.0 && m.ball.X-r <= p.X+PaddleWidth/2.0 &&
		m.ball.Y+r >= p.Y-PaddleHeight/2 && m.ball.Y-r <= p.Y+PaddleHeight/2
}

// bounce sends the ball back in direction dir, angled by where it hit.
func (m *Match) bounce(p Vec, dir float64) {
	ratio := (m.ball.Y - p.Y) / (PaddleHeight / 2)
	angle := ratio * math.Pi / 4
	speed := math.Hypot(m.vel.X, m.vel.Y) * speedup
	m.vel.X = dir * speed * math.Cos(angle)
	m.vel.Y = speed * math.Sin(angle)
}
