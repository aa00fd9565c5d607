// Package screen draws a match with ebiten and feeds local input into it.
package screen

import (
	"fmt"
	"image/color"
	"log/slog"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"netpong/frame"
	"netpong/game"
	"netpong/match"
)

var bgColor = color.RGBA{0x10, 0x10, 0x18, 0xff}

// Pusher queues a message for the opponent without blocking.
type Pusher interface {
	Push(msg frame.Message)
}

// Screen implements ebiten.Game for one match.
type Screen struct {
	Match *game.Match
	State *match.State

	// GameOver is called once when the clock runs out, with the local
	// player's score.
	GameOver func(score int)

	Logger *slog.Logger

	mu       sync.Mutex
	pusher   Pusher
	lastSent game.Vec
	over     bool
	final    string

	paddleImage *ebiten.Image
	ballImage   *ebiten.Image
}

// New returns a screen for m.
func New(m *game.Match, state *match.State) *Screen {
	return &Screen{
		Match:  m,
		State:  state,
		Logger: slog.Default().With("component", "screen"),
	}
}

// SetPusher connects the screen to the opponent once its address is known.
func (s *Screen) SetPusher(p Pusher) {
	s.mu.Lock()
	s.pusher = p
	s.mu.Unlock()
}

func (s *Screen) push(msg frame.Message) {
	s.mu.Lock()
	p := s.pusher
	s.mu.Unlock()
	if p != nil {
		p.Push(msg)
	}
}

// Update handles input and advances the ball.
func (s *Screen) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyT) {
		s.bonus()
	}

	var dy float64
	if ebiten.IsKeyPressed(ebiten.KeyW) || ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		dy -= game.PaddleSpeed
	}
	if ebiten.IsKeyPressed(ebiten.KeyS) || ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		dy += game.PaddleSpeed
	}
	s.step(dy)
	return nil
}

// step is one frame of game logic with dy as the local paddle movement.
func (s *Screen) step(dy float64) {
	if !s.State.Connected() || s.isOver() {
		return
	}
	role := s.State.Role()

	pos := s.Match.MovePaddle(match.LocalPaddle(role), dy)
	if pos != s.lastSent {
		s.lastSent = pos
		s.push(frame.LocationSet{X: pos.X, Y: pos.Y})
	}

	if side := s.Match.Step(); side != game.None && role == match.Master {
		s.Match.Reset()
		vx, vy := s.Match.BallVelocity()
		s.push(frame.GameReset{VX: vx, VY: vy})
		s.Logger.Debug("point scored", "side", side)
	}

	if s.Match.Over() {
		s.finish(role)
	}
}

// bonus extends the clock of a running match.
func (s *Screen) bonus() {
	if !s.State.Connected() || s.isOver() {
		return
	}
	s.Match.AddTime(game.BonusTime)
	s.Logger.Debug("bonus time added", "remaining", s.Match.Remaining())
}

func (s *Screen) isOver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.over
}

func (s *Screen) finish(role match.Role) {
	p1, p2 := s.Match.Scores()
	mine, theirs := p1, p2
	if role == match.Slave {
		mine, theirs = p2, p1
	}

	s.mu.Lock()
	s.over = true
	s.final = fmt.Sprintf("Game over  %d - %d  (ESC to quit)", mine, theirs)
	s.mu.Unlock()

	s.Logger.Info("match over", "score", mine, "opponent", theirs)
	if s.GameOver != nil {
		go s.GameOver(mine)
	}
}

// Draw renders the field.
func (s *Screen) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)

	if !s.State.Connected() {
		drawLines(screen, []string{"Searching for a game..."}, game.Height/2-8)
		drawLines(screen, highscoreLines(s.State.Highscores()), game.Height/2+24)
		return
	}

	if s.paddleImage == nil {
		s.paddleImage = ebiten.NewImage(game.PaddleWidth, game.PaddleHeight)
		s.paddleImage.Fill(color.White)
		s.ballImage = ebiten.NewImage(game.BallSize, game.BallSize)
		s.ballImage.Fill(color.White)
	}

	for _, p := range []game.Vec{s.Match.Paddle(1), s.Match.Paddle(2)} {
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Translate(p.X-game.PaddleWidth/2.0, p.Y-game.PaddleHeight/2.0)
		screen.DrawImage(s.paddleImage, op)
	}
	b := s.Match.Ball()
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(b.X-game.BallSize/2.0, b.Y-game.BallSize/2.0)
	screen.DrawImage(s.ballImage, op)

	p1, p2 := s.Match.Scores()
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%d   %d", p1, p2), game.Width/2-20, 10)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%2.0fs", s.Match.Remaining().Seconds()), game.Width/2-10, 26)
	ebitenutil.DebugPrintAt(screen, "W/S or Up/Down to move | T: +5s | ESC: Quit", 5, game.Height-15)

	s.mu.Lock()
	final := s.final
	s.mu.Unlock()
	if final != "" {
		drawLines(screen, []string{final}, game.Height/2-8)
		drawLines(screen, highscoreLines(s.State.Highscores()), game.Height/2+24)
	}
}

// highscoreLines lists t best first. Rows are stored ascending, so the
// table is walked from the last row down. An empty table renders nothing.
func highscoreLines(t frame.HighscoreTable) []string {
	if t == (frame.HighscoreTable{}) {
		return nil
	}
	lines := make([]string, 0, frame.HighscoreSize+1)
	lines = append(lines, "HIGHSCORES")
	for i := frame.HighscoreSize - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("%d. %-10s %3d", frame.HighscoreSize-i, t[i].Name, t[i].Score))
	}
	return lines
}

// drawLines prints lines centred horizontally, starting at y.
func drawLines(screen *ebiten.Image, lines []string, y int) {
	for i, l := range lines {
		ebitenutil.DebugPrintAt(screen, l, game.Width/2-len(l)*3, y+i*16)
	}
}

// Layout defines the screen size.
func (s *Screen) Layout(outsideWidth, outsideHeight int) (int, int) {
	return game.Width, game.Height
}

// Run opens the window and blocks until it is closed.
func Run(s *Screen, title string) error {
	ebiten.SetWindowSize(game.Width, game.Height)
	ebiten.SetWindowTitle(title)
	return ebiten.RunGame(s)
}
