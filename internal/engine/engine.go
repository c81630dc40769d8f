// Package engine invokes an external UCI engine as a short-lived process,
// one process per call. The process is always terminated before a call
// returns, success or not.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrProcessStart = errors.New("engine process start failed")
	ErrTimeout      = errors.New("engine timed out")
	ErrNoMove       = errors.New("engine produced no move")
	ErrProtocol     = errors.New("engine protocol error")
)

// Oracle is the analysis capability the session manager depends on.
// Implementations must respect ctx and never block past it.
type Oracle interface {
	Play(ctx context.Context, fen string, skillLevel int, budget time.Duration) (Reply, error)
	Evaluate(ctx context.Context, fen string, depth int) (Evaluation, error)
}

// Reply is the engine's move in play mode.
type Reply struct {
	MoveUCI string
	Elapsed time.Duration
}

// Evaluation is the engine's judgement of a position at a fixed depth.
// MateIn is non-zero for forced mates (negative when the side to move is
// being mated); ScoreCP is meaningless in that case.
type Evaluation struct {
	BestMoveUCI string
	ScoreCP     int
	MateIn      int
	Depth       int
	Elapsed     time.Duration
}

const (
	defaultOverhead  = 2 * time.Second
	maxSkillLevel    = 20
	defaultEvalDepth = 15
)

// UCI runs a stockfish-compatible binary. Stateless between calls.
type UCI struct {
	binaryPath string
	overhead   time.Duration
	logger     *zap.Logger
}

func NewUCI(binaryPath string, logger *zap.Logger) (*UCI, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UCI{binaryPath: binaryPath, overhead: defaultOverhead, logger: logger}, nil
}

func (u *UCI) Play(ctx context.Context, fen string, skillLevel int, budget time.Duration) (Reply, error) {
	if budget <= 0 {
		budget = 800 * time.Millisecond
	}
	if skillLevel < 0 {
		skillLevel = 0
	}
	if skillLevel > maxSkillLevel {
		skillLevel = maxSkillLevel
	}

	callCtx, cancel := context.WithTimeout(ctx, budget+u.overhead)
	defer cancel()

	start := time.Now()
	p, err := startProcess(callCtx, u.binaryPath)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}
	defer p.close()

	if err := p.handshake(callCtx, skillLevel); err != nil {
		return Reply{}, mapCtxErr(callCtx, err)
	}
	if err := p.send(positionCommand(fen)); err != nil {
		return Reply{}, fmt.Errorf("%w: send position: %v", ErrProtocol, err)
	}
	if err := p.send("go movetime " + strconv.Itoa(int(budget.Milliseconds())) + "\n"); err != nil {
		return Reply{}, fmt.Errorf("%w: send go: %v", ErrProtocol, err)
	}

	best, _, err := p.awaitBestMove(callCtx)
	if err != nil {
		return Reply{}, mapCtxErr(callCtx, err)
	}
	if best == "" || best == "(none)" {
		return Reply{}, ErrNoMove
	}
	return Reply{MoveUCI: strings.ToLower(best), Elapsed: time.Since(start)}, nil
}

func (u *UCI) Evaluate(ctx context.Context, fen string, depth int) (Evaluation, error) {
	if depth <= 0 {
		depth = defaultEvalDepth
	}

	// Depth searches have no wall-clock bound of their own; scale the
	// allowance with depth the way move-time searches get a fixed buffer.
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(depth)*time.Second+u.overhead)
	defer cancel()

	start := time.Now()
	p, err := startProcess(callCtx, u.binaryPath)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrProcessStart, err)
	}
	defer p.close()

	if err := p.handshake(callCtx, maxSkillLevel); err != nil {
		return Evaluation{}, mapCtxErr(callCtx, err)
	}
	if err := p.send(positionCommand(fen)); err != nil {
		return Evaluation{}, fmt.Errorf("%w: send position: %v", ErrProtocol, err)
	}
	if err := p.send("go depth " + strconv.Itoa(depth) + "\n"); err != nil {
		return Evaluation{}, fmt.Errorf("%w: send go: %v", ErrProtocol, err)
	}

	best, score, err := p.awaitBestMove(callCtx)
	if err != nil {
		return Evaluation{}, mapCtxErr(callCtx, err)
	}
	if best == "" || best == "(none)" {
		return Evaluation{}, ErrNoMove
	}
	return Evaluation{
		BestMoveUCI: strings.ToLower(best),
		ScoreCP:     score.cp,
		MateIn:      score.mate,
		Depth:       depth,
		Elapsed:     time.Since(start),
	}, nil
}

func positionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func mapCtxErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrProtocol, err)
}

type score struct {
	cp   int
	mate int
}

// parseScore extracts the last reported evaluation from a UCI info line.
func parseScore(line string, prev score) score {
	parts := strings.Fields(line)
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "score" {
			continue
		}
		v, err := strconv.Atoi(parts[i+2])
		if err != nil {
			return prev
		}
		switch parts[i+1] {
		case "cp":
			return score{cp: v}
		case "mate":
			return score{mate: v}
		}
	}
	return prev
}
