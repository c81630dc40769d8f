package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// process wraps one running engine instance. Not safe for concurrent use;
// each call owns its process exclusively.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func startProcess(ctx context.Context, path string) (*process, error) {
	cmd := exec.CommandContext(ctx, path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	return &process{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

func (p *process) send(command string) error {
	if _, err := io.WriteString(p.stdin, command); err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(command), err)
	}
	return nil
}

// handshake runs the uci/isready exchange and applies the strength option.
func (p *process) handshake(ctx context.Context, skillLevel int) error {
	if err := p.send("uci\n"); err != nil {
		return err
	}
	if err := p.awaitToken(ctx, "uciok"); err != nil {
		return fmt.Errorf("await uciok: %w", err)
	}
	if err := p.send(fmt.Sprintf("setoption name Skill Level value %d\n", skillLevel)); err != nil {
		return err
	}
	if err := p.send("isready\n"); err != nil {
		return err
	}
	if err := p.awaitToken(ctx, "readyok"); err != nil {
		return fmt.Errorf("await readyok: %w", err)
	}
	return nil
}

func (p *process) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, token) {
			return nil
		}
	}
}

// awaitBestMove consumes info lines until bestmove, keeping the last
// reported score.
func (p *process) awaitBestMove(ctx context.Context) (string, score, error) {
	var last score
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return "", last, err
		}
		if strings.HasPrefix(line, "info ") {
			last = parseScore(line, last)
			continue
		}
		if strings.HasPrefix(line, "bestmove") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return "", last, fmt.Errorf("malformed bestmove line %q", line)
			}
			return fields[1], last, nil
		}
	}
}

// readLine reads one line honoring ctx. The read goroutine may outlive a
// cancelled call briefly; close() unblocks it by killing the process.
func (p *process) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("read engine output: %w", r.err)
		}
		return r.line, nil
	}
}

// close tears the process down unconditionally. quit is best-effort; the
// kill is what guarantees no orphan survives the call.
func (p *process) close() {
	_ = p.send("quit\n")
	_ = p.stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-done
	}
}
