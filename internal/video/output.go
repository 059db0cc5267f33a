package video

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const stderrTailLines = 40

// maxLineLen bounds a single logged line. Longer lines are cut to this
// length and the rest up to the next line break is dropped.
const maxLineLen = 64 * 1024

// scanLines calls fn for every non-empty line of r until EOF. Carriage
// returns count as line breaks since ffmpeg rewrites status lines with \r.
// r is always read to EOF, even after a scan error, so the writer never
// blocks on a full pipe.
func scanLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(lineSplitter())
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			fn(line)
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// lineSplitter splits on \r or \n and truncates lines over maxLineLen.
func lineSplitter() bufio.SplitFunc {
	skipping := false
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		i := bytes.IndexAny(data, "\r\n")
		if skipping {
			if i < 0 {
				return len(data), nil, nil
			}
			skipping = false
			return i + 1, nil, nil
		}
		if i >= 0 {
			if i > maxLineLen {
				return i + 1, data[:maxLineLen], nil
			}
			return i + 1, data[:i], nil
		}
		if len(data) >= maxLineLen {
			skipping = true
			return len(data), data[:maxLineLen], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// tail keeps the last n lines written to it.
type tail struct {
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	return strings.Join(t.lines, "\n")
}

// progressLogger reads ffmpeg's -progress key=value stream and logs every
// 10% of the expected output length.
type progressLogger struct {
	log      *zap.Logger
	total    float64
	reported int
}

func newProgressLogger(log *zap.Logger, totalSeconds float64) *progressLogger {
	return &progressLogger{log: log, total: totalSeconds}
}

func (p *progressLogger) line(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms": // both are microseconds
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return
		}
		p.update(float64(us) / 1e6)
	case "progress":
		if value == "end" {
			p.update(p.total)
		}
	}
}

func (p *progressLogger) update(seconds float64) {
	if p.total <= 0 {
		return
	}
	pct := int(seconds / p.total * 100)
	if pct > 100 {
		pct = 100
	}
	step := pct / 10 * 10
	if step <= p.reported {
		return
	}
	p.reported = step
	p.log.Info("encoding",
		zap.Int("percent", step),
		zap.Float64("seconds", seconds),
		zap.Float64("total_seconds", p.total))
}
