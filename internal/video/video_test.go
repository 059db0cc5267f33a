package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivlev/scene2video/internal/config"
	"github.com/ivlev/scene2video/internal/renderer"
	"github.com/ivlev/scene2video/internal/source"
)

func twoScenePlan(t *testing.T) *renderer.Plan {
	t.Helper()
	plan, err := renderer.Compile([]source.Scene{
		{Index: 0, AudioPath: "a0.mp3", ImagePath: "i0.png", Duration: 2.5},
		{Index: 1, AudioPath: "a1.mp3", ImagePath: "i1.png", Duration: 5},
	}, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestBuildArgs(t *testing.T) {
	e := NewFFmpegTranscoder("", zaptest.NewLogger(t))
	plan := twoScenePlan(t)

	got := e.BuildArgs(plan, "/out/final_video.mp4")
	want := []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-nostats", "-progress", "pipe:1",
		"-loop", "1", "-t", "2.5", "-i", "i0.png",
		"-i", "a0.mp3",
		"-loop", "1", "-t", "5", "-i", "i1.png",
		"-i", "a1.mp3",
		"-filter_complex", plan.FilterComplex(),
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		"/out/final_video.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args:\n got %q\nwant %q", got, want)
	}
	if e.Bin != "ffmpeg" {
		t.Errorf("default bin %q", e.Bin)
	}
}

func TestPartialPath(t *testing.T) {
	tests := map[string]string{
		"/out/final_video.mp4": "/out/.final_video.partial.mp4",
		"video.mkv":            ".video.partial.mkv",
		"/out/noext":           "/out/.noext.partial",
	}
	for in, want := range tests {
		if got := PartialPath(in); got != want {
			t.Errorf("PartialPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscodeErrorIs(t *testing.T) {
	var err error = &TranscodeError{ExitCode: 3}
	wrapped := fmt.Errorf("render: %w", err)
	if !errors.Is(wrapped, ErrTranscodeFailed) {
		t.Error("TranscodeError should match ErrTranscodeFailed")
	}
	var terr *TranscodeError
	if !errors.As(wrapped, &terr) || terr.ExitCode != 3 {
		t.Errorf("errors.As = %v", terr)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("message %q", err.Error())
	}
}

// fakeFFmpeg makes the transcoder re-run the test binary as TestHelperProcess.
func fakeFFmpeg(e *FFmpegTranscoder, exitCode int, argsFile string) {
	e.command = func(ctx context.Context, _ string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_EXIT_CODE="+strconv.Itoa(exitCode),
			"HELPER_ARGS_FILE="+argsFile,
		)
		return cmd
	}
}

// TestHelperProcess stands in for ffmpeg. It records its arguments, prints
// progress and stderr lines, writes the output file (last argument) and exits
// with HELPER_EXIT_CODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if f := os.Getenv("HELPER_ARGS_FILE"); f != "" {
		_ = os.WriteFile(f, []byte(strings.Join(args, "\n")), 0644)
	}

	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	if os.Getenv("HELPER_LONG_STDERR") == "1" {
		// One line far above the scanner buffer, then more than a pipe
		// buffer's worth of ordinary lines.
		os.Stderr.Write(bytes.Repeat([]byte("x"), 2<<20))
		os.Stderr.Write([]byte("\n"))
		for i := 0; i < 10000; i++ {
			fmt.Fprintln(os.Stderr, "frame=    1 fps=0.0 q=0.0 size=       0kB time=00:00:00.00")
		}
		fmt.Fprintln(os.Stderr, "last stderr line")
	}
	fmt.Fprintln(os.Stderr, "Input #0, png_pipe, from 'i0.png':")
	fmt.Println("out_time_us=3750000")
	fmt.Println("progress=continue")
	if code != 0 {
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0644)
		fmt.Fprintln(os.Stderr, "Error initializing filter 'concat'")
		os.Exit(code)
	}
	_ = os.WriteFile(args[len(args)-1], []byte("video"), 0644)
	fmt.Println("out_time_us=7500000")
	fmt.Println("progress=end")
	os.Exit(0)
}

func TestTranscodeSuccess(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "final_video.mp4")
	argsFile := filepath.Join(dir, "args.txt")
	if err := os.WriteFile(output, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	e := NewFFmpegTranscoder("ffmpeg", zap.New(core))
	fakeFFmpeg(e, 0, argsFile)

	got, err := e.Transcode(context.Background(), Job{Plan: twoScenePlan(t), OutputPath: output})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if got != output {
		t.Errorf("path = %q, want %q", got, output)
	}

	data, err := os.ReadFile(output)
	if err != nil || string(data) != "video" {
		t.Errorf("output content %q, err %v; existing file should be overwritten", data, err)
	}
	if _, err := os.Stat(PartialPath(output)); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial file left behind")
	}

	recorded, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(recorded), "\n")
	if last := lines[len(lines)-1]; last != PartialPath(output) {
		t.Errorf("ffmpeg wrote to %q, want partial path", last)
	}

	if logs.FilterMessage("ffmpeg").FilterField(zap.String("stderr", "Input #0, png_pipe, from 'i0.png':")).Len() != 1 {
		t.Error("stderr line not logged")
	}
	var percents []int64
	for _, entry := range logs.FilterMessage("encoding").All() {
		percents = append(percents, entry.ContextMap()["percent"].(int64))
	}
	if !reflect.DeepEqual(percents, []int64{50, 100}) {
		t.Errorf("progress percents = %v, want [50 100]", percents)
	}
}

func TestTranscodeLongStderrLine(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "final_video.mp4")

	e := NewFFmpegTranscoder("ffmpeg", zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel)))
	fakeFFmpeg(e, 0, "")
	inner := e.command
	e.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := inner(ctx, name, args...)
		cmd.Env = append(cmd.Env, "HELPER_LONG_STDERR=1")
		return cmd
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	start := time.Now()
	got, err := e.Transcode(ctx, Job{Plan: twoScenePlan(t), OutputPath: output})
	if err != nil {
		t.Fatalf("Transcode: %v (after %s)", err, time.Since(start))
	}
	if got != output {
		t.Errorf("path = %q", got)
	}
}

func TestTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "final_video.mp4")

	e := NewFFmpegTranscoder("ffmpeg", zaptest.NewLogger(t))
	fakeFFmpeg(e, 3, "")

	_, err := e.Transcode(context.Background(), Job{Plan: twoScenePlan(t), OutputPath: output})
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("err = %v, want ErrTranscodeFailed", err)
	}
	var terr *TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("err is %T", err)
	}
	if terr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", terr.ExitCode)
	}
	if !strings.Contains(terr.Stderr, "Error initializing filter 'concat'") {
		t.Errorf("stderr tail = %q", terr.Stderr)
	}

	for _, p := range []string{output, PartialPath(output)} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s exists after a failed transcode", p)
		}
	}
}

func TestTranscodeStartFailure(t *testing.T) {
	e := NewFFmpegTranscoder(filepath.Join(t.TempDir(), "no-ffmpeg"), zaptest.NewLogger(t))

	_, err := e.Transcode(context.Background(), Job{Plan: twoScenePlan(t), OutputPath: filepath.Join(t.TempDir(), "out.mp4")})
	var terr *TranscodeError
	if !errors.As(err, &terr) || terr.ExitCode != -1 {
		t.Fatalf("err = %v, want TranscodeError with exit code -1", err)
	}
}

func TestScanLines(t *testing.T) {
	var got []string
	err := scanLines(strings.NewReader("a\r\nframe=1\rframe=2\n\nlast"), func(l string) {
		got = append(got, l)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "frame=1", "frame=2", "last"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestScanLinesTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 3*maxLineLen)
	var got []string
	err := scanLines(strings.NewReader("first\n"+long+"\nafter\n"+long), func(l string) {
		got = append(got, l)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d lines, want 4", len(got))
	}
	if got[0] != "first" || got[2] != "after" {
		t.Errorf("lines around the long one = %q, %q", got[0], got[2])
	}
	for _, i := range []int{1, 3} {
		if len(got[i]) != maxLineLen {
			t.Errorf("line %d has %d bytes, want %d", i, len(got[i]), maxLineLen)
		}
	}
}

func TestTail(t *testing.T) {
	tl := newTail(2)
	for _, l := range []string{"1", "2", "3"} {
		tl.add(l)
	}
	if tl.String() != "2\n3" {
		t.Errorf("tail = %q", tl.String())
	}
}
