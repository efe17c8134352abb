package stages

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// exitTempFail is the sysexits EX_TEMPFAIL convention the content CLI
	// uses for errors worth retrying (rate limits, upstream flaps).
	exitTempFail = 75
)

// ContentRunner executes clipforge-content-pipelines CLI commands as
// subprocesses. It is the single implementation of the content execution
// boundary used by the content stages.
type ContentRunner struct {
	cfg    Config
	python string // resolved python path
}

// Config holds the content runner's configuration.
type Config struct {
	PythonPath    string        // path to python binary; empty = auto-detect
	ModuleName    string        // default "clipforge_content_pipelines"
	WorkDir       string        // scratch dir for per-attempt in/out files
	DoctorTimeout time.Duration // timeout for doctor command
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// NewContentRunner creates a ContentRunner, resolving the Python binary path.
func NewContentRunner(cfg Config) (*ContentRunner, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("content runner initialised",
			"python", python,
			"module", cfg.ModuleName,
			"work_dir", cfg.WorkDir,
		)
	}

	return &ContentRunner{cfg: cfg, python: python}, nil
}

// RunDoctor probes the installed content pipelines environment.
func (r *ContentRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.WorkDir, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.Exec(ctx, nil, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasContent = caps.Summary.AllOK
	caps.HasFFmpeg = ffmpegOnPath()
	caps.ProbedAt = time.Now()

	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("doctor probe complete",
			"content", caps.HasContent,
			"ffmpeg", caps.HasFFmpeg,
			"deps_available", caps.Summary.Available,
			"deps_total", caps.Summary.Total,
		)
	}

	return &caps, nil
}

// WorkDir returns the scratch directory for per-attempt files.
func (r *ContentRunner) WorkDir() string {
	return r.cfg.WorkDir
}

// Exec runs one CLI command. onProgress, when non-nil, receives each
// well-formed "PROGRESS <pct> <message>" line the subprocess prints to
// stdout; everything else on stdout is discarded.
func (r *ContentRunner) Exec(ctx context.Context, onProgress func(percent int, message string), args ...string) RunResult {
	start := time.Now()

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("executing content command", "args", cmdArgs)
	}

	if err := cmd.Start(); err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	scanProgress(stdout, onProgress)

	err = cmd.Wait()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Warn("content command failed",
				"exit_code", exitCode,
				"duration_ms", elapsed.Milliseconds(),
				"stderr_tail", truncate(stderrTail, 512),
			)
		}
	} else if r.cfg.Logger != nil {
		r.cfg.Logger.Info("content command succeeded",
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// scanProgress reads stdout line by line, forwarding PROGRESS lines.
// Line format: PROGRESS <0-100> <free-form message>
func scanProgress(stdout io.Reader, onProgress func(percent int, message string)) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onProgress == nil {
			continue
		}
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, "PROGRESS ")
		if !ok {
			continue
		}
		pctStr, msg, _ := strings.Cut(rest, " ")
		pct, err := strconv.Atoi(pctStr)
		if err != nil || pct < 0 || pct > 100 {
			continue
		}
		onProgress(pct, strings.TrimSpace(msg))
	}
}

// SafePath sanitises a path for logging unless debug paths are enabled.
func (r *ContentRunner) SafePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func ffmpegOnPath() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
