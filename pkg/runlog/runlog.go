// pkg/runlog/runlog.go

package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultPath is the append-only run log on the host.
const DefaultPath = "/var/log/forge/runs.jsonl"

// Event names written to the log.
const (
	EventRunStarted  = "run_started"
	EventStep        = "step"
	EventRunFinished = "run_finished"
)

// Entry is one line of the run log.
type Entry struct {
	Time     time.Time `json:"ts"`
	Event    string    `json:"event"`
	RunID    string    `json:"run_id"`
	Seq      int       `json:"seq,omitempty"`
	Step     string    `json:"step,omitempty"`
	Status   string    `json:"status,omitempty"`
	Optional bool      `json:"optional,omitempty"`
	Message  string    `json:"message,omitempty"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Command  string    `json:"command,omitempty"`
}

// StepRecord is what the executor hands over for each finished step.
type StepRecord struct {
	Step     string
	Status   string
	Optional bool
	Message  string
	Started  time.Time
	Finished time.Time
}

// Recorder appends the results of one run to the log. Each Recorder has its
// own run id; the zero value of *Recorder (nil) records nothing.
type Recorder struct {
	RunID string

	mu       sync.Mutex
	seq      int
	finished bool
	log      *zap.Logger
	closer   func() error
}

// Open appends to the log at path, creating it if needed.
func Open(path, command string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, cerr.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, cerr.Wrapf(err, "open run log %s", path)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	r := &Recorder{
		RunID: uuid.NewString(),
		log:   zap.New(core),
	}
	r.log = r.log.With(zap.String("run_id", r.RunID))
	r.closer = func() error {
		_ = r.log.Sync()
		return f.Close()
	}
	r.log.Info(EventRunStarted, zap.String("command", command))
	return r, nil
}

// Record appends one step result.
func (r *Recorder) Record(rec StepRecord) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	fields := []zap.Field{
		zap.Int("seq", seq),
		zap.String("step", rec.Step),
		zap.String("status", rec.Status),
		zap.Time("started", rec.Started),
		zap.Time("finished", rec.Finished),
	}
	if rec.Optional {
		fields = append(fields, zap.Bool("optional", true))
	}
	if rec.Message != "" {
		fields = append(fields, zap.String("message", rec.Message))
	}
	r.log.Info(EventStep, fields...)
}

// Finish records the run's exit code and closes the log.
func (r *Recorder) Finish(exitCode int) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	r.log.Info(EventRunFinished, zap.Int("exit_code", exitCode))
	return r.closer()
}

// Read parses the whole log. Lines that are not valid JSON are skipped.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "open run log %s", path)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, cerr.Wrapf(err, "read run log %s", path)
	}
	return entries, nil
}

// LastRun returns the entries of the most recent run, in order.
func LastRun(entries []Entry) []Entry {
	var runID string
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].RunID != "" {
			runID = entries[i].RunID
			break
		}
	}
	if runID == "" {
		return nil
	}
	var out []Entry
	for _, e := range entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}
