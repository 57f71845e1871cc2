package loop

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"protoloop/internal/database"
	"protoloop/internal/feedback"
	"protoloop/internal/generate"
	"protoloop/internal/harness"
	"protoloop/internal/metrics"
	"protoloop/internal/snapshot"
	"protoloop/internal/transcript"
)

// TestRunner runs the project's test command (or a proposed shell
// command) against a snapshot. Satisfied by harness.Runner.
type TestRunner interface {
	Run(ctx context.Context, snap *snapshot.Snapshot, command string) (*harness.TestResult, error)
}

// Config carries the per-project loop settings.
type Config struct {
	TestCommand    string
	Budget         int
	MaxEditBytes   int
	ExecRetries    int
	TreeBudget     int
	FeedbackBudget int
}

// Manager drives prototype sessions. Sessions are independent: the
// manager holds no per-session state, so distinct sessions may run
// concurrently on one manager.
type Manager struct {
	store  *snapshot.Store
	engine *PatchEngine
	gen    generate.Generator
	runner TestRunner
	cfg    Config

	sessions *database.SessionDB
	records  *database.TranscriptDB
	hist     *metrics.Histogram
}

// NewManager creates a loop manager.
func NewManager(gen generate.Generator, runner TestRunner, cfg Config) *Manager {
	if cfg.Budget <= 0 {
		cfg.Budget = 15
	}
	if cfg.ExecRetries <= 0 {
		cfg.ExecRetries = 2
	}
	store := snapshot.NewStore()
	return &Manager{
		store:  store,
		engine: NewPatchEngine(store, cfg.MaxEditBytes),
		gen:    gen,
		runner: runner,
		cfg:    cfg,
	}
}

// AttachDatabase enables write-through persistence of sessions,
// transcripts and latency metrics.
func (m *Manager) AttachDatabase(db *sql.DB) {
	m.sessions = database.NewSessionDB(db)
	m.records = database.NewTranscriptDB(db)
	m.hist = metrics.NewHistogram(db)
}

// NewSession creates an idle session over the given project tree.
// dir is where the final snapshot is checked out on termination;
// empty disables checkout (tests).
func (m *Manager) NewSession(spec, dir string, tree map[string][]byte) (*Session, *transcript.Log, error) {
	snap := m.store.Create(tree)
	sess := &Session{
		ID:        uuid.New().String(),
		Spec:      spec,
		Dir:       dir,
		Budget:    m.cfg.Budget,
		State:     StateIdle,
		Initial:   snap,
		Current:   snap,
		StartedAt: time.Now(),
	}
	if m.sessions != nil {
		specSum := sha256.Sum256([]byte(spec))
		if err := m.sessions.CreateSession(sess.ID, dir, hex.EncodeToString(specSum[:]), sess.Budget); err != nil {
			return nil, nil, err
		}
	}
	return sess, transcript.NewLog(sess.ID, m.records), nil
}

// Run executes the iterate-patch-test loop until the suite passes,
// the budget runs out, or ctx is cancelled. Conflicts, validation
// failures and timeouts are absorbed as feedback; the returned
// error is non-nil only for terminal failures (budget, cancel,
// infrastructure). The result always carries the last good
// snapshot and the full transcript.
func (m *Manager) Run(ctx context.Context, sess *Session, tlog *transcript.Log) (*Result, error) {
	if sess.State != StateIdle {
		return nil, fmt.Errorf("session %s is not idle (state %s)", sess.ID, sess.State)
	}
	defer tlog.Close()

	for {
		// Cancellation is honored only here and at the other
		// transition boundaries below, never mid-apply or mid-test.
		if res, done := m.checkCancel(ctx, sess, tlog); done {
			return res, ErrCancelled
		}
		if err := m.step(sess, tlog, StateGenerating, ""); err != nil {
			return nil, err
		}

		iter := sess.Iteration + 1
		rec := &IterationRecord{Iteration: iter, Timestamp: time.Now()}

		req := feedback.Compose(feedback.Input{
			Spec:           sess.Spec,
			TestCommand:    m.cfg.TestCommand,
			Snapshot:       sess.Current,
			Last:           digestOf(sess.lastRecord()),
			TreeBudget:     m.cfg.TreeBudget,
			FeedbackBudget: m.cfg.FeedbackBudget,
		})

		genStart := time.Now()
		prop, err := m.gen.Propose(ctx, req)
		m.observe(metrics.OpGenerate, genStart)
		if err != nil {
			if res, done := m.checkCancel(ctx, sess, tlog); done {
				return res, ErrCancelled
			}
			// A generator infrastructure hiccup is fed back like a
			// malformed response rather than killing the session.
			prop = &generate.Proposal{Kind: generate.KindMalformed, Reason: err.Error()}
		}
		rec.ProposalKind = prop.Kind
		rec.Rationale = prop.Rationale

		runSuite := false
		switch prop.Kind {
		case generate.KindMalformed:
			rec.ApplyStatus = ApplyValidation
			rec.Validation = prop.Reason

		case generate.KindNoChange:
			// The service declared the current snapshot final; the
			// suite decides whether it agrees.
			rec.ApplyStatus = ApplySkipped
			runSuite = true

		case generate.KindShell:
			rec.ApplyStatus = ApplySkipped
			rec.ShellCommand = prop.Command
			if res, done := m.checkCancel(ctx, sess, tlog); done {
				return res, ErrCancelled
			}
			if err := m.step(sess, tlog, StateApplying, ""); err != nil {
				return nil, err
			}
			shellRes, err := m.runner.Run(context.Background(), sess.Current, prop.Command)
			if err != nil {
				return m.finishInfra(sess, tlog, rec, fmt.Errorf("shell execution failed: %w", err))
			}
			rec.ShellOutput = shellRes.Combined()
			runSuite = true

		case generate.KindPatch:
			if res, done := m.checkCancel(ctx, sess, tlog); done {
				return res, ErrCancelled
			}
			if err := m.step(sess, tlog, StateApplying, ""); err != nil {
				return nil, err
			}
			applyStart := time.Now()
			ps, terr := m.engine.Translate(prop.Body)
			if terr != nil {
				rec.ApplyStatus = ApplyValidation
				rec.Validation = terr.Error()
			} else {
				rec.PatchSet = ps
				ar := m.engine.Apply(sess.Current, ps)
				if ar.Applied() {
					sess.Current = ar.Snapshot
					rec.ApplyStatus = ApplyApplied
					runSuite = true
				} else {
					rec.ApplyStatus = ApplyConflict
					rec.Conflicts = ar.Conflicts
				}
			}
			m.observe(metrics.OpApply, applyStart)
		}

		if runSuite {
			if res, done := m.checkCancel(ctx, sess, tlog); done {
				return res, ErrCancelled
			}
			if err := m.step(sess, tlog, StateTesting, ""); err != nil {
				return nil, err
			}
			testStart := time.Now()
			tres, err := m.runSuite(sess)
			m.observe(metrics.OpTest, testStart)
			if err != nil {
				return m.finishInfra(sess, tlog, rec, err)
			}
			rec.Test = tres
		}

		m.appendRecord(sess, rec)
		sess.Iteration = iter

		// A cancellation that arrived while the suite was running
		// takes effect here, after the in-flight result is recorded
		// and before any evaluation of it.
		if res, done := m.checkCancel(ctx, sess, tlog); done {
			return res, ErrCancelled
		}

		if rec.Test != nil {
			if err := m.step(sess, tlog, StateEvaluating, summarize(rec)); err != nil {
				return nil, err
			}
			if rec.Test.Passed() {
				return m.finish(sess, tlog, StateSucceeded, nil)
			}
			if rec.Test.Status == harness.StatusExecError {
				execErr := &ExecutionError{Attempts: m.cfg.ExecRetries + 1, Detail: firstLine(rec.Test.Stderr)}
				res, _ := m.finish(sess, tlog, StateFailed, execErr)
				return res, execErr
			}
		}

		if sess.Iteration >= sess.Budget {
			res, _ := m.finish(sess, tlog, StateFailed, ErrBudgetExhausted)
			return res, ErrBudgetExhausted
		}
	}
}

// runSuite runs the configured test command, retrying pure
// execution errors (command could not start) a fixed number of
// times before handing the last result back for escalation. The
// run context is detached from the session context: an in-flight
// run always finishes, the harness timeout is its only bound.
func (m *Manager) runSuite(sess *Session) (*harness.TestResult, error) {
	var res *harness.TestResult
	for attempt := 0; attempt <= m.cfg.ExecRetries; attempt++ {
		r, err := m.runner.Run(context.Background(), sess.Current, m.cfg.TestCommand)
		if err != nil {
			return nil, fmt.Errorf("test harness failed: %w", err)
		}
		res = r
		if r.Status != harness.StatusExecError {
			return r, nil
		}
		log.Printf("loop: test command could not start (attempt %d/%d): %s",
			attempt+1, m.cfg.ExecRetries+1, firstLine(r.Stderr))
	}
	return res, nil
}

// step moves the session along one legal edge and emits the
// transition event.
func (m *Manager) step(sess *Session, tlog *transcript.Log, to State, payload string) error {
	if err := sess.transition(to); err != nil {
		return err
	}
	tlog.Append(string(to), sess.Iteration, payload)
	return nil
}

// checkCancel aborts the session if the external context is done.
func (m *Manager) checkCancel(ctx context.Context, sess *Session, tlog *transcript.Log) (*Result, bool) {
	if ctx.Err() == nil {
		return nil, false
	}
	res, _ := m.finish(sess, tlog, StateAborted, ErrCancelled)
	return res, true
}

// finish moves the session to a terminal state, persists the final
// snapshot and transcript, and builds the result. Partial progress
// is kept on every terminal path.
func (m *Manager) finish(sess *Session, tlog *transcript.Log, state State, terminalErr error) (*Result, error) {
	if err := sess.transition(state); err != nil {
		return nil, err
	}
	tlog.Append(string(state), sess.Iteration, "")

	if sess.Dir != "" && sess.Current != nil {
		if err := snapshot.Sync(sess.Dir, sess.Initial, sess.Current); err != nil {
			log.Printf("loop: failed to check out final snapshot for session %s: %v", sess.ID, err)
		}
	}
	if m.sessions != nil {
		hash := ""
		if sess.Current != nil {
			hash = sess.Current.Hash()
		}
		if err := m.sessions.FinishSession(sess.ID, string(state), sess.Iteration, hash); err != nil {
			log.Printf("loop: failed to persist session %s: %v", sess.ID, err)
		}
	}

	return &Result{
		SessionID: sess.ID,
		Status:    state,
		Iteration: sess.Iteration,
		Snapshot:  sess.Current,
		Records:   sess.Records,
		Err:       terminalErr,
	}, nil
}

// finishInfra records the in-flight iteration, fails the session
// and surfaces the infrastructure fault to the caller.
func (m *Manager) finishInfra(sess *Session, tlog *transcript.Log, rec *IterationRecord, err error) (*Result, error) {
	m.appendRecord(sess, rec)
	sess.Iteration = rec.Iteration
	res, ferr := m.finish(sess, tlog, StateFailed, err)
	if ferr != nil {
		return nil, ferr
	}
	return res, err
}

// appendRecord appends rec to the session transcript and writes it
// through to the database when attached.
func (m *Manager) appendRecord(sess *Session, rec *IterationRecord) {
	sess.Records = append(sess.Records, rec)

	if m.records == nil {
		return
	}
	row := &database.RecordRow{
		SessionID:   sess.ID,
		Iteration:   rec.Iteration,
		Proposal:    string(rec.ProposalKind),
		ApplyStatus: rec.ApplyStatus,
	}
	if len(rec.Conflicts) > 0 {
		if data, err := json.Marshal(rec.Conflicts); err == nil {
			row.Conflicts = string(data)
		}
	}
	if rec.Validation != "" {
		row.Conflicts = rec.Validation
	}
	if rec.Test != nil {
		row.TestStatus = string(rec.Test.Status)
		row.ExitCode = rec.Test.ExitCode
		row.Output = rec.Test.Combined()
		row.DurationMs = rec.Test.Duration.Milliseconds()
	}
	if err := m.records.AppendRecord(row); err != nil {
		log.Printf("loop: failed to persist iteration %d: %v", rec.Iteration, err)
	}
}

// observe records phase latency when metrics are attached.
func (m *Manager) observe(operation string, start time.Time) {
	if m.hist == nil {
		return
	}
	if err := m.hist.RecordLatency(operation, int(time.Since(start).Milliseconds())); err != nil {
		log.Printf("loop: failed to record %s latency: %v", operation, err)
	}
}

// digestOf converts the last iteration record into the bounded
// feedback digest the composer embeds in the next request.
func digestOf(rec *IterationRecord) *feedback.RoundDigest {
	if rec == nil {
		return nil
	}
	d := &feedback.RoundDigest{Iteration: rec.Iteration}

	switch rec.ApplyStatus {
	case ApplyConflict:
		lines := make([]string, 0, len(rec.Conflicts))
		for _, c := range rec.Conflicts {
			lines = append(lines, c.String())
		}
		d.Conflicts = strings.Join(lines, "\n")
		return d
	case ApplyValidation:
		d.Malformed = rec.Validation
		return d
	}

	d.ShellCommand = rec.ShellCommand
	if rec.Test != nil {
		d.TestStatus = string(rec.Test.Status)
		d.ExitCode = rec.Test.ExitCode
		d.FailingTests = rec.Test.FailingCases()
		d.Output = rec.Test.Combined()
	}
	if d.Output == "" {
		d.Output = rec.ShellOutput
	}
	return d
}

// summarize renders a compact JSON payload for Evaluating events.
func summarize(rec *IterationRecord) string {
	summary := struct {
		Iteration   int    `json:"iteration"`
		Kind        string `json:"kind"`
		ApplyStatus string `json:"apply_status"`
		TestStatus  string `json:"test_status,omitempty"`
		ExitCode    int    `json:"exit_code,omitempty"`
		Failing     int    `json:"failing,omitempty"`
	}{
		Iteration:   rec.Iteration,
		Kind:        string(rec.ProposalKind),
		ApplyStatus: rec.ApplyStatus,
	}
	if rec.Test != nil {
		summary.TestStatus = string(rec.Test.Status)
		summary.ExitCode = rec.Test.ExitCode
		summary.Failing = len(rec.Test.FailingCases())
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
