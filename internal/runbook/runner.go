package runbook

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opensandbox/ptyctl/internal/envfile"
	"github.com/opensandbox/ptyctl/internal/journal"
	"github.com/opensandbox/ptyctl/internal/metrics"
	"github.com/opensandbox/ptyctl/internal/seed"
	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/internal/verify"
	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/types"
)

const defaultCaptureChars = 4000

// SecretFunc fetches a JSON secret as key/value pairs.
type SecretFunc func(ctx context.Context, arn string) (map[string]string, error)

// Runner executes runbook steps through a bridge client.
type Runner struct {
	Client *client.Client
	// SessionID overrides the runbook's session.
	SessionID string
	Wait      client.WaitOptions

	ChunkSize  int
	ChunkDelay time.Duration

	// Journal, Secrets, HTTPClient and Out are optional.
	Journal    *journal.Journal
	Secrets    SecretFunc
	HTTPClient *http.Client
	Out        io.Writer

	CaptureChars int
}

// stepResult is what a step handler reports back to the loop.
type stepResult struct {
	output   string
	exitCode int
	details  interface{}
}

// Run executes the steps in order and stops at the first failure unless
// the step allows it. Step failures are recorded in the report; the error
// is only set when the target session cannot be resolved.
func (r *Runner) Run(ctx context.Context, doc *Document) (*Report, error) {
	sessionID, err := r.resolveSession(ctx, doc)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Runbook:   doc.Metadata.Name,
		SessionID: sessionID,
		Started:   time.Now().UTC(),
		Success:   true,
		Steps:     make([]StepRun, 0, len(doc.Spec.Steps)),
	}

	for i, step := range doc.Spec.Steps {
		run := r.runStep(ctx, sessionID, step)
		rep.Steps = append(rep.Steps, run)

		result := "ok"
		if !run.Success {
			result = "failed"
		}
		metrics.RunbookStepsTotal.WithLabelValues(run.Type, result).Inc()
		r.event("runbook.step", map[string]interface{}{
			"runbook":     rep.Runbook,
			"session_id":  sessionID,
			"step":        run.Name,
			"type":        run.Type,
			"success":     run.Success,
			"error":       run.Error,
			"duration_ms": run.DurationMS,
		})

		if run.Success || step.ContinueOnError {
			if !run.Success {
				log.Printf("runbook: step %q failed, continuing: %s", run.Name, run.Error)
			}
			continue
		}
		rep.Success = false
		for _, rest := range doc.Spec.Steps[i+1:] {
			metrics.RunbookStepsTotal.WithLabelValues(rest.StepType(), "skipped").Inc()
		}
		break
	}

	rep.Ended = time.Now().UTC()
	r.event("runbook", map[string]interface{}{
		"runbook":    rep.Runbook,
		"session_id": sessionID,
		"success":    rep.Success,
		"steps":      len(rep.Steps),
	})
	return rep, nil
}

func (r *Runner) resolveSession(ctx context.Context, doc *Document) (string, error) {
	if r.SessionID != "" {
		return r.SessionID, nil
	}
	if doc.Spec.Session != "" {
		return doc.Spec.Session, nil
	}
	if doc.Spec.Machine == "" {
		return "", fmt.Errorf("runbook %s: no session or machine to run on", doc.Metadata.Name)
	}
	sess, err := r.Client.CreateSession(ctx, types.SessionCreateRequest{MachineID: doc.Spec.Machine})
	if err != nil {
		return "", fmt.Errorf("create session on %s: %w", doc.Spec.Machine, err)
	}
	log.Printf("runbook: created session %s on machine %s", sess.ID, doc.Spec.Machine)
	return sess.ID, nil
}

func (r *Runner) runStep(ctx context.Context, sessionID string, step Step) StepRun {
	run := StepRun{
		Name:    step.Name,
		Type:    step.StepType(),
		Started: time.Now().UTC(),
	}
	if r.Out != nil {
		fmt.Fprintf(r.Out, "==> %s (%s)\n", run.Name, run.Type)
	}

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	res, err := r.dispatch(ctx, sessionID, step)

	run.Ended = time.Now().UTC()
	run.DurationMS = run.Ended.Sub(run.Started).Milliseconds()
	run.ExitCode = res.exitCode
	run.Details = res.details
	run.Output = sanitize(termtext.Tail(res.output, r.captureChars()))
	run.Success = err == nil
	if err != nil {
		run.Error = err.Error()
	}

	if r.Out != nil {
		if run.Output != "" {
			fmt.Fprintln(r.Out, run.Output)
		}
		if err != nil {
			fmt.Fprintf(r.Out, "    failed: %v\n", err)
		}
	}
	return run
}

func (r *Runner) dispatch(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	switch step.StepType() {
	case StepSend:
		return r.send(ctx, sessionID, step)
	case StepExec:
		return r.exec(ctx, sessionID, step)
	case StepWait:
		return r.wait(ctx, sessionID)
	case StepSleep:
		return stepResult{}, sleep(ctx, step.Duration)
	case StepInterrupt:
		_, err := r.Client.Interrupt(ctx, sessionID)
		return stepResult{}, err
	case StepUpload:
		return r.upload(ctx, sessionID, step)
	case StepSeed:
		return r.seed(ctx, sessionID, step)
	case StepAudit:
		return r.audit(ctx, sessionID, step)
	case StepEnv:
		return r.env(ctx, sessionID, step)
	case StepVerify:
		return r.verify(ctx, step)
	}
	return stepResult{}, fmt.Errorf("unsupported step type %q", step.Type)
}

func (r *Runner) send(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	if _, err := r.Client.Send(ctx, sessionID, step.Command); err != nil {
		return stepResult{}, err
	}
	if r.Journal != nil {
		if _, err := r.Journal.LogSend(sessionID, step.Command); err != nil {
			log.Printf("runbook: journal: %v", err)
		}
	}
	return stepResult{}, nil
}

func (r *Runner) exec(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	res, err := r.execCommand(ctx, sessionID, step.Command)
	if err != nil {
		return res, err
	}
	want := 0
	if step.ExpectExit != nil {
		want = *step.ExpectExit
	}
	if res.exitCode != want {
		return res, fmt.Errorf("exit code %d, expected %d", res.exitCode, want)
	}
	return res, nil
}

// execCommand runs command and journals the outcome.
func (r *Runner) execCommand(ctx context.Context, sessionID, command string) (stepResult, error) {
	res, err := r.Client.Exec(ctx, sessionID, command, r.Wait)
	if res == nil {
		return stepResult{exitCode: -1}, err
	}
	if r.Journal != nil {
		if jerr := r.Journal.LogCommand(command, res, journal.OutcomeOf(err)); jerr != nil {
			log.Printf("runbook: journal: %v", jerr)
		}
	}
	return stepResult{output: res.Output, exitCode: res.ExitCode}, err
}

func (r *Runner) wait(ctx context.Context, sessionID string) (stepResult, error) {
	res, err := r.Client.Settle(ctx, sessionID, r.Wait)
	if res == nil {
		return stepResult{}, err
	}
	return stepResult{output: res.Output}, err
}

func (r *Runner) upload(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	data := []byte(step.Content)
	if step.Source != "" {
		b, err := os.ReadFile(step.Source)
		if err != nil {
			return stepResult{}, err
		}
		data = b
	}
	t, err := r.transfer(ctx, sessionID, data, step.Dest, step.Compress, step.SkipVerify)
	return stepResult{details: t}, err
}

func (r *Runner) transfer(ctx context.Context, sessionID string, data []byte, dest string, compress, skipVerify bool) (*client.Transfer, error) {
	opts := []client.TransferOption{client.WithTransferWait(r.Wait)}
	if r.ChunkDelay > 0 {
		opts = append(opts, client.WithChunkDelay(r.ChunkDelay))
	}
	if compress {
		opts = append(opts, client.WithCompression())
	}
	if skipVerify {
		opts = append(opts, client.WithoutVerify())
	}
	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = client.DefaultChunkSize
	}

	t, err := r.Client.SendLargePayload(ctx, sessionID, data, dest, chunk, opts...)
	if r.Journal != nil && t != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if jerr := r.Journal.LogTransfer(sessionID, t, msg); jerr != nil {
			log.Printf("runbook: journal: %v", jerr)
		}
	}
	return t, err
}

// runScript uploads a Python script, runs it and removes it again.
func (r *Runner) runScript(ctx context.Context, sessionID, script, path, python string) (stepResult, error) {
	if _, err := r.transfer(ctx, sessionID, []byte(script), path, false, false); err != nil {
		return stepResult{}, fmt.Errorf("upload script: %w", err)
	}
	d := r.Client.Dialect()
	res, err := r.execCommand(ctx, sessionID, d.RunPython(python, path))
	if _, rmErr := r.Client.Exec(ctx, sessionID, d.RemoveFile(path), r.Wait); rmErr != nil {
		log.Printf("runbook: remove %s: %v", path, rmErr)
	}
	if err != nil {
		return res, err
	}
	if res.exitCode != 0 {
		return res, fmt.Errorf("script exited with %d", res.exitCode)
	}
	return res, nil
}

func (r *Runner) seed(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	ds, ok := seed.Lookup(step.Dataset)
	if !ok {
		return stepResult{}, fmt.Errorf("unknown dataset %q", step.Dataset)
	}
	script, err := seed.RenderPython(ds, step.Database)
	if err != nil {
		return stepResult{}, err
	}
	path := step.ScriptPath
	if path == "" {
		path = "ptyctl-seed-" + ds.Name + ".py"
	}
	res, err := r.runScript(ctx, sessionID, script, path, step.Python)
	if err != nil {
		return res, err
	}
	result, err := seed.ParseResult(res.output)
	if err != nil {
		return res, err
	}
	res.details = result
	return res, nil
}

func (r *Runner) audit(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	script, err := seed.RenderAuditPython(step.Database)
	if err != nil {
		return stepResult{}, err
	}
	path := step.ScriptPath
	if path == "" {
		path = "ptyctl-audit.py"
	}
	res, err := r.runScript(ctx, sessionID, script, path, step.Python)
	if err != nil {
		return res, err
	}
	report, err := seed.ParseAudit(res.output)
	if err != nil {
		return res, err
	}
	res.details = report
	if step.Strict && !report.OK() {
		return res, fmt.Errorf("audit found %d gaps: %s", len(report.Gaps), strings.Join(report.Gaps, "; "))
	}
	return res, nil
}

func (r *Runner) env(ctx context.Context, sessionID string, step Step) (stepResult, error) {
	values := make(map[string]string, len(step.Set))
	for k, v := range step.Set {
		values[k] = v
	}
	if step.SecretARN != "" {
		if r.Secrets == nil {
			return stepResult{}, fmt.Errorf("no secrets source configured for %s", step.SecretARN)
		}
		secret, err := r.Secrets(ctx, step.SecretARN)
		if err != nil {
			return stepResult{}, err
		}
		if len(step.SecretKeys) == 0 {
			for k, v := range secret {
				values[k] = v
			}
		}
		for _, k := range step.SecretKeys {
			v, ok := secret[k]
			if !ok {
				return stepResult{}, fmt.Errorf("secret %s has no key %s", step.SecretARN, k)
			}
			values[k] = v
		}
	}

	current, err := r.Client.Download(ctx, sessionID, step.Dest, r.Wait)
	if err != nil {
		if !step.Create {
			return stepResult{}, fmt.Errorf("read %s: %w", step.Dest, err)
		}
		// only a file the remote reports as missing may be created from scratch
		exists, statErr := r.Client.FileExists(ctx, sessionID, step.Dest, r.Wait)
		if statErr != nil {
			return stepResult{}, fmt.Errorf("read %s: %w (existence check: %v)", step.Dest, err, statErr)
		}
		if exists {
			return stepResult{}, fmt.Errorf("read %s: %w", step.Dest, err)
		}
		current = nil
	}
	updated, err := envfile.Rewrite(current, values)
	if err != nil {
		return stepResult{}, err
	}
	t, err := r.transfer(ctx, sessionID, updated, step.Dest, false, step.SkipVerify)
	keys := envfile.Keys(values)
	return stepResult{
		output:  "updated " + strings.Join(keys, ", "),
		details: map[string]interface{}{"keys": keys, "transfer": t},
	}, err
}

func (r *Runner) verify(ctx context.Context, step Step) (stepResult, error) {
	checks, err := verify.Run(ctx, step.BaseURL, step.Paths, verify.Options{HTTPClient: r.HTTPClient})
	if err != nil {
		return stepResult{}, err
	}
	sum := verify.Summarize(checks)
	var b strings.Builder
	for _, c := range checks {
		status := "PASS"
		if !c.OK {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s %s %d %s\n", status, c.Path, c.Status, c.Latency.Round(time.Millisecond))
	}
	res := stepResult{output: b.String(), details: checks}
	if sum.Failed > 0 {
		return res, fmt.Errorf("%d of %d endpoints failed", sum.Failed, len(checks))
	}
	return res, nil
}

func (r *Runner) event(eventType string, payload interface{}) {
	if r.Journal == nil {
		return
	}
	if err := r.Journal.LogEvent(eventType, payload); err != nil {
		log.Printf("runbook: journal: %v", err)
	}
}

func (r *Runner) captureChars() int {
	if r.CaptureChars > 0 {
		return r.CaptureChars
	}
	return defaultCaptureChars
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sanitize keeps the report readable when binary output leaks into it.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
