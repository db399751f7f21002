package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "sendbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "jobs.db"), BusyTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, id string, dests, msgs []string) *Job {
	t.Helper()
	j, err := s.CreateJob(context.Background(), id, TargetMulti, "raw", "raw msg", dests, msgs)
	if err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	return j
}

func TestCreateJobOrdinalsAndMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "job1", []string{"a", "b", "c"}, []string{"m1", "m2"})
	targets, err := s.Targets(ctx, "job1")
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("len(targets) = %d", len(targets))
	}
	for i, tg := range targets {
		if tg.Ordinal != i {
			t.Fatalf("ordinal[%d] = %d", i, tg.Ordinal)
		}
		if tg.Status != TargetPending {
			t.Fatalf("status[%d] = %s", i, tg.Status)
		}
	}
	// short message list: last message reused
	if targets[0].Message != "m1" || targets[1].Message != "m2" || targets[2].Message != "m2" {
		t.Fatalf("messages = %q %q %q", targets[0].Message, targets[1].Message, targets[2].Message)
	}

	// empty message list: single empty message for all
	mustCreate(t, s, "job2", []string{"a", "b"}, nil)
	targets, _ = s.Targets(ctx, "job2")
	if targets[0].Message != "" || targets[1].Message != "" {
		t.Fatalf("empty messages not applied: %q %q", targets[0].Message, targets[1].Message)
	}

	snap, err := s.Snapshot(ctx, "job1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Timeline) != 1 || snap.Timeline[0].Kind != EventJobQueued {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	if snap.Timeline[0].Detail != "Queued 3 target(s)" {
		t.Fatalf("detail = %q", snap.Timeline[0].Detail)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimNextFIFOAndTieBreak(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }
	mustCreate(t, s, "job_b", []string{"x"}, nil)
	mustCreate(t, s, "job_a", []string{"x"}, nil) // same created_at; id breaks the tie
	s.now = func() time.Time { return base.Add(time.Second) }
	mustCreate(t, s, "job_c", []string{"x"}, nil)

	j, err := s.ClaimNext(ctx, "executor_01")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j == nil || j.ID != "job_a" {
		t.Fatalf("claimed %+v, want job_a", j)
	}
	if j.Status != JobRunning || j.Executor != "executor_01" {
		t.Fatalf("claimed job = %+v", j)
	}

	j, _ = s.ClaimNext(ctx, "executor_02")
	if j == nil || j.ID != "job_b" {
		t.Fatalf("second claim = %+v, want job_b", j)
	}
	j, _ = s.ClaimNext(ctx, "executor_01")
	if j == nil || j.ID != "job_c" {
		t.Fatalf("third claim = %+v, want job_c", j)
	}
	j, _ = s.ClaimNext(ctx, "executor_01")
	if j != nil {
		t.Fatalf("empty queue still claimed %+v", j)
	}
}

// Timestamps are compared as strings in ORDER BY, so fractions must be
// encoded fixed-width: with trailing zeros stripped, ".15" sorts before
// ".1" and a later job would be claimed first.
func TestClaimOrderWithMixedFractionLengths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	mustCreate(t, s, "earlier", []string{"x"}, nil)
	s.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	mustCreate(t, s, "later", []string{"x"}, nil)

	j, err := s.ClaimNext(ctx, "executor_01")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if j == nil || j.ID != "earlier" {
		t.Fatalf("claimed %+v, want earlier", j)
	}

	// The timeline sorts by the same encoding: the claim event at .150
	// must follow the creation event at .100 within the same second.
	snap, err := s.Snapshot(ctx, "earlier")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	kinds := make([]string, 0, len(snap.Timeline))
	for _, e := range snap.Timeline {
		kinds = append(kinds, e.Kind)
	}
	want := []string{EventJobQueued, EventJobStarted}
	if len(kinds) != len(want) {
		t.Fatalf("timeline = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("timeline = %v, want %v", kinds, want)
		}
	}
}

func TestClaimSkipsIneligible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "paused_job", []string{"x"}, nil)
	if err := s.PauseJob(ctx, "paused_job"); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	mustCreate(t, s, "canceled_job", []string{"x"}, nil)
	if err := s.CancelJob(ctx, "canceled_job"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	if j, _ := s.ClaimNext(ctx, "e"); j != nil {
		t.Fatalf("claimed ineligible job %+v", j)
	}
}

func TestTargetOutcomeEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"dest1", "dest2"}, []string{"m"})
	targets, _ := s.Targets(ctx, "j")

	if err := s.MarkTargetRunning(ctx, targets[0].ID); err != nil {
		t.Fatalf("MarkTargetRunning: %v", err)
	}
	if err := s.MarkTargetSent(ctx, "j", targets[0].ID, "dest1"); err != nil {
		t.Fatalf("MarkTargetSent: %v", err)
	}
	if err := s.MarkTargetFailed(ctx, "j", targets[1].ID, "dest2", "send_timeout"); err != nil {
		t.Fatalf("MarkTargetFailed: %v", err)
	}

	targets, _ = s.Targets(ctx, "j")
	if targets[0].Status != TargetSent || targets[0].Error != "" {
		t.Fatalf("target0 = %+v", targets[0])
	}
	if targets[1].Status != TargetFailed || targets[1].Error != "send_timeout" {
		t.Fatalf("target1 = %+v", targets[1])
	}

	snap, _ := s.Snapshot(ctx, "j")
	kinds := map[string]string{}
	for _, e := range snap.Timeline {
		kinds[e.Kind] = e.Detail
	}
	if kinds[EventTargetSent] != "dest1" {
		t.Fatalf("target_sent detail = %q", kinds[EventTargetSent])
	}
	if kinds[EventTargetFailed] != "dest2 :: send_timeout" {
		t.Fatalf("target_failed detail = %q", kinds[EventTargetFailed])
	}
}

func TestTargetStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"dest1"}, nil)
	targets, _ := s.Targets(ctx, "j")

	status, err := s.TargetStatus(ctx, targets[0].ID)
	if err != nil {
		t.Fatalf("TargetStatus: %v", err)
	}
	if status != TargetPending {
		t.Fatalf("status = %q, want %q", status, TargetPending)
	}

	if err := s.MarkTargetSent(ctx, "j", targets[0].ID, "dest1"); err != nil {
		t.Fatalf("MarkTargetSent: %v", err)
	}
	status, err = s.TargetStatus(ctx, targets[0].ID)
	if err != nil {
		t.Fatalf("TargetStatus: %v", err)
	}
	if status != TargetSent {
		t.Fatalf("status = %q, want %q", status, TargetSent)
	}

	if _, err := s.TargetStatus(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeAllSent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a", "b"}, nil)
	if _, err := s.ClaimNext(ctx, "e"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	targets, _ := s.Targets(ctx, "j")
	for _, tg := range targets {
		_ = s.MarkTargetSent(ctx, "j", tg.ID, tg.Destination)
	}

	final, err := s.FinalizeJob(ctx, "j")
	if err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
	if final != JobDone {
		t.Fatalf("final = %s", final)
	}
	j, _ := s.GetJob(ctx, "j")
	if j.Status != JobDone || j.Error != "" {
		t.Fatalf("job = %+v", j)
	}
}

func TestFinalizePartialAndAllFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "partial", []string{"a", "b"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ := s.Targets(ctx, "partial")
	_ = s.MarkTargetSent(ctx, "partial", targets[0].ID, "a")
	_ = s.MarkTargetFailed(ctx, "partial", targets[1].ID, "b", "boom")
	final, _ := s.FinalizeJob(ctx, "partial")
	if final != JobFailed {
		t.Fatalf("final = %s", final)
	}
	j, _ := s.GetJob(ctx, "partial")
	if j.Error != ErrorPartialFailure {
		t.Fatalf("error = %q", j.Error)
	}

	mustCreate(t, s, "allfail", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ = s.Targets(ctx, "allfail")
	_ = s.MarkTargetFailed(ctx, "allfail", targets[0].ID, "a", "boom")
	_, _ = s.FinalizeJob(ctx, "allfail")
	j, _ = s.GetJob(ctx, "allfail")
	if j.Status != JobFailed || j.Error != ErrorAllFailed {
		t.Fatalf("job = %+v", j)
	}
}

func TestFinalizeSkipsPausedAndCanceled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	if err := s.MarkJobPaused(ctx, "j", "Paused: capability not ready"); err != nil {
		t.Fatalf("MarkJobPaused: %v", err)
	}
	final, err := s.FinalizeJob(ctx, "j")
	if err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}
	if final != JobPaused {
		t.Fatalf("final = %s", final)
	}
	j, _ := s.GetJob(ctx, "j")
	if j.Status != JobPaused || j.Error != "" {
		t.Fatalf("paused job was finalized: %+v", j)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a", "b"}, nil)
	if err := s.CancelJob(ctx, "j"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	j, _ := s.GetJob(ctx, "j")
	if j.Status != JobCanceled || !j.Canceled {
		t.Fatalf("job = %+v", j)
	}
	targets, _ := s.Targets(ctx, "j")
	for _, tg := range targets {
		if tg.Status != TargetCanceled {
			t.Fatalf("target %d = %s", tg.Ordinal, tg.Status)
		}
	}
	// a canceled job is never claimable
	if claimed, _ := s.ClaimNext(ctx, "e"); claimed != nil {
		t.Fatalf("canceled job claimed: %+v", claimed)
	}
}

func TestCancelRunningJobKeepsStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	_ = s.CancelJob(ctx, "j")
	j, _ := s.GetJob(ctx, "j")
	if j.Status != JobRunning || !j.Canceled {
		t.Fatalf("job = %+v", j)
	}
}

func TestPauseResumeRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a", "b"}, nil)
	_ = s.PauseJob(ctx, "j")
	j, _ := s.GetJob(ctx, "j")
	if !j.Paused || j.Status != JobPaused {
		t.Fatalf("after pause: %+v", j)
	}

	_ = s.ResumeJob(ctx, "j")
	j, _ = s.GetJob(ctx, "j")
	if j.Paused || j.Status != JobQueued {
		t.Fatalf("after resume: %+v", j)
	}

	// fail one target, then retry resets it
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ := s.Targets(ctx, "j")
	_ = s.MarkTargetSent(ctx, "j", targets[0].ID, "a")
	_ = s.MarkTargetFailed(ctx, "j", targets[1].ID, "b", "boom")
	_, _ = s.FinalizeJob(ctx, "j")

	reset, err := s.RetryJob(ctx, "j")
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d", reset)
	}
	j, _ = s.GetJob(ctx, "j")
	if j.Status != JobQueued || j.Error != "" || j.Canceled || j.Paused {
		t.Fatalf("after retry: %+v", j)
	}
	targets, _ = s.Targets(ctx, "j")
	if targets[0].Status != TargetSent {
		t.Fatalf("sent target was reset: %+v", targets[0])
	}
	if targets[1].Status != TargetPending || targets[1].Error != "" {
		t.Fatalf("failed target not reset: %+v", targets[1])
	}
}

func TestControlOpsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CancelJob(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel err = %v", err)
	}
	if err := s.PauseJob(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pause err = %v", err)
	}
	if err := s.ResumeJob(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resume err = %v", err)
	}
	if _, err := s.RetryJob(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retry err = %v", err)
	}
}

func TestRecoverStartup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "j", []string{"a", "b"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ := s.Targets(ctx, "j")
	_ = s.MarkTargetSent(ctx, "j", targets[0].ID, "a")
	_ = s.MarkTargetRunning(ctx, targets[1].ID)

	n, err := s.RecoverStartup(ctx)
	if err != nil {
		t.Fatalf("RecoverStartup: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d", n)
	}
	j, _ := s.GetJob(ctx, "j")
	if j.Status != JobQueued {
		t.Fatalf("job status = %s", j.Status)
	}
	targets, _ = s.Targets(ctx, "j")
	if targets[0].Status != TargetSent {
		t.Fatalf("sent target touched: %+v", targets[0])
	}
	if targets[1].Status != TargetPending || targets[1].Error != "" {
		t.Fatalf("running target not reset: %+v", targets[1])
	}

	snap, _ := s.Snapshot(ctx, "j")
	count := 0
	for _, e := range snap.Timeline {
		if e.Kind == EventRecovered {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("recovered events = %d", count)
	}

	// idempotent: second run is a no-op with no duplicate events
	n, _ = s.RecoverStartup(ctx)
	if n != 0 {
		t.Fatalf("second recovery touched %d jobs", n)
	}
	snap, _ = s.Snapshot(ctx, "j")
	count = 0
	for _, e := range snap.Timeline {
		if e.Kind == EventRecovered {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("recovered events after rerun = %d", count)
	}
}

func TestBulkRecover(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// one job per status bucket; claimed jobs are created first so each
	// ClaimNext picks the job just created
	mustCreate(t, s, "failed_j", []string{"a", "b"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ := s.Targets(ctx, "failed_j")
	_ = s.MarkTargetSent(ctx, "failed_j", targets[0].ID, "a")
	_ = s.MarkTargetFailed(ctx, "failed_j", targets[1].ID, "b", "boom")
	_, _ = s.FinalizeJob(ctx, "failed_j")

	mustCreate(t, s, "done_j", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e")
	targets, _ = s.Targets(ctx, "done_j")
	_ = s.MarkTargetSent(ctx, "done_j", targets[0].ID, "a")
	_, _ = s.FinalizeJob(ctx, "done_j")

	mustCreate(t, s, "running_j", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e")

	mustCreate(t, s, "queued_j", []string{"a"}, nil)

	mustCreate(t, s, "paused_j", []string{"a"}, nil)
	_ = s.PauseJob(ctx, "paused_j")

	mustCreate(t, s, "canceled_j", []string{"a"}, nil)
	_ = s.CancelJob(ctx, "canceled_j")

	jobs, resets, err := s.BulkRecover(ctx)
	if err != nil {
		t.Fatalf("BulkRecover: %v", err)
	}
	// queued, paused, canceled, failed recover; done and running do not
	if jobs != 4 {
		t.Fatalf("updated jobs = %d", jobs)
	}
	// queued(1) + paused(1) + canceled(1) + failed job's failed target(1);
	// sent targets stay sent
	if resets != 4 {
		t.Fatalf("reset targets = %d", resets)
	}

	for _, id := range []string{"queued_j", "paused_j", "canceled_j", "failed_j"} {
		j, _ := s.GetJob(ctx, id)
		if j.Status != JobQueued || j.Paused || j.Canceled || j.Error != "" {
			t.Fatalf("%s = %+v", id, j)
		}
	}
	j, _ := s.GetJob(ctx, "done_j")
	if j.Status != JobDone {
		t.Fatalf("done job recovered: %+v", j)
	}
	j, _ = s.GetJob(ctx, "running_j")
	if j.Status != JobRunning {
		t.Fatalf("running job recovered: %+v", j)
	}
	targets, _ = s.Targets(ctx, "failed_j")
	if targets[0].Status != TargetSent {
		t.Fatalf("sent target reset: %+v", targets[0])
	}
}

func TestCountsSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "q1", []string{"a", "b"}, nil)
	mustCreate(t, s, "q2", []string{"a"}, nil)
	mustCreate(t, s, "r1", []string{"a"}, nil)
	_, _ = s.ClaimNext(ctx, "e") // claims q1 (FIFO)

	c, err := s.CountsSnapshot(ctx)
	if err != nil {
		t.Fatalf("CountsSnapshot: %v", err)
	}
	if c.QueuedJobs != 2 || c.RunningJobs != 1 {
		t.Fatalf("counts = %+v", c)
	}
	// pending targets of the two still-queued jobs
	if c.PendingTargets != 2 {
		t.Fatalf("pending targets = %d", c.PendingTargets)
	}
}

func TestContactsAndGroups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, c := range []Contact{
		{Name: "ana", Destination: "100", Group: "friends"},
		{Name: "bo", Destination: "200", Group: "friends"},
		{Name: "cy", Destination: "300", Group: "work"},
	} {
		if _, err := s.AddContact(ctx, c); err != nil {
			t.Fatalf("AddContact: %v", err)
		}
	}

	dests, err := s.GroupDestinations(ctx, "friends")
	if err != nil {
		t.Fatalf("GroupDestinations: %v", err)
	}
	if len(dests) != 2 || dests[0] != "100" || dests[1] != "200" {
		t.Fatalf("dests = %v", dests)
	}
	if dests, _ := s.GroupDestinations(ctx, "nope"); len(dests) != 0 {
		t.Fatalf("unknown group returned %v", dests)
	}

	contacts, err := s.ContactsByGroup(ctx, "work")
	if err != nil {
		t.Fatalf("ContactsByGroup: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Name != "cy" {
		t.Fatalf("contacts = %+v", contacts)
	}
}
