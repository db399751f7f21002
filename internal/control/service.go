// Package control implements the operator-facing job operations: submitting
// send requests and steering queued work (cancel, pause, resume, retry,
// recover). It owns request-id generation and the target grammar; storage
// semantics live in the store package.
package control

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"strings"
	"time"

	"sendbot/internal/eventbus"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

// idAlphabet matches the request-id suffix charset.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var idRe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeID strips everything outside [A-Za-z0-9_] from an operator-supplied
// job id before it reaches a query.
func SanitizeID(id string) string {
	return idRe.ReplaceAllString(id, "")
}

// Request is a parsed send request.
type Request struct {
	Type         store.TargetType
	Group        string
	Destinations []string
	Messages     []string
}

// ParseRequest applies the target grammar:
//   - comma in the target: multi destinations, messages comma-split too
//   - digits (plus sign and spaces allowed): one phone destination
//   - anything else: a contact group name
//
// The message may arrive percent-encoded a second time by shell-happy callers;
// a decodable message is decoded once more.
func ParseRequest(rawTarget, rawMessage string) Request {
	t := strings.TrimSpace(rawTarget)
	msg := strings.TrimSpace(rawMessage)
	if dec, err := url.PathUnescape(msg); err == nil {
		msg = strings.TrimSpace(dec)
	}

	if strings.Contains(t, ",") {
		var dests []string
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				dests = append(dests, p)
			}
		}
		msgs := []string{msg}
		if strings.Contains(msg, ",") {
			msgs = msgs[:0]
			for _, m := range strings.Split(msg, ",") {
				msgs = append(msgs, strings.TrimSpace(m))
			}
		}
		return Request{Type: store.TargetMulti, Destinations: dests, Messages: msgs}
	}

	if isPhone(t) {
		return Request{Type: store.TargetSingle, Destinations: []string{t}, Messages: []string{msg}}
	}
	return Request{Type: store.TargetGroup, Group: t, Messages: []string{msg}}
}

func isPhone(s string) bool {
	s = strings.NewReplacer("+", "", " ", "").Replace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Service wires the operator operations to the store and the event bus.
type Service struct {
	st  *store.Store
	bus eventbus.Bus
	log logx.Logger

	now  func() time.Time
	rand func(n int) int
}

func NewService(st *store.Store, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		st:   st,
		bus:  bus,
		log:  log,
		now:  time.Now,
		rand: rand.Intn,
	}
}

// NewRequestID builds ids like req_20250915_134455_ABC123.
func (s *Service) NewRequestID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = idAlphabet[s.rand(len(idAlphabet))]
	}
	return fmt.Sprintf("req_%s_%s", s.now().Format("20060102_150405"), b)
}

// Create parses and persists a send request. Group targets resolve through
// the contact book; an unknown or empty group returns store.ErrGroupNotFound.
func (s *Service) Create(ctx context.Context, rawTarget, rawMessage string) (*store.Job, error) {
	req := ParseRequest(rawTarget, rawMessage)

	dests := req.Destinations
	if req.Type == store.TargetGroup {
		var err error
		dests, err = s.st.GroupDestinations(ctx, req.Group)
		if err != nil {
			return nil, err
		}
		if len(dests) == 0 {
			return nil, fmt.Errorf("%q: %w", req.Group, store.ErrGroupNotFound)
		}
	}

	id := s.NewRequestID()
	job, err := s.st.CreateJob(ctx, id, req.Type, rawTarget, rawMessage, dests, req.Messages)
	if err != nil {
		return nil, err
	}
	s.log.Info("job accepted",
		logx.String("job_id", id),
		logx.String("target_type", string(req.Type)),
		logx.Int("targets", len(dests)))
	s.publish("job.created", eventbus.JobEvent{JobID: id, Detail: string(req.Type)})
	return job, nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) (*store.Snapshot, error) {
	id := SanitizeID(jobID)
	if err := s.st.CancelJob(ctx, id); err != nil {
		return nil, err
	}
	s.publish("job.cancel_requested", eventbus.JobEvent{JobID: id})
	return s.st.Snapshot(ctx, id)
}

func (s *Service) Pause(ctx context.Context, jobID string) (*store.Snapshot, error) {
	id := SanitizeID(jobID)
	if err := s.st.PauseJob(ctx, id); err != nil {
		return nil, err
	}
	s.publish("job.pause_requested", eventbus.JobEvent{JobID: id})
	return s.st.Snapshot(ctx, id)
}

func (s *Service) Resume(ctx context.Context, jobID string) (*store.Snapshot, error) {
	id := SanitizeID(jobID)
	if err := s.st.ResumeJob(ctx, id); err != nil {
		return nil, err
	}
	s.publish("job.resume_requested", eventbus.JobEvent{JobID: id})
	return s.st.Snapshot(ctx, id)
}

// Retry resets failed and canceled targets to pending and requeues the job.
func (s *Service) Retry(ctx context.Context, jobID string) (*store.Snapshot, error) {
	id := SanitizeID(jobID)
	reset, err := s.st.RetryJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish("job.retry_requested", eventbus.JobEvent{JobID: id, Detail: fmt.Sprintf("%d target(s) reset", reset)})
	return s.st.Snapshot(ctx, id)
}

// Recover force-requeues every non-done job. Returns the number of requeued
// jobs and reset targets.
func (s *Service) Recover(ctx context.Context) (int, int, error) {
	jobs, targets, err := s.st.BulkRecover(ctx)
	if err != nil {
		return 0, 0, err
	}
	s.log.Info("bulk recover", logx.Int("jobs", jobs), logx.Int("targets", targets))
	s.publish("recovery.completed", eventbus.JobEvent{Detail: fmt.Sprintf("%d job(s), %d target(s)", jobs, targets)})
	return jobs, targets, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (*store.Snapshot, error) {
	return s.st.Snapshot(ctx, SanitizeID(jobID))
}

func (s *Service) Counts(ctx context.Context) (store.Counts, error) {
	return s.st.CountsSnapshot(ctx)
}

func (s *Service) AddContact(ctx context.Context, c store.Contact) (int64, error) {
	return s.st.AddContact(ctx, c)
}

func (s *Service) Contacts(ctx context.Context, group string) ([]store.Contact, error) {
	return s.st.ContactsByGroup(ctx, group)
}

func (s *Service) publish(typ string, ev eventbus.JobEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
	}
}
