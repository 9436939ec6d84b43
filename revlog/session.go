package revlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"

	"collabtext/ot"
)

type Config struct {
	// A checkpoint is written whenever one of our own commits brings the
	// number of applied revisions to a multiple of CheckpointFrequency.
	// Zero disables checkpoints.
	CheckpointFrequency int
	// NewBackOff paces resubmission of a commit cut off by a disconnect.
	NewBackOff func() backoff.BackOff
}

func DefaultConfig() *Config {
	return &Config{
		CheckpointFrequency: 100,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Handler receives session events. All calls happen on the session loop.
type Handler interface {
	// Ready is called once catch-up replay has finished, right after the
	// replayed document was delivered through Operation.
	Ready()
	// Operation delivers an operation committed by someone else.
	Operation(op ot.TextOperation) error
	// Ack reports that our sent operation was committed.
	Ack() error
	// Retry reports that our sent operation lost its slot and has to be
	// transformed and sent again.
	Retry() error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnReady     func()
	OnOperation func(op ot.TextOperation) error
	OnAck       func() error
	OnRetry     func() error
}

func (h HandlerFuncs) Ready() {
	if h.OnReady != nil {
		h.OnReady()
	}
}

func (h HandlerFuncs) Operation(op ot.TextOperation) error {
	if h.OnOperation != nil {
		return h.OnOperation(op)
	}
	return nil
}

func (h HandlerFuncs) Ack() error {
	if h.OnAck != nil {
		return h.OnAck()
	}
	return nil
}

func (h HandlerFuncs) Retry() error {
	if h.OnRetry != nil {
		return h.OnRetry()
	}
	return nil
}

// commitAttempt is the operation we sent and have not seen in the log yet.
type commitAttempt struct {
	id      string
	op      ot.TextOperation
	record  Record
	done    func(committed bool)
	backoff backoff.BackOff
}

type loadResult struct {
	checkpoint *Checkpoint
	sub        *Subscription
	err        error
}

// Session follows one document's revision log on behalf of one author.
// Everything except Run and Do must be called on the session loop, that is
// from a Handler callback or from inside Do.
type Session struct {
	cfg     *Config
	store   Store
	author  string
	handler Handler

	events chan func()
	done   chan struct{}
	ctx    context.Context
	err    error

	sub          *Subscription
	ready        bool
	retryOnReady bool
	// revision is the index of the next revision to apply.
	revision int
	document ot.TextOperation
	pending  map[string]Record
	sent     *commitAttempt
}

func NewSession(store Store, author string, handler Handler, cfg *Config) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Session{
		cfg:     cfg,
		store:   store,
		author:  author,
		handler: handler,
		events:  make(chan func()),
		done:    make(chan struct{}),
		pending: map[string]Record{},
	}
}

// Run loads the document and follows the log until ctx ends or a fatal
// error occurs.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)
	s.ctx = ctx

	go func() {
		result := s.load(ctx)
		s.post(func() { s.loaded(result) })
	}()

	defer func() {
		if s.sub != nil {
			s.sub.Close()
		}
	}()
	for {
		if s.err != nil {
			return s.err
		}
		var live <-chan Entry
		if s.sub != nil {
			live = s.sub.Live
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.events:
			fn()
		case e, ok := <-live:
			if !ok {
				return ErrSubscriptionClosed
			}
			s.receive(e)
		}
	}
}

// Do runs fn on the session loop and waits for it to finish. It must not be
// called from the loop itself.
func (s *Session) Do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.events <- func() {
		defer close(ran)
		fn()
	}:
	case <-s.done:
		return ErrClosed
	}
	<-ran
	return nil
}

func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Session) fail(err error) {
	if s.err == nil {
		glog.Errorf("[revlog] %s: %v", s.author, err)
		s.err = err
	}
}

func (s *Session) load(ctx context.Context) loadResult {
	from := RevisionToID(0)
	var checkpoint *Checkpoint
	data, err := s.store.ReadOnce(ctx, CheckpointPath)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return loadResult{err: fmt.Errorf("revlog: read checkpoint: %w", err)}
	default:
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			glog.Warningf("[revlog] ignoring unreadable checkpoint: %v", err)
			break
		}
		index, err := RevisionFromID(cp.ID)
		if err != nil {
			glog.Warningf("[revlog] ignoring checkpoint: %v", err)
			break
		}
		if err := checkCheckpoint(cp); err != nil {
			glog.Warningf("[revlog] ignoring checkpoint %s, replaying from the start: %v", cp.ID, err)
			break
		}
		checkpoint = &cp
		from = RevisionToID(index + 1)
	}
	sub, err := s.store.SubscribeAppends(ctx, from)
	if err != nil {
		return loadResult{err: fmt.Errorf("revlog: subscribe from %s: %w", from, err)}
	}
	return loadResult{checkpoint: checkpoint, sub: sub}
}

// checkCheckpoint accepts a checkpoint only if it can stand in for every
// revision up to its id: it needs an author and a document built from
// nothing.
func checkCheckpoint(cp Checkpoint) error {
	if cp.Author == "" {
		return ErrMissingAuthor
	}
	var op ot.TextOperation
	if err := json.Unmarshal(cp.Operation, &op); err != nil {
		return fmt.Errorf("%w: %v", ot.ErrMalformedOperation, err)
	}
	if op.BaseLength() != 0 {
		return fmt.Errorf("%w: checkpoint base length %d", ot.ErrLengthMismatch, op.BaseLength())
	}
	return nil
}

func (s *Session) loaded(result loadResult) {
	if result.err != nil {
		s.fail(result.err)
		return
	}
	s.sub = result.sub
	s.document = ot.TextOperation{}
	s.revision = 0
	if cp := result.checkpoint; cp != nil {
		// Validated in load.
		s.revision, _ = RevisionFromID(cp.ID)
		s.pending[cp.ID] = Record{Author: cp.Author, Operation: cp.Operation}
		glog.V(1).Infof("[revlog] %s: starting from checkpoint %s", s.author, cp.ID)
	}
	for _, e := range result.sub.Backlog {
		if _, err := RevisionFromID(e.ID); err != nil {
			glog.Warningf("[revlog] dropping entry: %v", err)
			continue
		}
		s.pending[e.ID] = e.Record
	}
	s.handleInitialRevisions()
}

// handleInitialRevisions composes the backlog into the document and then
// hands it over in one piece.
func (s *Session) handleInitialRevisions() {
	for {
		id := RevisionToID(s.revision)
		rec, ok := s.pending[id]
		if !ok {
			break
		}
		delete(s.pending, id)
		s.revision++
		op, err := s.parseRevision(rec)
		if err != nil {
			glog.Warningf("[revlog] skipping invalid revision %s: %v", id, err)
			continue
		}
		if s.document, err = s.document.Compose(op); err != nil {
			s.fail(err)
			return
		}
	}
	glog.V(1).Infof("[revlog] %s: ready at revision %d", s.author, s.revision)
	s.ready = true
	if err := s.handler.Operation(s.document); err != nil {
		s.fail(err)
		return
	}
	s.handler.Ready()
	if s.retryOnReady {
		s.retryOnReady = false
		if err := s.handler.Retry(); err != nil {
			s.fail(err)
		}
	}
}

func (s *Session) receive(e Entry) {
	index, err := RevisionFromID(e.ID)
	if err != nil {
		glog.Warningf("[revlog] dropping entry: %v", err)
		return
	}
	if index < s.revision {
		return
	}
	s.pending[e.ID] = e.Record
	if s.ready {
		s.handlePendingRevisions()
	}
}

// handlePendingRevisions applies pending revisions in index order, one at a
// time, telling our own commits apart from everybody else's.
func (s *Session) handlePendingRevisions() {
	triggerRetry := false
	for s.err == nil {
		id := RevisionToID(s.revision)
		rec, ok := s.pending[id]
		if !ok {
			break
		}
		delete(s.pending, id)
		s.revision++

		ours := s.sent != nil && s.sent.id == id
		op, err := s.parseRevision(rec)
		if err != nil {
			glog.Warningf("[revlog] skipping invalid revision %s: %v", id, err)
			if ours {
				triggerRetry = true
			}
			continue
		}
		if s.document, err = s.document.Compose(op); err != nil {
			s.fail(err)
			return
		}
		glog.V(2).Infof("[revlog] %s: revision %s by %s", s.author, id, rec.Author)

		if ours && rec.Author == s.author && sameOperation(op, s.sent.op) {
			s.sent = nil
			if f := s.cfg.CheckpointFrequency; f > 0 && s.revision%f == 0 {
				s.saveCheckpoint()
			}
			if err := s.handler.Ack(); err != nil {
				s.fail(err)
			}
			continue
		}
		if ours {
			triggerRetry = true
		}
		if err := s.handler.Operation(op); err != nil {
			s.fail(err)
		}
	}
	if triggerRetry && s.err == nil {
		s.sent = nil
		if err := s.handler.Retry(); err != nil {
			s.fail(err)
		}
	}
}

func (s *Session) parseRevision(rec Record) (ot.TextOperation, error) {
	if rec.Author == "" {
		return ot.TextOperation{}, ErrMissingAuthor
	}
	var op ot.TextOperation
	if err := json.Unmarshal(rec.Operation, &op); err != nil {
		return ot.TextOperation{}, fmt.Errorf("%w: %v", ot.ErrMalformedOperation, err)
	}
	if op.BaseLength() != s.document.TargetLength() {
		return ot.TextOperation{}, fmt.Errorf("%w: base length %d, document length %d",
			ot.ErrLengthMismatch, op.BaseLength(), s.document.TargetLength())
	}
	return op, nil
}

// sameOperation compares operations by their wire form, since attribute
// values come back from stores with different numeric types.
func sameOperation(a, b ot.TextOperation) bool {
	if a.Equal(b) {
		return true
	}
	wa, errA := json.Marshal(a)
	wb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(wa, wb)
}

// SendOperation commits op at the next revision. done, if set, learns
// whether the slot was won; the outcome reaches the Handler independently
// through Ack or Retry. Before the session is ready the operation is not
// sent and Retry is issued once it is.
func (s *Session) SendOperation(op ot.TextOperation, done func(committed bool)) error {
	if !s.ready {
		s.retryOnReady = true
		return nil
	}
	if op.BaseLength() != s.document.TargetLength() {
		return fmt.Errorf("%w: sending operation with base length %d on document of length %d",
			ot.ErrLengthMismatch, op.BaseLength(), s.document.TargetLength())
	}
	wire, err := json.Marshal(op)
	if err != nil {
		return err
	}
	attempt := &commitAttempt{
		id: RevisionToID(s.revision),
		op: op,
		record: Record{
			Author:    s.author,
			Operation: wire,
			Timestamp: time.Now().UnixMilli(),
		},
		done:    done,
		backoff: s.cfg.NewBackOff(),
	}
	s.sent = attempt
	s.commit(attempt)
	return nil
}

func (s *Session) commit(attempt *commitAttempt) {
	ctx := s.ctx
	go func() {
		outcome, err := s.store.TryCommit(ctx, attempt.id, attempt.record)
		s.post(func() { s.committed(attempt, outcome, err) })
	}()
}

func (s *Session) committed(attempt *commitAttempt, outcome Outcome, err error) {
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("revlog: commit %s: %w", attempt.id, err))
		}
		return
	}
	glog.V(2).Infof("[revlog] %s: commit %s %s", s.author, attempt.id, outcome)
	switch outcome {
	case Disconnected:
		// Only resubmit while nothing has settled the attempt yet.
		if s.sent != attempt {
			return
		}
		wait := attempt.backoff.NextBackOff()
		if wait == backoff.Stop {
			s.fail(fmt.Errorf("%w: %s", ErrCommitAbandoned, attempt.id))
			return
		}
		glog.Infof("[revlog] %s: commit %s disconnected, resubmitting in %s", s.author, attempt.id, wait)
		time.AfterFunc(wait, func() {
			s.post(func() {
				if s.sent == attempt {
					s.commit(attempt)
				}
			})
		})
	default:
		if attempt.done != nil {
			attempt.done(outcome == Committed)
		}
	}
}

func (s *Session) saveCheckpoint() {
	wire, err := json.Marshal(s.document)
	if err != nil {
		glog.Warningf("[revlog] encoding checkpoint: %v", err)
		return
	}
	data, err := json.Marshal(Checkpoint{
		ID:        RevisionToID(s.revision - 1),
		Author:    s.author,
		Operation: wire,
	})
	if err != nil {
		glog.Warningf("[revlog] encoding checkpoint: %v", err)
		return
	}
	glog.V(1).Infof("[revlog] %s: checkpoint at %s", s.author, RevisionToID(s.revision-1))
	s.write(CheckpointPath, data)
}

func (s *Session) write(path string, data []byte) {
	ctx := s.ctx
	go func() {
		if err := s.store.Write(ctx, path, data); err != nil && !errors.Is(err, context.Canceled) {
			glog.Warningf("[revlog] write %s: %v", path, err)
		}
	}()
}

// SendCursor publishes our cursor, or clears it when c is nil.
func (s *Session) SendCursor(c *ot.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.write(UserPath(s.author, "cursor"), data)
	return nil
}

// SetColor publishes the color other participants should draw us in.
func (s *Session) SetColor(color string) error {
	data, err := json.Marshal(color)
	if err != nil {
		return err
	}
	s.write(UserPath(s.author, "color"), data)
	return nil
}

func (s *Session) Author() string { return s.author }

func (s *Session) Ready() bool { return s.ready }

// Revision is the number of revisions applied so far.
func (s *Session) Revision() int { return s.revision }

// IsHistoryEmpty reports whether no revision has been applied yet.
func (s *Session) IsHistoryEmpty() bool { return s.revision == 0 }

// Document is the composition of every applied revision.
func (s *Session) Document() ot.TextOperation { return s.document }

// Text is the current document text.
func (s *Session) Text() string {
	text, err := s.document.Apply("")
	if err != nil {
		return ""
	}
	return text
}
