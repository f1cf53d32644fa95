package reassembly

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/jdziat/accelrt/pkg/core"
)

// Rejection reasons, also used as metric labels.
const (
	ReasonBadFrame       = "bad_frame"
	ReasonDuplicateStart = "duplicate_start"
	ReasonOrphan         = "orphan"
	ReasonDuplicateSeq   = "duplicate_seq"
	ReasonOutOfRange     = "out_of_range"
	ReasonBadLength      = "bad_length"
	ReasonExhausted      = "exhausted"
)

// RejectError describes a refused chunk. It unwraps to
// core.ErrReassemblyCorruption, core.ErrInvalidParameter or
// core.ErrResourceExhausted.
type RejectError struct {
	Reason string
	Key    Key
	Err    error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("reassembly: %s for report %s: %v", e.Reason, e.Key, e.Err)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

// Report is one reassembled report.
type Report struct {
	Key     Key
	TaskID  core.TaskID
	QueueID core.QueueID
	Type    core.ReportType
	Data    []byte
}

type pending struct {
	buf     *Buffer
	total   int
	seen    []bool
	folded  int
	lastLen int
	touched time.Time
}

// Reassembler owns the table of in-progress reports. It is safe for
// concurrent use.
type Reassembler struct {
	mu   sync.Mutex
	bufs map[Key]*pending

	cfg     Config
	logger  *slog.Logger
	limiter *catrate.Limiter
}

// New creates a Reassembler.
func New(opts ...Option) *Reassembler {
	cfg := Config{
		MaxReportBytes: DefaultMaxReportBytes,
		MaxInflight:    DefaultMaxInflight,
		StaleAfter:     DefaultStaleAfter,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt.Apply(&cfg)
	}
	return &Reassembler{
		bufs:   make(map[Key]*pending),
		cfg:    cfg,
		logger: cfg.Logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
	}
}

// FeedFrame decodes and feeds one wire frame.
func (r *Reassembler) FeedFrame(frame []byte) (*Report, error) {
	c, err := Decode(frame)
	if err != nil {
		return nil, r.reject(ReasonBadFrame, c.Key(), err)
	}
	return r.Feed(c)
}

// Feed folds one chunk. It returns the report once every chunk of it has
// arrived, and nil while it is still incomplete. A rejected chunk leaves the
// table as it was.
func (r *Reassembler) Feed(c Chunk) (*Report, error) {
	key := c.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Now()
	p, ok := r.bufs[key]

	if c.Flags.Start() {
		if ok {
			return nil, r.reject(ReasonDuplicateStart, key, core.ErrReassemblyCorruption)
		}
		total := int(c.Count)
		if total < 1 || (c.Flags.End() && total != 1) {
			return nil, r.reject(ReasonBadLength, key,
				fmt.Errorf("%w: start declares %d chunks", core.ErrReassemblyCorruption, total))
		}
		if total*PayloadSize > r.cfg.MaxReportBytes {
			return nil, r.reject(ReasonExhausted, key,
				fmt.Errorf("%w: report of %d chunks exceeds %d bytes", core.ErrResourceExhausted, total, r.cfg.MaxReportBytes))
		}
		if len(r.bufs) >= r.cfg.MaxInflight {
			return nil, r.reject(ReasonExhausted, key,
				fmt.Errorf("%w: %d reports in flight", core.ErrResourceExhausted, len(r.bufs)))
		}
		if err := checkLength(&c, 0, total); err != nil {
			return nil, r.reject(ReasonBadLength, key, err)
		}

		p = &pending{
			buf:     NewBuffer(total * PayloadSize),
			total:   total,
			seen:    make([]bool, total),
			lastLen: -1,
		}
		if err := p.fold(&c, 0, now); err != nil {
			return nil, r.reject(ReasonBadLength, key, err)
		}
		if p.complete() {
			r.cfg.Metrics.Chunk("accepted")
			return r.finish(key, p), nil
		}
		r.bufs[key] = p
		r.cfg.Metrics.Chunk("accepted")
		r.cfg.Metrics.SetInflight(len(r.bufs))
		return nil, nil
	}

	if !ok {
		return nil, r.reject(ReasonOrphan, key,
			fmt.Errorf("%w: %s chunk without a start", core.ErrReassemblyCorruption, c.Flags))
	}

	seq := int(c.Count)
	last := p.total - 1
	if seq < 1 || seq > last || (c.Flags.End() != (seq == last)) {
		return nil, r.reject(ReasonOutOfRange, key,
			fmt.Errorf("%w: %s chunk at %d of %d", core.ErrReassemblyCorruption, c.Flags, seq, p.total))
	}
	if p.seen[seq] {
		return nil, r.reject(ReasonDuplicateSeq, key,
			fmt.Errorf("%w: chunk %d already folded", core.ErrReassemblyCorruption, seq))
	}
	if err := checkLength(&c, seq, p.total); err != nil {
		return nil, r.reject(ReasonBadLength, key, err)
	}
	if err := p.fold(&c, seq, now); err != nil {
		return nil, r.reject(ReasonBadLength, key, err)
	}
	r.cfg.Metrics.Chunk("accepted")

	if !p.complete() {
		return nil, nil
	}
	delete(r.bufs, key)
	r.cfg.Metrics.SetInflight(len(r.bufs))
	return r.finish(key, p), nil
}

// checkLength enforces full payloads on every chunk but the last.
func checkLength(c *Chunk, seq, total int) error {
	n := len(c.Payload)
	switch {
	case n > PayloadSize:
		return fmt.Errorf("%w: payload of %d bytes", core.ErrReassemblyCorruption, n)
	case seq < total-1 && n != PayloadSize:
		return fmt.Errorf("%w: short payload of %d bytes on chunk %d", core.ErrReassemblyCorruption, n, seq)
	case total > 1 && seq == total-1 && n == 0:
		return fmt.Errorf("%w: empty final chunk", core.ErrReassemblyCorruption)
	}
	return nil
}

func (p *pending) fold(c *Chunk, seq int, now time.Time) error {
	if _, err := p.buf.WriteAt(c.Payload, seq*PayloadSize); err != nil {
		return err
	}
	p.seen[seq] = true
	p.folded++
	p.touched = now
	if seq == p.total-1 {
		p.lastLen = len(c.Payload)
	}
	return nil
}

func (p *pending) complete() bool {
	return p.folded == p.total
}

func (r *Reassembler) finish(key Key, p *pending) *Report {
	n := (p.total-1)*PayloadSize + p.lastLen
	data := make([]byte, n)
	copy(data, p.buf.Bytes(n))
	r.cfg.Metrics.ReportAssembled()
	return &Report{
		Key:     key,
		TaskID:  key.TaskID(),
		QueueID: key.QueueID(),
		Type:    key.Type(),
		Data:    data,
	}
}

func (r *Reassembler) reject(reason string, key Key, err error) error {
	r.cfg.Metrics.Chunk(reason)
	if _, ok := r.limiter.Allow(rejectCategory{reason: reason, key: key}); ok {
		r.logger.Warn("report chunk rejected",
			"reason", reason,
			"task_id", key.TaskID(),
			"queue_id", key.QueueID(),
			"report_type", key.Type(),
			"error", err)
	}
	return &RejectError{Reason: reason, Key: key, Err: err}
}

type rejectCategory struct {
	reason string
	key    Key
}

// Sweep evicts buffers idle for longer than the configured StaleAfter and
// returns how many were dropped.
func (r *Reassembler) Sweep(now time.Time) int {
	if r.cfg.StaleAfter <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, p := range r.bufs {
		if now.Sub(p.touched) > r.cfg.StaleAfter {
			delete(r.bufs, key)
			evicted++
			r.logger.Debug("stale report evicted",
				"task_id", key.TaskID(),
				"queue_id", key.QueueID(),
				"folded", p.folded,
				"total", p.total)
		}
	}
	if evicted > 0 {
		r.cfg.Metrics.SetInflight(len(r.bufs))
	}
	return evicted
}

// Inflight returns the number of open buffers.
func (r *Reassembler) Inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bufs)
}

// Progress returns how many of a report's chunks have been folded.
func (r *Reassembler) Progress(key Key) (folded, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bufs[key]
	if !ok {
		return 0, 0, false
	}
	return p.folded, p.total, true
}

// IsRejection reports whether err came from a refused chunk.
func IsRejection(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}
