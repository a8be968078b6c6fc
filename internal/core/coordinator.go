package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/proto"
)

// TableStore persists the channel table of a room.
type TableStore interface {
	// Load returns the stored table for room, or an empty table if none exists.
	Load(ctx context.Context, room string) (ChannelTable, error)
	// Save overwrites the stored table for room in a single write.
	Save(ctx context.Context, room string, table ChannelTable) error
}

// Options tunes a Coordinator.
type Options struct {
	Room           string
	SendBuffer     int
	StorageTimeout time.Duration
	StorageRetries int
	RetryBackoff   time.Duration
	// MaxChannels caps the channel count a caller may request.
	MaxChannels    int
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Room:           "A",
		SendBuffer:     16,
		StorageTimeout: 5 * time.Second,
		StorageRetries: 2,
		RetryBackoff:   100 * time.Millisecond,
		MaxChannels:    64,
	}
}

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opReset
	opSnapshot
	opCount
)

type op struct {
	kind        opKind
	ctx         context.Context
	participant string
	count       int
	conn        *Conn
	reply       chan opResult
}

type opResult struct {
	conn       *Conn
	assignment proto.Assignment
	table      ChannelTable
	count      int
	err        error
}

// Coordinator serializes every connect, disconnect and reset of one room.
// All operations are processed one at a time by Run, so the load-modify-save
// sequence on the channel table never interleaves.
type Coordinator struct {
	opts     Options
	store    TableStore
	registry *Registry
	log      *zerolog.Logger

	ops  chan op
	done chan struct{}
}

// NewCoordinator creates a coordinator for the room named in opts.
func NewCoordinator(store TableStore, opts Options, logger *zerolog.Logger) *Coordinator {
	def := DefaultOptions()
	if opts.Room == "" {
		opts.Room = def.Room
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = def.StorageTimeout
	}
	if opts.StorageRetries < 0 {
		opts.StorageRetries = 0
	}
	if opts.MaxChannels <= 0 {
		opts.MaxChannels = def.MaxChannels
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	roomLog := logger.With().Str("room", opts.Room).Logger()

	return &Coordinator{
		opts:     opts,
		store:    store,
		registry: NewRegistry(&roomLog),
		log:      &roomLog,
		ops:      make(chan op),
		done:     make(chan struct{}),
	}
}

// Room returns the name of the coordinated room.
func (c *Coordinator) Room() string {
	return c.opts.Room
}

// MaxChannels returns the largest channel count Connect and Snapshot accept.
func (c *Coordinator) MaxChannels() int {
	return c.opts.MaxChannels
}

// Done is closed once Run has drained and returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run processes operations until ctx is cancelled. On exit the participants of
// still-open connections are removed from the stored table and every
// connection's outbound queue is closed.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case o := <-c.ops:
			o.reply <- c.handle(o)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

// Connect assigns participant to the least-loaded of count channels and
// registers a new connection for it. The assignment is queued on the returned
// connection before the new participant count is broadcast to everyone else.
func (c *Coordinator) Connect(ctx context.Context, participant string, count int) (*Conn, proto.Assignment, error) {
	if err := ValidateCount(count, c.opts.MaxChannels); err != nil {
		return nil, proto.Assignment{}, err
	}
	if participant == "" {
		return nil, proto.Assignment{}, ErrEmptyParticipant
	}
	res := c.submit(ctx, op{kind: opConnect, participant: participant, count: count})
	return res.conn, res.assignment, res.err
}

// Disconnect unregisters conn, removes its participant from the stored table
// and broadcasts the new participant count to the remaining connections.
// The registry is updated even when the table cannot be saved.
func (c *Coordinator) Disconnect(ctx context.Context, conn *Conn) error {
	if conn == nil {
		return nil
	}
	return c.submit(ctx, op{kind: opDisconnect, conn: conn}).err
}

// Reset clears every channel assignment. Open connections are left untouched.
func (c *Coordinator) Reset(ctx context.Context) error {
	return c.submit(ctx, op{kind: opReset}).err
}

// Snapshot reconciles the stored table for count channels, persists it and
// returns it.
func (c *Coordinator) Snapshot(ctx context.Context, count int) (ChannelTable, error) {
	if err := ValidateCount(count, c.opts.MaxChannels); err != nil {
		return nil, err
	}
	res := c.submit(ctx, op{kind: opSnapshot, count: count})
	return res.table, res.err
}

// ParticipantCount returns the number of open connections.
func (c *Coordinator) ParticipantCount(ctx context.Context) (int, error) {
	res := c.submit(ctx, op{kind: opCount})
	return res.count, res.err
}

func (c *Coordinator) submit(ctx context.Context, o op) opResult {
	o.ctx = ctx
	o.reply = make(chan opResult, 1)
	select {
	case c.ops <- o:
	case <-c.done:
		return opResult{err: ErrCoordinatorStopped}
	case <-ctx.Done():
		return opResult{err: ctx.Err()}
	}
	// Once accepted the operation always completes; storage calls are bounded.
	return <-o.reply
}

func (c *Coordinator) handle(o op) opResult {
	switch o.kind {
	case opConnect:
		return c.connect(o)
	case opDisconnect:
		return c.disconnect(o)
	case opReset:
		if err := c.save(o.ctx, ChannelTable{}); err != nil {
			return opResult{err: err}
		}
		c.log.Info().Msg("channel table reset")
		return opResult{}
	case opSnapshot:
		table, err := c.load(o.ctx)
		if err != nil {
			return opResult{err: err}
		}
		table = Reconcile(table, o.count)
		if err := c.save(o.ctx, table); err != nil {
			return opResult{err: err}
		}
		return opResult{table: table}
	case opCount:
		return opResult{count: c.registry.Len()}
	default:
		return opResult{err: fmt.Errorf("unknown operation %d", o.kind)}
	}
}

func (c *Coordinator) connect(o op) opResult {
	if c.registry.HasParticipant(o.participant) {
		c.log.Warn().Str("participant", o.participant).Msg("participant id already connected, assigning again")
	}

	table, err := c.load(o.ctx)
	if err != nil {
		return opResult{err: err}
	}
	table = Reconcile(table, o.count)
	channel := PickLeastLoaded(table, o.count)
	table = Assign(table, channel, o.participant)
	if err := c.save(o.ctx, table); err != nil {
		return opResult{err: err}
	}

	conn := NewConn(o.participant, c.opts.SendBuffer)
	conn.Channel = channel
	c.registry.Register(conn)

	assignment := proto.Assignment{
		AssignedChannel:  channel,
		ParticipantCount: c.registry.Len(),
	}
	if err := c.registry.Send(conn, assignment); err != nil {
		c.log.Error().Err(err).Str("conn_id", conn.ID).Msg("queue assignment")
	}
	if err := c.registry.Broadcast(proto.CountUpdate{ParticipantCount: assignment.ParticipantCount}, conn); err != nil {
		c.log.Error().Err(err).Msg("broadcast participant count")
	}

	c.log.Info().
		Str("participant", o.participant).
		Str("conn_id", conn.ID).
		Int("channel", channel).
		Int("participants", assignment.ParticipantCount).
		Msg("participant assigned")

	return opResult{conn: conn, assignment: assignment}
}

func (c *Coordinator) disconnect(o op) opResult {
	participant, ok := c.registry.TagOf(o.conn)
	if !ok {
		return opResult{}
	}
	c.registry.Unregister(o.conn)

	var storageErr error
	table, err := c.load(o.ctx)
	if err == nil {
		err = c.save(o.ctx, Remove(table, participant))
	}
	if err != nil {
		storageErr = err
		c.log.Error().Err(err).
			Bool("drift", true).
			Str("participant", participant).
			Msg("channel table left stale after disconnect")
	}

	remaining := c.registry.Len()
	if err := c.registry.Broadcast(proto.CountUpdate{ParticipantCount: remaining}, nil); err != nil {
		c.log.Error().Err(err).Msg("broadcast participant count")
	}

	c.log.Info().
		Str("participant", participant).
		Str("conn_id", o.conn.ID).
		Int("participants", remaining).
		Msg("participant left")

	return opResult{err: storageErr}
}

// drain releases every open connection at shutdown.
func (c *Coordinator) drain() {
	conns := c.registry.All()
	if len(conns) == 0 {
		return
	}

	ctx := context.Background()
	table, err := c.load(ctx)
	if err == nil {
		for _, conn := range conns {
			table = Remove(table, conn.Participant)
		}
		err = c.save(ctx, table)
	}
	if err != nil {
		c.log.Error().Err(err).Bool("drift", true).Int("connections", len(conns)).Msg("channel table left stale at shutdown")
	}

	for _, conn := range conns {
		c.registry.Unregister(conn)
	}
	c.log.Info().Int("connections", len(conns)).Msg("released open connections")
}

func (c *Coordinator) load(ctx context.Context) (ChannelTable, error) {
	var table ChannelTable
	err := c.withRetry(ctx, "load", func(ctx context.Context) error {
		var err error
		table, err = c.store.Load(ctx, c.opts.Room)
		return err
	})
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = ChannelTable{}
	}
	return table, nil
}

func (c *Coordinator) save(ctx context.Context, table ChannelTable) error {
	return c.withRetry(ctx, "save", func(ctx context.Context) error {
		return c.store.Save(ctx, c.opts.Room, table)
	})
}

// withRetry runs fn with a per-attempt timeout, retrying with linear backoff.
func (c *Coordinator) withRetry(ctx context.Context, name string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.opts.StorageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, name, ctx.Err())
			case <-time.After(c.opts.RetryBackoff * time.Duration(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.StorageTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		c.log.Warn().Err(err).Str("op", name).Int("attempt", attempt+1).Msg("storage call failed")
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, name, err)
}
