package search

import (
	"context"
	"log/slog"
)

type envelope struct {
	msg   any
	reply chan any
}

// Worker owns the current pool and handles one message at a time. Every query
// is evaluated against the pool snapshot that was current when the query was
// dequeued.
type Worker struct {
	log     *slog.Logger
	inbox   chan envelope
	pool    Pool
	version string
}

func NewWorker(log *slog.Logger) *Worker {
	return &Worker{
		log:   log,
		inbox: make(chan envelope),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-w.inbox:
			env.reply <- w.handle(env.msg)
		}
	}
}

// Post hands msg to the worker and waits for its reply. Messages the worker
// does not understand produce a nil reply.
func (w *Worker) Post(ctx context.Context, msg any) (any, error) {
	env := envelope{msg: msg, reply: make(chan any, 1)}

	select {
	case w.inbox <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PostRaw decodes a raw message and posts it. Unparseable messages are dropped
// without reaching the worker.
func (w *Worker) PostRaw(ctx context.Context, raw []byte) (any, error) {
	msg, ok := DecodeMessage(raw)
	if !ok {
		return nil, nil
	}

	return w.Post(ctx, msg)
}

func (w *Worker) Init(ctx context.Context, version string, pool Pool) (ReadyMessage, error) {
	r, err := w.Post(ctx, InitMessage{Version: version, Pool: pool})
	if err != nil {
		return ReadyMessage{}, err
	}

	return r.(ReadyMessage), nil
}

func (w *Worker) Query(ctx context.Context, q QueryMessage) (ResultMessage, error) {
	r, err := w.Post(ctx, q)
	if err != nil {
		return ResultMessage{}, err
	}

	return r.(ResultMessage), nil
}

func (w *Worker) handle(msg any) any {
	switch m := msg.(type) {
	case InitMessage:
		w.pool = m.Pool
		w.version = m.Version
		w.log.Info("search pool initialized",
			slog.String("version", m.Version),
			slog.Int("entries", m.Pool.Size()))

		return ReadyMessage{Type: TypeReady, Version: m.Version}
	case QueryMessage:
		res := w.pool.Search(m.Query, m.Limits)
		return ResultMessage{
			Type:      TypeResult,
			RequestID: m.RequestID,
			Games:     res.Games,
			Guides:    res.Guides,
			Topics:    res.Topics,
		}
	default:
		w.log.Debug("ignoring unknown search message")
		return nil
	}
}
