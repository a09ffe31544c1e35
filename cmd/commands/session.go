package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/rbaliyan/calllog"
	"github.com/rbaliyan/calllog/resolver"
	"github.com/rbaliyan/calllog/store"
)

// results collects what the dispatcher delivered during one command.
type results struct {
	mu       sync.Mutex
	calls    []store.Call
	statuses []store.VoicemailStatus
	fetched  bool
	errs     []error
}

func (r *results) listener() calllog.ListenerFuncs {
	return calllog.ListenerFuncs{
		CallsFetched: func(rs store.ResultSet) bool {
			calls, err := store.ScanCalls(rs)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fetched = true
			r.calls = calls
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("read calls: %w", err))
			}
			return false
		},
		VoicemailStatusFetched: func(rs store.ResultSet) {
			statuses, err := store.ScanVoicemailStatus(rs)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fetched = true
			r.statuses = statuses
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("read voicemail status: %w", err))
			}
		},
		OperationFailed: func(_ calllog.OperationKind, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *results) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

// session is a connected dispatcher for the lifetime of one command.
type session struct {
	logger     *slog.Logger
	dispatcher *calllog.Dispatcher
	backend    *backend
	results    *results
}

// openSession loads the configuration, opens the backend and connects a
// dispatcher to it.
func openSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	b, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	res := &results{}
	opts := []calllog.Option{
		calllog.WithStore(b.store),
		calllog.WithLogger(logger),
		calllog.WithSlotResolver(resolver.NewStatic(cfg.Slots())),
		calllog.WithStrictSlotResolution(cfg.StrictSlots),
		calllog.WithFetchLimit(cfg.FetchLimit),
		calllog.WithQueueSize(cfg.QueueSize),
		calllog.WithOperationTimeout(cfg.OperationTimeout),
		calllog.WithListener(res.listener()),
		calllog.WithServiceName("calllog-cli"),
	}
	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		opts = append(opts, calllog.WithRedisClient(redisClient))
	}

	d, err := calllog.New(opts...)
	if err == nil {
		err = d.Connect(ctx)
	}
	if err != nil {
		if redisClient != nil {
			closeQuietly(logger, "redis", redisClient)
		}
		b.store.Close(ctx)
		b.close(ctx)
		return nil, err
	}

	s := &session{logger: logger, dispatcher: d, backend: b, results: res}
	if redisClient != nil {
		prev := b.release
		b.release = func(ctx context.Context) error {
			closeQuietly(logger, "redis", redisClient)
			if prev != nil {
				return prev(ctx)
			}
			return nil
		}
	}
	return s, nil
}

// finish waits for every submitted operation and its delivery, then
// releases the backend. It returns the first operation failure, if any.
func (s *session) finish(ctx context.Context) error {
	err := s.dispatcher.Close(ctx)
	if relErr := s.backend.close(ctx); relErr != nil {
		err = errors.Join(err, relErr)
	}
	if err != nil {
		return err
	}
	return s.results.err()
}

// run submits an operation and waits for it to complete.
func (s *session) run(ctx context.Context, submit func(context.Context, *calllog.Dispatcher) error) error {
	if err := submit(ctx, s.dispatcher); err != nil {
		s.finish(ctx)
		return err
	}
	return s.finish(ctx)
}
