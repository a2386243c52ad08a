// Package store persists test runs and their results in an embedded
// key-value database so that they can be inspected after the process exits.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/giantswarm/agent-testing/internal/testsuite"
)

const runPrefix = "run/"

// ErrNotFound is returned when no run exists for an id.
var ErrNotFound = errors.New("run not found")

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// Store keeps runs in badger, keyed by run id.
type Store struct {
	db *badger.DB
}

// Open opens the store in dirPath. An empty dirPath gives an in-memory
// store that is lost on Close.
func Open(dirPath string) (*Store, error) {
	var opts badger.Options
	if dirPath == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dirPath).WithSyncWrites(false).WithTruncate(true)
	}
	opts = opts.WithLogger(slogLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open result store")
	}
	return &Store{db: db}, nil
}

// SaveRun writes run, replacing any earlier snapshot with the same id.
func (s *Store) SaveRun(_ context.Context, run *testsuite.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrapf(err, "could not encode run %s", run.ID)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
	return errors.WithMessagef(err, "could not save run %s", run.ID)
}

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(_ context.Context, id string) (*testsuite.Run, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read run %s", id)
	}

	var run testsuite.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.Wrapf(err, "could not decode run %s", id)
	}
	return &run, nil
}

// Filter narrows ListRuns. Empty fields match everything.
type Filter struct {
	SuiteName string
	TargetID  string
}

func (f Filter) matches(run *testsuite.Run) bool {
	if f.SuiteName != "" && !strings.EqualFold(f.SuiteName, run.SuiteName) {
		return false
	}
	return f.TargetID == "" || f.TargetID == run.TargetID
}

// ListRuns returns the stored runs matching filter, most recent first.
func (s *Store) ListRuns(_ context.Context, filter Filter) ([]*testsuite.Run, error) {
	var runs []*testsuite.Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var run testsuite.Run
				if err := json.Unmarshal(val, &run); err != nil {
					return errors.Wrapf(err, "could not decode %s", item.Key())
				}
				if filter.matches(&run) {
					runs = append(runs, &run)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not list runs")
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Sync flushes pending writes to disk.
func (s *Store) Sync() error {
	return s.db.Sync()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// slogLogger routes badger's internal logging to slog. Badger is chatty at
// info level so everything below warning is logged as debug.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...interface{}) {
	slog.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (slogLogger) Warningf(format string, args ...interface{}) {
	slog.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (slogLogger) Infof(format string, args ...interface{}) {
	slog.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (slogLogger) Debugf(format string, args ...interface{}) {
	slog.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
