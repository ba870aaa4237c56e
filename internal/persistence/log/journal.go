package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"somnia.ai/internal/sim/events"
)

const journalPrefix = "events"

// Journal is a feed subscriber that writes events to the compressed journal
// from its own goroutine. Publish never blocks the tick loop.
type Journal struct {
	w   *segmentWriter
	ch  chan events.Event
	wg  sync.WaitGroup
	one sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// OpenJournal writes under dataDir/journal.
func OpenJournal(dataDir string) *Journal {
	j := &Journal{
		w:  newSegmentWriter(JournalDir(dataDir), journalPrefix),
		ch: make(chan events.Event, 8192),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j
}

func JournalDir(dataDir string) string { return filepath.Join(dataDir, "journal") }

func (j *Journal) Publish(e events.Event) {
	if j == nil || j.closed.Load() {
		return
	}
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue; Failed counts write errors.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }
func (j *Journal) Failed() uint64  { return j.failed.Load() }

func (j *Journal) Close() error {
	var err error
	j.one.Do(func() {
		j.closed.Store(true)
		close(j.ch)
		j.wg.Wait()
		err = j.w.Close()
	})
	return err
}

func (j *Journal) loop() {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.w.Append(e); err != nil {
				j.failed.Add(1)
			}
		case <-flush.C:
			if err := j.w.Flush(); err != nil {
				j.failed.Add(1)
			}
		}
	}
}

// JournalFiles lists journal files under dir in chronological order.
func JournalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, journalPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal calls fn for every event in dir, oldest file first. A truncated
// final frame ends that file without an error.
func ReadJournal(dir string, fn func(e events.Event) error) error {
	files, err := JournalFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func(e events.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

var _ events.Subscriber = (*Journal)(nil)
