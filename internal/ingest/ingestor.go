// Package ingest implements the batch process that converts directories of
// gzip-compressed log files into database rows.
package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/store"
)

const (
	defaultBatchSize    = 1000
	defaultCommitLines  = 100000
	defaultMaxLineBytes = 1 << 20
)

// Config configures an Ingestor.
type Config struct {
	Repo   *store.Repo
	Parser *parse.Parser

	// BatchSize is the number of rows written per transaction.
	BatchSize int
	// CommitLines forces a flush of all pending batches every N input lines.
	CommitLines int
	// MaxLineBytes bounds a single input line. Longer lines are recorded
	// as parsing errors (truncated) and skipped; the file continues.
	MaxLineBytes int
	// Reingest re-processes files whose content hash is already recorded.
	Reingest bool

	Log zerolog.Logger
}

// Ingestor reads compressed log files and populates the store. It is
// single-threaded; one file is processed at a time, line by line.
type Ingestor struct {
	repo   *store.Repo
	parser *parse.Parser

	batchSize    int
	commitLines  int
	maxLineBytes int
	reingest     bool

	log zerolog.Logger
}

// New creates an Ingestor, applying defaults for unset limits.
func New(cfg Config) *Ingestor {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	commitLines := cfg.CommitLines
	if commitLines <= 0 {
		commitLines = defaultCommitLines
	}
	maxLineBytes := cfg.MaxLineBytes
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	parser := cfg.Parser
	if parser == nil {
		parser = parse.New()
	}
	return &Ingestor{
		repo:         cfg.Repo,
		parser:       parser,
		batchSize:    batchSize,
		commitLines:  commitLines,
		maxLineBytes: maxLineBytes,
		reingest:     cfg.Reingest,
		log:          cfg.Log,
	}
}

// Run ingests every *.gz file in dir. Files whose content hash matches a
// previous ingest are skipped unless Reingest is set. A failing file is
// logged and skipped; the run continues. Returns the finished run record.
func (ing *Ingestor) Run(ctx context.Context, dir string) (model.IngestRun, error) {
	run := model.IngestRun{
		ID:          uuid.NewString(),
		StartedAtNs: time.Now().UnixNano(),
	}

	info, err := os.Stat(dir)
	if err != nil {
		return run, fmt.Errorf("ingest dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return run, fmt.Errorf("ingest dir %s: not a directory", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.gz"))
	if err != nil {
		return run, fmt.Errorf("ingest glob %s: %w", dir, err)
	}
	sort.Strings(files)
	run.FilesSeen = int64(len(files))

	if len(files) == 0 {
		ing.log.Warn().Str("dir", dir).Msg("no .gz files found")
	}

	if err := ing.repo.InsertRun(run); err != nil {
		return run, err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			break
		}

		hash, size, err := hashFile(path)
		if err != nil {
			ing.log.Warn().Err(err).Str("file", path).Msg("hash failed, skipping file")
			run.FilesFailed++
			continue
		}

		if !ing.reingest {
			prev, err := ing.repo.GetSourceFile(path)
			if err != nil {
				return run, err
			}
			if prev != nil && prev.ContentHash == hash {
				ing.log.Debug().Str("file", path).Msg("unchanged, skipping")
				run.FilesSkipped++
				continue
			}
		}

		ing.log.Info().Str("file", path).Msg("processing")
		stats, err := ing.ingestFile(ctx, path)
		if err != nil {
			ing.log.Warn().Err(err).Str("file", path).Msg("file failed, skipping")
			run.FilesFailed++
			continue
		}

		run.FilesIngested++
		run.Lines += stats.lines
		run.Entries += stats.entries
		run.JSONEntries += stats.jsonEntries
		run.Errors += stats.errors
		run.StackTraces += stats.stackTraces

		if err := ing.repo.UpsertSourceFile(model.SourceFile{
			Path:         path,
			ContentHash:  hash,
			SizeBytes:    size,
			Lines:        stats.lines,
			Entries:      stats.entries,
			JSONEntries:  stats.jsonEntries,
			Errors:       stats.errors,
			StackTraces:  stats.stackTraces,
			RunID:        run.ID,
			IngestedAtNs: time.Now().UnixNano(),
		}); err != nil {
			return run, err
		}

		ing.log.Info().
			Str("file", path).
			Int64("lines", stats.lines).
			Int64("entries", stats.entries).
			Int64("json_entries", stats.jsonEntries).
			Int64("errors", stats.errors).
			Int64("stack_traces", stats.stackTraces).
			Msg("finished file")
	}

	run.FinishedAtNs = time.Now().UnixNano()
	if err := ing.repo.FinishRun(run); err != nil {
		return run, err
	}
	return run, nil
}

type fileStats struct {
	lines       int64
	entries     int64
	jsonEntries int64
	errors      int64
	stackTraces int64
}

type pendingTrace struct {
	entryIndex int // index into the current entry batch
	text       string
}

// fileState accumulates per-file batches between flushes. The current entry
// stays out of the batch until the next standalone line finalizes it, so
// continuation and stack trace lines can still amend it.
type fileState struct {
	batch     []model.LogEntry
	traces    []pendingTrace
	jsonBatch []model.JSONLogEntry
	errBatch  []model.ParsingError

	cur      *model.LogEntry
	curTrace []string

	stats fileStats
}

func (ing *Ingestor) ingestFile(ctx context.Context, path string) (fileStats, error) {
	st := &fileState{}

	f, err := os.Open(path)
	if err != nil {
		return st.stats, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return st.stats, fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	reader := bufio.NewReaderSize(gz, 64*1024)

	var sinceCommit int64
	for {
		raw, tooLong, readErr := readLine(reader, ing.maxLineBytes)
		if readErr != nil && readErr != io.EOF {
			return st.stats, fmt.Errorf("read %s: %w", path, readErr)
		}

		line := strings.TrimSpace(string(raw))
		if line != "" || tooLong {
			line = strings.ToValidUTF8(line, "�")
			st.stats.lines++
			sinceCommit++

			if tooLong {
				// The tail beyond the limit was discarded; keep the prefix.
				st.errBatch = append(st.errBatch, model.ParsingError{
					Line:         line,
					SourceFile:   path,
					ErrorMessage: "line too long",
				})
				st.stats.errors++
			} else {
				ing.processLine(st, line, path)
			}

			if len(st.batch) >= ing.batchSize || len(st.jsonBatch) >= ing.batchSize || len(st.errBatch) >= ing.batchSize {
				if err := ing.flush(st); err != nil {
					return st.stats, err
				}
			}
			if sinceCommit >= int64(ing.commitLines) {
				if err := ing.flush(st); err != nil {
					return st.stats, err
				}
				sinceCommit = 0
				ing.log.Info().Str("file", path).Int64("lines", st.stats.lines).Msg("progress")
				if err := ctx.Err(); err != nil {
					return st.stats, err
				}
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	st.finalizeCur()
	if err := ing.flush(st); err != nil {
		return st.stats, err
	}
	return st.stats, nil
}

// processLine routes one non-blank line: new structured entry, new JSON
// entry, stack trace line, continuation of the current entry, or parsing
// error. Exactly one of those happens per line.
func (ing *Ingestor) processLine(st *fileState, line, path string) {
	if entry, ok := ing.parser.ParseEntry(line, path); ok {
		st.finalizeCur()
		st.cur = &entry
		return
	}

	if jsonEntry, ok := ing.parser.ParseJSON(line, path); ok {
		st.finalizeCur()
		st.jsonBatch = append(st.jsonBatch, jsonEntry)
		st.stats.jsonEntries++
		return
	}

	if parse.IsStackTraceLine(line) && st.cur != nil {
		st.curTrace = append(st.curTrace, line)
		return
	}

	if st.cur != nil {
		// Continuation of a multi-line message.
		st.cur.Message += "\n" + line
		st.cur.RawLog += "\n" + line
		return
	}

	st.errBatch = append(st.errBatch, model.ParsingError{
		Line:         line,
		SourceFile:   path,
		ErrorMessage: "no format matched",
	})
	st.stats.errors++
}

// finalizeCur moves the in-progress entry into the batch, carrying its
// buffered stack trace along.
func (st *fileState) finalizeCur() {
	if st.cur == nil {
		return
	}
	if len(st.curTrace) > 0 {
		st.cur.HasStackTrace = true
	}
	st.batch = append(st.batch, *st.cur)
	st.stats.entries++
	if len(st.curTrace) > 0 {
		st.traces = append(st.traces, pendingTrace{
			entryIndex: len(st.batch) - 1,
			text:       strings.Join(st.curTrace, "\n"),
		})
		st.stats.stackTraces++
	}
	st.cur = nil
	st.curTrace = nil
}

// flush writes all pending batches. Entry row IDs returned by the insert
// resolve the stack trace back-references.
func (ing *Ingestor) flush(st *fileState) error {
	if len(st.batch) > 0 {
		ids, err := ing.repo.InsertEntries(st.batch)
		if err != nil {
			return err
		}
		if len(st.traces) > 0 {
			traces := make([]model.StackTrace, 0, len(st.traces))
			for _, pt := range st.traces {
				traces = append(traces, model.StackTrace{
					LogID:      ids[pt.entryIndex],
					StackTrace: pt.text,
				})
			}
			if _, err := ing.repo.InsertStackTraces(traces); err != nil {
				return err
			}
		}
		st.batch = st.batch[:0]
		st.traces = st.traces[:0]
	}

	if len(st.jsonBatch) > 0 {
		if _, err := ing.repo.InsertJSONEntries(st.jsonBatch); err != nil {
			return err
		}
		st.jsonBatch = st.jsonBatch[:0]
	}

	if len(st.errBatch) > 0 {
		if _, err := ing.repo.InsertParsingErrors(st.errBatch); err != nil {
			return err
		}
		st.errBatch = st.errBatch[:0]
	}

	return nil
}

// readLine returns the next line without its trailing newline. A line
// longer than max bytes is truncated to the first max bytes, the remainder
// is discarded up to the next newline, and tooLong is true; reading resumes
// at the following line. Returns io.EOF together with the final line.
func readLine(r *bufio.Reader, max int) ([]byte, bool, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)

		if err == bufio.ErrBufferFull {
			if len(buf) > max {
				derr := discardLine(r)
				return buf[:max], true, derr
			}
			continue
		}
		if err != nil && err != io.EOF {
			return buf, false, err
		}

		if n := len(buf); n > 0 && buf[n-1] == '\n' {
			buf = buf[:n-1]
		}
		if len(buf) > max {
			return buf[:max], true, err
		}
		return buf, false, err
	}
}

// discardLine consumes input up to and including the next newline.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

// hashFile returns the xxh3-128 hex digest and size of the file's
// compressed bytes.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := xxh3.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	sum := h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo), size, nil
}
