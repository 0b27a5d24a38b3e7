package cache

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"bbcompare/internal/domain"
)

var csvHeader = []string{
	"postcode", "provider", "status",
	"monthly_price_gbp", "download_mbps", "upload_mbps", "contract_months",
	"fail_kind", "detail", "source_url", "plans", "stored_at",
}

// CSVStore keeps the whole cache in memory and rewrites the backing file on
// every put, through a temp file and rename so readers never see a torn
// write. Rows that fail to parse on load are skipped, not fatal: one corrupt
// line must not discard the rest of the cache.
type CSVStore struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	rows map[Key]domain.CacheEntry
}

func OpenCSV(path string, logger *zap.Logger) (*CSVStore, error) {
	s := &CSVStore{
		path:   path,
		logger: logger,
		rows:   make(map[Key]domain.CacheEntry),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading cache file %s: %w", path, err)
	}
	return s, nil
}

func (s *CSVStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			s.logger.Warn("skipping unreadable cache row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if line == 1 && len(rec) > 0 && rec[0] == csvHeader[0] {
			continue
		}
		entry, err := decodeEntry(rec)
		if err != nil {
			s.logger.Warn("skipping corrupt cache row", zap.Int("line", line), zap.Error(err))
			continue
		}
		key := normalizeKey(Key{Postcode: entry.Postcode, Provider: entry.Provider})
		// Last row wins: appends from older versions may have duplicated keys.
		if prev, ok := s.rows[key]; !ok || !entry.StoredAt.Before(prev.StoredAt) {
			s.rows[key] = entry
		}
	}
	return nil
}

func (s *CSVStore) Get(_ context.Context, key Key) (domain.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rows[normalizeKey(key)]
	return entry, ok, nil
}

func (s *CSVStore) Put(_ context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[normalizeKey(Key{Postcode: entry.Postcode, Provider: entry.Provider})] = entry
	return s.flushLocked()
}

func (s *CSVStore) List(_ context.Context, postcode string) ([]domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CacheEntry
	for key, entry := range s.rows {
		if key.Postcode == postcode {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *CSVStore) Ping(context.Context) error { return nil }

// Close is a no-op: every Put already reached disk.
func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) flushLocked() error {
	keys := make([]Key, 0, len(s.rows))
	for key := range s.rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Postcode != keys[j].Postcode {
			return keys[i].Postcode < keys[j].Postcode
		}
		return keys[i].Provider < keys[j].Provider
	})

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return err
	}
	for _, key := range keys {
		rec, err := encodeEntry(s.rows[key])
		if err != nil {
			f.Close()
			return err
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func encodeEntry(e domain.CacheEntry) ([]string, error) {
	rec := make([]string, len(csvHeader))
	rec[0] = e.Postcode
	rec[1] = e.Provider
	rec[2] = string(e.Outcome.Status)
	rec[7] = string(e.Outcome.FailKind)
	rec[8] = e.Outcome.Detail
	rec[11] = e.StoredAt.UTC().Format(time.RFC3339)
	if q := e.Outcome.Quote; q != nil {
		rec[3] = strconv.FormatFloat(q.MonthlyPrice, 'f', 2, 64)
		rec[4] = strconv.Itoa(q.DownloadMbps)
		rec[5] = strconv.Itoa(q.UploadMbps)
		rec[6] = strconv.Itoa(q.ContractMonths)
		rec[9] = q.SourceURL
		if len(q.Plans) > 0 {
			plans, err := json.Marshal(q.Plans)
			if err != nil {
				return nil, err
			}
			rec[10] = string(plans)
		}
	}
	return rec, nil
}

func decodeEntry(rec []string) (domain.CacheEntry, error) {
	if len(rec) < len(csvHeader) {
		return domain.CacheEntry{}, fmt.Errorf("want %d columns, got %d", len(csvHeader), len(rec))
	}
	postcode, provider := rec[0], rec[1]
	if postcode == "" || provider == "" {
		return domain.CacheEntry{}, errors.New("empty postcode or provider")
	}
	status, ok := domain.ParseOutcomeStatus(rec[2])
	if !ok {
		return domain.CacheEntry{}, fmt.Errorf("unknown status %q", rec[2])
	}
	storedAt, err := time.Parse(time.RFC3339, rec[11])
	if err != nil {
		return domain.CacheEntry{}, fmt.Errorf("bad stored_at: %w", err)
	}

	var outcome domain.ScrapeOutcome
	switch status {
	case domain.StatusSuccess:
		quote := domain.Quote{
			Provider:  provider,
			Postcode:  postcode,
			Available: true,
			FetchedAt: storedAt,
			SourceURL: rec[9],
		}
		if quote.MonthlyPrice, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("bad monthly_price_gbp: %w", err)
		}
		if quote.DownloadMbps, err = strconv.Atoi(rec[4]); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("bad download_mbps: %w", err)
		}
		if quote.UploadMbps, err = strconv.Atoi(rec[5]); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("bad upload_mbps: %w", err)
		}
		if quote.ContractMonths, err = strconv.Atoi(rec[6]); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("bad contract_months: %w", err)
		}
		if rec[10] != "" {
			if err := json.Unmarshal([]byte(rec[10]), &quote.Plans); err != nil {
				return domain.CacheEntry{}, fmt.Errorf("bad plans json: %w", err)
			}
		}
		outcome = domain.Success(quote)
	case domain.StatusUnavailable:
		outcome = domain.Unavailable(provider, postcode)
	case domain.StatusFailed:
		outcome = domain.Failed(provider, postcode, domain.FailureKind(rec[7]), rec[8])
	default:
		// Blocked is never written; a row claiming it is garbage.
		return domain.CacheEntry{}, fmt.Errorf("status %q is not cacheable", rec[2])
	}

	return domain.CacheEntry{
		Postcode: postcode,
		Provider: provider,
		Outcome:  outcome,
		StoredAt: storedAt,
	}, nil
}
