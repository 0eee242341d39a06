package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ReviewHarvester/internal/domain"
	"ReviewHarvester/internal/ports"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVStore keeps the dataset in a single UTF-8 CSV file, replaced atomically on every write.
type CSVStore struct {
	path      string
	backupDir string
	logger    *slog.Logger

	now    func() time.Time
	rename func(oldpath, newpath string) error
}

var (
	_ ports.RecordStore = (*CSVStore)(nil)
	_ ports.KeySource   = (*CSVStore)(nil)
)

// NewCSVStore builds a store for path. Relative backup directories live next to the file.
func NewCSVStore(path, backupDir string, logger *slog.Logger) *CSVStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CSVStore{
		path:      path,
		backupDir: resolveBackupDir(path, backupDir),
		logger:    logger,
		now:       time.Now,
		rename:    os.Rename,
	}
}

// Location returns the file path.
func (s *CSVStore) Location() string { return s.path }

// Load reads the file. A missing, empty or header-only file yields no records.
func (s *CSVStore) Load(ctx context.Context) ([]domain.Review, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.StoreReadError{Location: s.path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	reviews, err := decodeCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, &domain.StoreReadError{Location: s.path, Err: err}
	}
	return reviews, nil
}

// Replace writes reviews to a temporary file in the same directory and renames it
// over the store. Unless opts.SkipBackup is set, the current file is copied into the
// backup directory first. On any failure the previous file is left untouched.
func (s *CSVStore) Replace(ctx context.Context, reviews []domain.Review, opts ports.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: err}
	}

	if !opts.SkipBackup {
		backup, err := s.backup()
		if err != nil {
			return &domain.StoreWriteError{Location: s.path, Err: fmt.Errorf("backup: %w", err)}
		}
		if backup != "" {
			s.logger.Info("store backup written", "backup", backup)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := encodeCSV(tmp, reviews); err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: err}
	}
	if err := s.rename(tmpPath, s.path); err != nil {
		return &domain.StoreWriteError{Location: s.path, Err: fmt.Errorf("replace: %w", err)}
	}
	committed = true
	return nil
}

// backup copies the current file and returns the copy's path, or "" when there is nothing to keep.
func (s *CSVStore) backup() (string, error) {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", err
	}
	target, err := uniqueBackupPath(s.backupDir, s.path, s.now())
	if err != nil {
		return "", err
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return target, nil
}

func encodeCSV(w io.Writer, reviews []domain.Review) error {
	buf := bufio.NewWriter(w)
	if _, err := buf.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(buf)
	if err := cw.Write(reviewColumns); err != nil {
		return err
	}
	for _, r := range reviews {
		if err := cw.Write(reviewToRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

func reviewToRecord(r domain.Review) []string {
	return []string{
		r.Key,
		r.Author,
		r.AuthorLink,
		r.AuthorPhoto,
		formatFloat(r.Rating),
		r.TimestampRaw,
		r.TimestampNormalized,
		r.Text,
		r.Permalink,
		strconv.Itoa(r.HelpfulCount),
		joinList(r.ImageURLs),
		joinList(r.Labels),
		formatFloat(r.LabelConfidence),
		r.LabelRationale,
		strconv.FormatBool(r.Used),
		r.UsedAt,
	}
}

func decodeCSV(r io.Reader) ([]domain.Review, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colKey, colText} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var reviews []domain.Review
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		review, err := recordToReview(record, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

func recordToReview(record []string, index map[string]int) (domain.Review, error) {
	get := func(column string) string {
		if i, ok := index[column]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	rating, err := parseFloat(get(colRating))
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colRating, err)
	}
	helpful, err := parseInt(get(colHelpful))
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colHelpful, err)
	}
	confidence, err := parseFloat(get(colLabelConfidence))
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colLabelConfidence, err)
	}
	used, err := parseBool(get(colUsed))
	if err != nil {
		return domain.Review{}, fmt.Errorf("%s: %w", colUsed, err)
	}

	return domain.Review{
		Key:                 domain.NormalizeKey(get(colKey)),
		Text:                get(colText),
		Author:              get(colAuthor),
		AuthorLink:          get(colAuthorLink),
		AuthorPhoto:         get(colAuthorPhoto),
		Rating:              rating,
		TimestampRaw:        get(colDateRaw),
		TimestampNormalized: get(colDateISO),
		Permalink:           get(colPermalink),
		ImageURLs:           splitList(get(colImages)),
		HelpfulCount:        helpful,
		Labels:              splitList(get(colLabels)),
		LabelConfidence:     confidence,
		LabelRationale:      get(colLabelRationale),
		Used:                used,
		UsedAt:              get(colUsedAt),
	}, nil
}
