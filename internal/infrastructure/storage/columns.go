package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Column names shared by every backend. The CSV header uses the same names.
const (
	colKey             = "review_id"
	colAuthor          = "author_name"
	colAuthorLink      = "author_link"
	colAuthorPhoto     = "author_photo"
	colRating          = "rating"
	colDateRaw         = "date_raw"
	colDateISO         = "date_iso"
	colText            = "text"
	colPermalink       = "review_link"
	colHelpful         = "helpful_votes"
	colImages          = "images"
	colLabels          = "labels"
	colLabelConfidence = "label_confidence"
	colLabelRationale  = "label_rationale"
	colUsed            = "used"
	colUsedAt          = "used_at"
)

var reviewColumns = []string{
	colKey,
	colAuthor,
	colAuthorLink,
	colAuthorPhoto,
	colRating,
	colDateRaw,
	colDateISO,
	colText,
	colPermalink,
	colHelpful,
	colImages,
	colLabels,
	colLabelConfidence,
	colLabelRationale,
	colUsed,
	colUsedAt,
}

const listSeparator = "|"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// joinList writes a list cell as a JSON array so values may contain the
// legacy separator. An empty list is an empty cell.
func joinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}

// splitList reads JSON array cells and falls back to the legacy "a | b" form.
func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		var values []string
		if err := json.Unmarshal([]byte(value), &values); err == nil {
			return compactList(values)
		}
	}
	return compactList(strings.Split(value, listSeparator))
}

func compactList(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
}

// parseInt accepts "3" as well as "3.0", which spreadsheet round-trips produce.
func parseInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "nao", "não":
		return false, nil
	case "1", "true", "yes", "sim":
		return true, nil
	default:
		return strconv.ParseBool(value)
	}
}

// backupName derives "<base>.<timestamp>.bak<ext>" for a store file.
func backupName(path string, at time.Time) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s.%s.bak%s", stem, at.Format("20060102-150405"), ext)
}

// uniqueBackupPath returns a backup path in dir that does not exist yet.
func uniqueBackupPath(dir, storePath string, at time.Time) (string, error) {
	name := backupName(storePath, at)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, name)
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		}
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free backup name for %s in %s", name, dir)
}

// resolveBackupDir places a relative backup directory next to the store file.
func resolveBackupDir(storePath, backupDir string) string {
	if backupDir == "" {
		return filepath.Dir(storePath)
	}
	if filepath.IsAbs(backupDir) {
		return backupDir
	}
	return filepath.Join(filepath.Dir(storePath), backupDir)
}
