package labels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PackBox/internal/models"
)

// Service собирает одну merge-пачку за прогон воркера: скачивает все
// этикетки во временный каталог, склеивает их в порядке брони и удаляет
// отдельные файлы. Политика строго "всё или ничего": любая неудачная
// загрузка отменяет merge целиком, джобы остаются в BOOKED.
type Service struct {
	fetcher   *Fetcher
	merger    Merger
	outputDir string
}

func NewService(fetcher *Fetcher, merger Merger, outputDir string) *Service {
	return &Service{fetcher: fetcher, merger: merger, outputDir: outputDir}
}

// FetchAndMerge возвращает путь к итоговому документу. Имя детерминировано
// от времени прогона: labels_<UTC timestamp>.pdf.
func (s *Service) FetchAndMerge(ctx context.Context, jobs []*models.Job, runAt time.Time) (string, error) {
	if len(jobs) == 0 {
		return "", errors.New("no jobs to merge")
	}

	tmp, err := os.MkdirTemp("", "packbox-labels-")
	if err != nil {
		return "", errors.Wrap(err, "create temp dir")
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	paths := make([]string, 0, len(jobs))
	for i, j := range jobs {
		if !j.HasLabelRef() {
			return "", errors.Errorf("job %s has no label_ref", j.OrderID)
		}
		dest := filepath.Join(tmp, fmt.Sprintf("%03d_%s.pdf", i, sanitize(j.OrderID)))
		if err := s.fetcher.Fetch(ctx, *j.LabelRef, dest); err != nil {
			// Частичный провал: merge в этом прогоне не делаем вовсе,
			// чтобы не потерять ни одну ссылку на этикетку.
			return "", errors.Wrapf(err, "fetch label for order %s", j.OrderID)
		}
		paths = append(paths, dest)
	}

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	out := filepath.Join(s.outputDir, fmt.Sprintf("labels_%s.pdf", runAt.UTC().Format("20060102T150405Z")))

	if err := s.merger.Merge(paths, out); err != nil {
		return "", err
	}

	// Отдельные локальные этикетки после merge больше не нужны.
	for _, j := range jobs {
		ref := *j.LabelRef
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			continue
		}
		if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove label artifact", "path", ref, "error", err.Error())
		}
	}

	return out, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
