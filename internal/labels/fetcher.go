package labels

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/PackBox/internal/integrations/failure"
)

// Fetcher скачивает этикетку по label_ref. Ref может быть URL перевозчика
// (боевой режим) или локальным путём (dry-run/fake).
type Fetcher struct {
	httpc *http.Client

	apiUID string
	apiKey string
}

func NewFetcher(apiUID, apiKey string) *Fetcher {
	return &Fetcher{
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiUID: apiUID,
		apiKey: apiKey,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref, dest string) error {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.fetchHTTP(ctx, ref, dest)
	}
	return copyFile(ref, dest)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	// Bring отдаёт PDF этикеток только с теми же API-заголовками.
	if f.apiUID != "" {
		req.Header.Set("X-Mybring-API-Uid", f.apiUID)
		req.Header.Set("X-Mybring-API-Key", f.apiKey)
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		// GET идемпотентен, побочных эффектов нет.
		return failure.FromTransport("fetch label", err, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return failure.FromStatus("fetch label", resp.StatusCode, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create label file")
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(err, "write label file")
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open label file")
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create label file")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "copy label file")
	}
	return nil
}
