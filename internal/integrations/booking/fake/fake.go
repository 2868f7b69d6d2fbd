package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/BearBump/PackBox/internal/integrations/booking"
	"github.com/BearBump/PackBox/internal/integrations/failure"
	"github.com/BearBump/PackBox/internal/models"
	"github.com/pkg/errors"
)

// minimalPDF — однострaничный PDF, достаточный для merge. Содержимое
// не печатается, важна только валидная структура файла.
const minimalPDF = `%PDF-1.4
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 298 420] >>
endobj
xref
0 4
0000000000 65535 f
0000000009 00000 n
0000000058 00000 n
0000000115 00000 n
trailer
<< /Size 4 /Root 1 0 R >>
startxref
186
%%EOF
`

// FakeClient — dry-run режим: детерминированный трек-номер по order_id,
// этикетка пишется локальным файлом вместо скачивания у перевозчика.
type FakeClient struct {
	labelDir string

	mu    sync.Mutex
	calls []string
}

func New(labelDir string) *FakeClient {
	return &FakeClient{labelDir: labelDir}
}

func (f *FakeClient) Book(ctx context.Context, payload models.OrderPayload) (booking.Result, error) {
	if payload.OrderID == "" {
		return booking.Result{}, failure.Permanent("fake book", errors.New("order_id is required"))
	}

	f.mu.Lock()
	f.calls = append(f.calls, payload.OrderID)
	f.mu.Unlock()

	h := fnv.New32a()
	_, _ = h.Write([]byte(payload.OrderID))
	tracking := fmt.Sprintf("SIM-%s-%08x", payload.OrderID, h.Sum32())

	if err := os.MkdirAll(f.labelDir, 0o755); err != nil {
		return booking.Result{}, errors.Wrap(err, "create label dir")
	}
	labelPath := filepath.Join(f.labelDir, fmt.Sprintf("label_%s.pdf", payload.OrderID))
	if err := os.WriteFile(labelPath, []byte(minimalPDF), 0o644); err != nil {
		return booking.Result{}, errors.Wrap(err, "write fake label")
	}

	return booking.Result{
		TrackingNumber: tracking,
		LabelRef:       labelPath,
	}, nil
}

// BookCalls returns order IDs in booking order (used by tests).
func (f *FakeClient) BookCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
