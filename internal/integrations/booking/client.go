package booking

import (
	"context"

	"github.com/BearBump/PackBox/internal/models"
)

// Result — итог успешной брони: трек-номер и ссылка на этикетку
// (URL перевозчика или локальный путь в тест-режиме).
type Result struct {
	TrackingNumber string
	LabelRef       string
}

type Client interface {
	Book(ctx context.Context, payload models.OrderPayload) (Result, error)
}
