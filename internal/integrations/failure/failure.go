package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind int

const (
	// KindTransient — сеть/таймаут/429/5xx: можно ретраить.
	KindTransient Kind = iota
	// KindPermanent — невалидный вход или 4xx (кроме 429): ретраи бессмысленны.
	KindPermanent
	// KindAmbiguous — сетевая ошибка после отправки запроса, удалённый
	// эффект неизвестен. Ретраится как transient, но логируется отдельно:
	// повторная попытка может продублировать бронирование у перевозчика.
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

func Ambiguous(op string, err error) *Error {
	return &Error{Kind: KindAmbiguous, Op: op, Err: err}
}

// FromStatus классифицирует HTTP-ответ внешнего API.
func FromStatus(op string, status int, body string) *Error {
	err := fmt.Errorf("http %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return Transient(op, err)
	case status >= 500:
		return Transient(op, err)
	default:
		return Permanent(op, err)
	}
}

// FromTransport classifies an error returned by http.Client.Do. sent=true
// means the request may have reached the server, so the side effect is
// unknown for non-idempotent calls.
func FromTransport(op string, err error, sent bool) *Error {
	if sent {
		return Ambiguous(op, err)
	}
	return Transient(op, err)
}

// KindOf извлекает Kind из цепочки ошибок. Неклассифицированные ошибки
// считаем transient: хуже зря ретраить, чем потерять джобу.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindTransient
}

// IsRetryable reports whether the job should go back to the queue.
func IsRetryable(err error) bool {
	return KindOf(err) != KindPermanent
}
