package steps

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shaiso/Rollout/internal/domain"
)

// Ошибки шагов.
var (
	// ErrStageNotFound — стадия не зарегистрирована в реестре.
	ErrStageNotFound = errors.New("stage not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrUnhealthy — endpoint не прошёл проверку здоровья.
	ErrUnhealthy = errors.New("endpoint unhealthy")

	// ErrVersionMismatch — endpoint отдаёт не ту версию конфигурации.
	ErrVersionMismatch = errors.New("config version mismatch")
)

// Имена стандартных стадий.
const (
	StagePush      = "push"
	StageVerify    = "verify"
	StageActivate  = "activate"
	StageBroadcast = "broadcast"
)

// DefaultStages — порядок стадий конвейера по умолчанию.
var DefaultStages = []string{StagePush, StageVerify, StageActivate, StageBroadcast}

// HTTPError — endpoint ответил неуспешным статусом.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// classifyStatus превращает неуспешный статус в ошибку шага.
//
// 5xx, 429 и 408 — временные, остальные 4xx — неустранимые.
func classifyStatus(url string, code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &HTTPError{URL: url, StatusCode: code, Body: body}
	switch {
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return domain.Transient(err)
	default:
		return err
	}
}

// targetVersion возвращает версию, к которой откатывается задача.
//
// Приоритет: снимок предыдущей конфигурации для того же deploy unit,
// затем last known good. Пустая строка — откатывать не к чему.
func targetVersion(unit domain.DeployUnit, prev *domain.ConfigSnapshot, lastKnownGood string) string {
	if prev != nil && prev.DeployUnit.ID == unit.ID && prev.DeployUnit.Version != "" {
		return prev.DeployUnit.Version
	}
	return lastKnownGood
}
