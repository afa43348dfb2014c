package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes ограничивает тело запроса разумным пределом.
const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// beginIdempotent регистрирует Idempotency-Key перед обработкой запроса.
// Возвращает true, если ответ уже записан (replay сохранённого ответа,
// конфликт ключа или всё ещё идущая обработка) и обработку продолжать не нужно.
func (s *Server) beginIdempotent(w http.ResponseWriter, key string, body []byte) bool {
	hash := requestHash(body)

	_, err := s.idempotency.CreateProcessing(key, hash, s.now().Add(s.idempotencyTTL))
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		// Тот же ключ с другим телом — клиентская ошибка, не replay.
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := s.idempotency.Get(key)
		if getErr != nil {
			s.logger.WithError(getErr).WithField("idempotency_key", key).Error("failed to load idempotency record")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "idempotency lookup failed"})
			return true
		}
		if record.Status == domain.IdempotencyStatusProcessing {
			// Первый запрос ещё в полёте, повтор должен подождать.
			writeJSON(w, http.StatusConflict, errorResponse{Error: "request with this idempotency key is still processing"})
			return true
		}
		s.replayStored(w, record)
		return true
	default:
		s.logger.WithError(err).WithField("idempotency_key", key).Error("failed to register idempotency key")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "idempotency registration failed"})
		return true
	}
}

// replayStored отдаёт сохранённый ответ завершённого запроса как есть.
func (s *Server) replayStored(w http.ResponseWriter, record domain.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// finishIdempotent сохраняет итоговый ответ под ключом.
// 2xx фиксируется как done, остальное — как failed.
func (s *Server) finishIdempotent(key string, status int, payload any) {
	if s.idempotency == nil || key == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to marshal idempotent response")
		return
	}

	if status >= 200 && status < 300 {
		err = s.idempotency.MarkDone(key, body, status)
	} else {
		err = s.idempotency.MarkFailed(key, body, status)
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
