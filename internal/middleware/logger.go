package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// responseData накапливает сведения об ответе для логирования.
type responseData struct {
	status int
	size   int
}

type loggingWriter struct {
	http.ResponseWriter
	data *responseData
}

func (w *loggingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.data.size += n
	return n, err
}

func (w *loggingWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.status = statusCode
}

// Logger возвращает middleware, логирующее каждый HTTP-запрос:
// метод, путь, статус, размер ответа и длительность обработки.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			data := &responseData{status: http.StatusOK}
			lw := &loggingWriter{ResponseWriter: w, data: data}

			next.ServeHTTP(lw, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Int("status", data.status),
				zap.Int("size", data.size),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
