package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func gzipTestHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("received: " + string(body)))
}

func TestGzipMiddleware(t *testing.T) {
	type want struct {
		statusCode      int
		contentEncoding string
		bodyContains    string
	}

	tests := []struct {
		name        string
		requestBody string
		headers     map[string]string
		want        want
	}{
		{
			name:        "client accepts gzip",
			requestBody: `{"style":"modern"}`,
			headers: map[string]string{
				"Accept-Encoding": "gzip",
				"Content-Type":    "application/json",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "gzip",
				bodyContains:    `received: {"style":"modern"}`,
			},
		},
		{
			name:        "client does not accept gzip",
			requestBody: "plain request",
			headers: map[string]string{
				"Accept-Encoding": "",
				"Content-Type":    "text/plain",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "",
				bodyContains:    "received: plain request",
			},
		},
		{
			name:        "compressed request body",
			requestBody: "compressed request",
			headers: map[string]string{
				"Content-Encoding": "gzip",
				"Accept-Encoding":  "gzip",
				"Content-Type":     "text/plain",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "gzip",
				bodyContains:    "received: compressed request",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestBody io.Reader
			if strings.Contains(tt.headers["Content-Encoding"], "gzip") {
				var buf bytes.Buffer
				gz := gzip.NewWriter(&buf)
				if _, err := gz.Write([]byte(tt.requestBody)); err != nil {
					t.Fatalf("write gzip: %v", err)
				}
				if err := gz.Close(); err != nil {
					t.Fatalf("close gzip: %v", err)
				}
				requestBody = &buf
			} else {
				requestBody = strings.NewReader(tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPost, "/test", requestBody)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()

			h := GzipMiddleware(http.HandlerFunc(gzipTestHandler))
			h.ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want.statusCode {
				t.Fatalf("status: got %d want %d", res.StatusCode, tt.want.statusCode)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.want.contentEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.want.contentEncoding)
			}

			var body []byte
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer gr.Close()
				body, err = io.ReadAll(gr)
				if err != nil {
					t.Fatalf("read gzip body: %v", err)
				}
			} else {
				var err error
				body, err = io.ReadAll(res.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
			}

			if !strings.Contains(string(body), tt.want.bodyContains) {
				t.Fatalf("body %q does not contain %q", string(body), tt.want.bodyContains)
			}
		})
	}
}
