package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

func TestTranscribeReturnsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" 我向张三转账五千元 "}`))
	}))
	defer server.Close()

	tr := New(server.URL, "", WithToken("test"))
	got, err := tr.Transcribe(context.Background(), domain.SourceFile{Name: "call.mp3", MIME: "audio/mpeg", Data: []byte("ID3")})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "我向张三转账五千元" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestTranscribeMarksServerErrorsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	tr := New(server.URL, "whisper-1", WithToken("test"))
	_, err := tr.Transcribe(context.Background(), domain.SourceFile{Name: "call.wav", Data: []byte("RIFF")})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}
