// Command mock-provider serves an OpenAI-compatible chat endpoint for local
// runs of the gateway. Set MOCK_FAIL_RATE to a value in [0,1] to return 503s.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "3001"
	}
	failRate, _ := strconv.ParseFloat(os.Getenv("MOCK_FAIL_RATE"), 64)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	http.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("received request", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		if rand.Float64() < failRate {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "mock provider overloaded"},
			})
			return
		}

		var req struct {
			Model    string    `json:"model"`
			Messages []message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "messages are required"},
			})
			return
		}

		last := req.Messages[len(req.Messages)-1].Content
		reply := "Echo from mock provider on port " + port + ": " + last
		promptTokens := 0
		for _, m := range req.Messages {
			promptTokens += len(strings.Fields(m.Content))
		}
		completionTokens := len(strings.Fields(reply))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "chatcmpl-" + uuid.NewString(),
			"model": req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       message{Role: "assistant", Content: reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
				"total_tokens":      promptTokens + completionTokens,
			},
		})
	})

	logger.Info("mock provider starting", "port", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("mock provider stopped", "error", err)
		os.Exit(1)
	}
}
