package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeEnvelope(w http.ResponseWriter, status int, env map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func sampleUser() map[string]interface{} {
	return map[string]interface{}{
		"id":         1,
		"name":       "Alice",
		"email":      "alice@example.com",
		"profileUrl": "https://www.gravatar.com/avatar/x",
		"isActive":   true,
		"createdAt":  time.Now().Format(time.RFC3339),
	}
}

func sampleTask(id uint, title, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"userId":      1,
		"title":       title,
		"status":      status,
		"priority":    "medium",
		"completedAt": nil,
		"tags":        []string{},
		"isOverdue":   false,
		"createdAt":   time.Now().Format(time.RFC3339),
		"updatedAt":   time.Now().Format(time.RFC3339),
	}
}

func TestLoginCachesIdentityAndSendsBearer(t *testing.T) {
	var gotAuth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"user": sampleUser(), "token": "issued-token"},
		})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    []interface{}{},
			"count":   0,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	user, err := c.Login(context.Background(), "alice@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if c.Token() != "issued-token" {
		t.Fatalf("token not cached, got %q", c.Token())
	}
	if cached := c.CurrentUser(); cached == nil || cached.ID != 1 {
		t.Fatalf("user not cached: %+v", cached)
	}

	if _, err := c.FetchTasks(context.Background(), ListOptions{}); err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if got, _ := gotAuth.Load().(string); got != "Bearer issued-token" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestUnauthorizedClearsIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"user": sampleUser(), "token": "stale-token"},
		})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "token expired",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.Login(context.Background(), "alice@example.com", "secret-pass"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := c.FetchTasks(context.Background(), ListOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "token expired" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	if c.Token() != "" || c.CurrentUser() != nil {
		t.Fatalf("401 should wipe the cached identity")
	}
	if len(c.Tasks()) != 0 {
		t.Fatalf("401 should wipe the task mirror")
	}
}

func TestFetchTasksQueryAndMirror(t *testing.T) {
	var gotQuery atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    []interface{}{sampleTask(1, "first", "pending"), sampleTask(2, "second", "completed")},
			"count":   2,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	important := true
	tasks, err := c.FetchTasks(context.Background(), ListOptions{
		Status:      "pending",
		Priority:    "high",
		IsImportant: &important,
		Search:      "milk",
	})
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}

	query, _ := gotQuery.Load().(string)
	for _, part := range []string{"status=pending", "priority=high", "isImportant=true", "search=milk"} {
		if !strings.Contains(query, part) {
			t.Errorf("query %q missing %q", query, part)
		}
	}

	if len(tasks) != 2 || tasks[0].Title != "first" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if mirror := c.Tasks(); len(mirror) != 2 {
		t.Fatalf("mirror not replaced, got %d entries", len(mirror))
	}
}

func TestFetchTasksInFlightShortCircuit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
			<-release
		}
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    []interface{}{sampleTask(1, "slow", "pending")},
			"count":   1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.FetchTasks(context.Background(), ListOptions{})
		done <- err
	}()
	<-entered

	// 第一次请求还挂着，这次必须直接吃镜像、不打服务端。
	tasks, err := c.FetchTasks(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("short-circuited fetch: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected the (empty) mirror, got %+v", tasks)
	}
	if hits.Load() != 1 {
		t.Fatalf("second fetch must not hit the server, got %d hits", hits.Load())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if mirror := c.Tasks(); len(mirror) != 1 || mirror[0].Title != "slow" {
		t.Fatalf("mirror not filled by the in-flight fetch: %+v", mirror)
	}
}

func TestTaskMutationsUpdateMirror(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data":    []interface{}{sampleTask(1, "existing", "pending")},
				"count":   1,
			})
		case http.MethodPost:
			writeEnvelope(w, http.StatusCreated, map[string]interface{}{
				"success": true,
				"data":    sampleTask(2, "created", "pending"),
			})
		}
	})
	mux.HandleFunc("/tasks/2/toggle", func(w http.ResponseWriter, r *http.Request) {
		task := sampleTask(2, "created", "completed")
		task["completedAt"] = time.Now().Format(time.RFC3339)
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"success": true, "data": task})
	})
	mux.HandleFunc("/tasks/1", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]interface{}{"success": true, "message": "task deleted"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	ctx := context.Background()

	if _, err := c.FetchTasks(ctx, ListOptions{}); err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}

	title := "created"
	created, err := c.CreateTask(ctx, TaskInput{Title: &title})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.ID != 2 {
		t.Fatalf("unexpected created task: %+v", created)
	}
	if mirror := c.Tasks(); len(mirror) != 2 {
		t.Fatalf("create should append to mirror, got %d entries", len(mirror))
	}

	toggled, err := c.ToggleStatus(ctx, 2)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.Status != "completed" || toggled.CompletedAt == nil {
		t.Fatalf("unexpected toggled task: %+v", toggled)
	}
	mirror := c.Tasks()
	if mirror[1].Status != "completed" {
		t.Fatalf("toggle should replace mirror entry: %+v", mirror[1])
	}

	if err := c.DeleteTask(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mirror = c.Tasks()
	if len(mirror) != 1 || mirror[0].ID != 2 {
		t.Fatalf("delete should remove mirror entry: %+v", mirror)
	}
}

func TestValidationErrorsSurfaced(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "validation failed",
			"errors":  []string{"title is required", "priority must be one of: low medium high"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.CreateTask(context.Background(), TaskInput{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || len(apiErr.Errors) != 2 {
		t.Fatalf("unexpected error detail: %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "2 validation errors") {
		t.Fatalf("Error() should mention the violation count, got %q", apiErr.Error())
	}
}
