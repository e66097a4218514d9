package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/gantry/internal/model"
)

func postTask(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/tasks", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/tasks: %v", err)
	}
	return resp
}

func waitForRunState(t *testing.T, srv *Server, taskID, state string) *model.TaskRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := srv.store.GetLatestRun(context.Background(), taskID)
		if err == nil && run.State == state {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %q", taskID, state)
	return nil
}

func TestSubmitTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postTask(t, ts.URL, `{"task_id":"t-1","application_id":"echo","gateway_id":"gw-1","arguments":{"COUNT":"3"}}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var run model.TaskRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.TaskID != "t-1" {
		t.Errorf("TaskID = %q, want %q", run.TaskID, "t-1")
	}
	if run.State != model.StateCreated {
		t.Errorf("State = %q, want %q", run.State, model.StateCreated)
	}
	if len(run.ID) != 26 {
		t.Errorf("run ID length = %d, want 26", len(run.ID))
	}

	waitForRunState(t, srv, "t-1", model.StateSucceeded)
}

func TestSubmitTaskValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "not json", http.StatusBadRequest},
		{"missing application", `{"gateway_id":"gw-1"}`, http.StatusBadRequest},
		{"missing gateway", `{"application_id":"echo"}`, http.StatusBadRequest},
		{"unknown application", `{"application_id":"nope","gateway_id":"gw-1"}`, http.StatusNotFound},
		{"bad argument type", `{"application_id":"echo","gateway_id":"gw-1","arguments":{"COUNT":"many"}}`, http.StatusBadRequest},
		{"undeclared argument", `{"application_id":"echo","gateway_id":"gw-1","arguments":{"OTHER":"1"}}`, http.StatusBadRequest},
		{"task id with parent reference", `{"task_id":"../../victim","application_id":"echo","gateway_id":"gw-1"}`, http.StatusBadRequest},
		{"task id with separator", `{"task_id":"a/b","application_id":"echo","gateway_id":"gw-1"}`, http.StatusBadRequest},
		{"task id dot-dot", `{"task_id":"..","application_id":"echo","gateway_id":"gw-1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			ts := httptest.NewServer(srv.Router())
			defer ts.Close()

			resp := postTask(t, ts.URL, tt.body)
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var errResp map[string]string
			json.NewDecoder(resp.Body).Decode(&errResp)
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestGetTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postTask(t, ts.URL, `{"task_id":"t-get","application_id":"echo","gateway_id":"gw-1"}`)
	resp.Body.Close()
	waitForRunState(t, srv, "t-get", model.StateSucceeded)

	resp, err := http.Get(ts.URL + "/v1/tasks/t-get")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var run model.TaskRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.State != model.StateSucceeded {
		t.Errorf("State = %q, want succeeded", run.State)
	}

	resp2, err := http.Get(ts.URL + "/v1/tasks/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for range 5 {
		r := &model.TaskRun{ID: model.NewID(), TaskID: model.NewID(), State: model.StateCreated, CreatedAt: time.Now().UTC()}
		if err := srv.store.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks?limit=2&offset=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 5 {
		t.Errorf("total = %d, want 5", list.Total)
	}
	if len(list.Runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(list.Runs))
	}
	if list.Limit != 2 || list.Offset != 1 {
		t.Errorf("limit/offset = %d/%d, want 2/1", list.Limit, list.Offset)
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks?limit=1000")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Runs == nil || len(list.Runs) != 0 {
		t.Errorf("runs = %v, want empty array", list.Runs)
	}
	if list.Limit != defaultListLimit {
		t.Errorf("limit = %d, want default %d", list.Limit, defaultListLimit)
	}
}

func TestCancelTask(t *testing.T) {
	srv := newTestServerWithRuntime(t, &gateRuntime{release: make(chan struct{})})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postTask(t, ts.URL, `{"task_id":"t-cancel","application_id":"echo","gateway_id":"gw-1"}`)
	resp.Body.Close()
	waitForRunState(t, srv, "t-cancel", model.StateExecuting)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks/t-cancel", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	run := waitForRunState(t, srv, "t-cancel", model.StateCancelled)
	if run.Retryable == nil || !*run.Retryable {
		t.Error("cancelled run should be retryable")
	}

	// Cancelling a finished task conflicts; an unknown one is not found.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/v1/tasks/missing", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitDuplicateRunningTask(t *testing.T) {
	srv := newTestServerWithRuntime(t, &gateRuntime{release: make(chan struct{})})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"task_id":"t-dup","application_id":"echo","gateway_id":"gw-1"}`
	resp := postTask(t, ts.URL, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit status = %d, want 202", resp.StatusCode)
	}

	resp = postTask(t, ts.URL, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second submit status = %d, want 409", resp.StatusCode)
	}
}
