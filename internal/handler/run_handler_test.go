package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"tyre-matrix/internal/db"
	"tyre-matrix/internal/jobgraph"
	"tyre-matrix/internal/service"
	"tyre-matrix/internal/solver"
	"tyre-matrix/internal/tydex"
)

func TestRespondErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", fmt.Errorf("trigger: %w", service.ErrDuplicateTrigger), http.StatusConflict},
		{"run not found", fmt.Errorf("%w: run 9", db.ErrRunNotFound), http.StatusNotFound},
		{"missing deck", &jobgraph.MissingInputDeckError{Job: "job1", Path: "/x/job1.inp"}, http.StatusNotFound},
		{"missing template", &tydex.TemplateNotFoundError{Template: "static"}, http.StatusNotFound},
		{"cycle", &jobgraph.CircularDependencyError{Path: []string{"A", "B", "A"}}, http.StatusUnprocessableEntity},
		{"unknown script", &solver.UnknownPostProcessorError{Script: "x.py"}, http.StatusUnprocessableEntity},
		{"solver", &solver.SolverFailedError{Job: "job1", ExitCode: 3, StderrTail: "oops"}, http.StatusBadGateway},
		{"post", &solver.PostProcessorFailedError{Job: "job1", Script: "od_growth.py", ExitCode: 1}, http.StatusBadGateway},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondError(c, tt.err, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.err.Error() {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestRespondErrorIncludesSolverDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondError(c, &solver.SolverFailedError{Job: "job1", ExitCode: 3, StderrTail: "license"}, gin.H{"result": nil})

	var body struct {
		ExitCode   int    `json:"exit_code"`
		StderrTail string `json:"stderr_tail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ExitCode != 3 || body.StderrTail != "license" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}
