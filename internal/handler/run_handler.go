package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tyre-matrix/internal/db"
	"tyre-matrix/internal/jobgraph"
	"tyre-matrix/internal/service"
	"tyre-matrix/internal/solver"
	"tyre-matrix/internal/tydex"
)

type RunHandler struct {
	runService *service.RunService
}

func NewRunHandler(runService *service.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// Resolve runs the restart chain of one matrix row.
func (h *RunHandler) Resolve(c *gin.Context) {
	runNumber, err := strconv.Atoi(c.Param("run"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run must be a number"})
		return
	}
	req := service.ResolveRequest{
		ProjectID: c.Param("project"),
		Protocol:  c.Param("protocol"),
		RunNumber: runNumber,
		JobName:   c.Query("job"),
	}

	// Solver runs outlive a dropped HTTP connection.
	result, err := h.runService.Resolve(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		respondError(c, err, gin.H{"result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ResolveMatrix runs every runnable row of a protocol.
func (h *RunHandler) ResolveMatrix(c *gin.Context) {
	result, err := h.runService.ResolveMatrix(context.WithoutCancel(c.Request.Context()), c.Param("project"), c.Param("protocol"))
	if err != nil {
		respondError(c, err, gin.H{"result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// EmitBatch writes the batch script into the protocol folder and returns it as text.
func (h *RunHandler) EmitBatch(c *gin.Context) {
	script, path, err := h.runService.EmitBatch(c.Request.Context(), c.Param("project"), c.Param("protocol"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.Header("X-Script-Path", path)
	c.Header("X-Solver-Commands", strconv.Itoa(script.Summary.SolverCommands))
	c.Header("X-Skipped-Rows", strconv.Itoa(script.Summary.Skipped))
	c.String(http.StatusOK, script.Text)
}

// GenerateTydex renders the Tydex document of one row.
func (h *RunHandler) GenerateTydex(c *gin.Context) {
	runNumber, err := strconv.Atoi(c.Param("run"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run must be a number"})
		return
	}
	doc, err := h.runService.GenerateTydex(c.Request.Context(), c.Param("project"), c.Param("protocol"), runNumber)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// TailLog returns the job log after ?offset=.
func (h *RunHandler) TailLog(c *gin.Context) {
	var offset int64
	if v := c.Query("offset"); v != "" {
		o, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a number"})
			return
		}
		offset = o
	}
	data, next, err := h.runService.TailLog(c.Param("project"), c.Param("protocol"), offset)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": string(data),
		"offset":  next,
	})
}

// JobRecords lists recorded job attempts, newest first. ?limit= defaults to 50.
func (h *RunHandler) JobRecords(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative number"})
			return
		}
		limit = n
	}
	recs, err := h.runService.JobRecords(c.Request.Context(), c.Param("project"), c.Param("protocol"), limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": recs})
}

// StopAll terminates every running child process.
func (h *RunHandler) StopAll(c *gin.Context) {
	n, err := h.runService.StopAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stopped": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": n})
}

func respondError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}

	var (
		cycle      *jobgraph.CircularDependencyError
		deck       *jobgraph.MissingInputDeckError
		solverErr  *solver.SolverFailedError
		postErr    *solver.PostProcessorFailedError
		unknown    *solver.UnknownPostProcessorError
		template   *tydex.TemplateNotFoundError
		channel    *tydex.ChannelSourceNotFoundError
		parameters *tydex.ParameterFileUnreadableError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrDuplicateTrigger):
		status = http.StatusConflict
	case errors.Is(err, db.ErrRunNotFound), errors.Is(err, jobgraph.ErrJobNotFound),
		errors.As(err, &deck), errors.As(err, &template):
		status = http.StatusNotFound
	case errors.As(err, &cycle), errors.Is(err, service.ErrNoJob),
		errors.As(err, &unknown), errors.As(err, &channel), errors.As(err, &parameters):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &solverErr):
		status = http.StatusBadGateway
		body["exit_code"] = solverErr.ExitCode
		body["stderr_tail"] = solverErr.StderrTail
	case errors.As(err, &postErr):
		status = http.StatusBadGateway
		body["exit_code"] = postErr.ExitCode
		body["stderr_tail"] = postErr.StderrTail
	}
	c.JSON(status, body)
}
