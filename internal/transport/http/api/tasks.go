package apihttp

import (
	"net/http"

	"candlelab/internal/apperr"
	"candlelab/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

type createTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// taskRoutes 为一种任务提供 list/create/get/stream/ws 五个接口。
type taskRoutes[P any, R any] struct {
	engine   *task.Engine[P, R]
	schema   *jsonschema.Schema
	validate func(P) error
}

func (t *taskRoutes[P, R]) register(g *gin.RouterGroup) {
	g.GET("", t.list)
	g.POST("", t.create)
	g.GET("/stream", t.stream)
	g.GET("/ws", t.ws)
	g.GET("/:id", t.get)
}

func (t *taskRoutes[P, R]) list(c *gin.Context) {
	c.JSON(http.StatusOK, t.engine.List())
}

func (t *taskRoutes[P, R]) create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, apperr.Validation("read body: %v", err))
		return
	}
	var params P
	if err := decodeBody(t.schema, body, &params); err != nil {
		writeError(c, err)
		return
	}
	if t.validate != nil {
		if err := t.validate(params); err != nil {
			writeError(c, err)
			return
		}
	}
	id, err := t.engine.Submit(params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, createTaskResponse{TaskID: id})
}

func (t *taskRoutes[P, R]) lookup(c *gin.Context) (task.Task[P, R], bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, apperr.InvalidField("task id", raw))
		return task.Task[P, R]{}, false
	}
	tk, ok := t.engine.Get(id)
	if !ok {
		writeError(c, apperr.NotFound("task %s is not a %s task", id, t.engine.Kind()))
		return task.Task[P, R]{}, false
	}
	return tk, true
}

func (t *taskRoutes[P, R]) get(c *gin.Context) {
	tk, ok := t.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tk)
}
