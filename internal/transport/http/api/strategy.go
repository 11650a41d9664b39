package apihttp

import (
	"context"
	"encoding/json"
	"net/http"

	"candlelab/internal/apperr"
	"candlelab/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StrategyWorkspace 是策略接口所需的工作区能力，由 strategy.Manager 实现。
type StrategyWorkspace interface {
	Install(ctx context.Context, name, source string) error
	List() ([]strategy.Entry, error)
	Source(path string) (string, error)
	SaveSource(path, content string) error
	Delete(path string) error
	Move(path, newPath string) error
}

var _ StrategyWorkspace = (*strategy.Manager)(nil)

type addStrategyRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type strategyHandler struct {
	ws        StrategyWorkspace
	addSchema *jsonschema.Schema
}

func (h *strategyHandler) list(c *gin.Context) {
	entries, err := h.ws.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": entries})
}

// add 编译并注册策略；编译不随请求取消而中断。
func (h *strategyHandler) add(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, apperr.Validation("read body: %v", err))
		return
	}
	var req addStrategyRequest
	if err := decodeBody(h.addSchema, body, &req); err != nil {
		writeError(c, err)
		return
	}
	if err := h.ws.Install(context.WithoutCancel(c.Request.Context()), req.Name, req.Source); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

func (h *strategyHandler) source(c *gin.Context) {
	path, err := requiredQuery(c, "path")
	if err != nil {
		writeError(c, err)
		return
	}
	content, err := h.ws.Source(path)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "content": content})
}

// save 的请求体是 JSON 字符串；非 JSON 字符串时按原始文本保存。
func (h *strategyHandler) save(c *gin.Context) {
	path, err := requiredQuery(c, "path")
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, apperr.Validation("read body: %v", err))
		return
	}
	content := string(body)
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		content = s
	}
	if err := h.ws.SaveSource(path, content); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *strategyHandler) remove(c *gin.Context) {
	path, err := requiredQuery(c, "path")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.ws.Delete(path); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (h *strategyHandler) move(c *gin.Context) {
	from, err := requiredQuery(c, "old_path")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := requiredQuery(c, "new_path")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.ws.Move(from, to); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": to})
}
