// Package httpapi exposes the reactive facade over HTTP for serve mode.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Rupali59/docbridge/internal/metrics"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/reactive"
	"github.com/Rupali59/docbridge/pkg/value"
)

// API serves document operations for any collection.
type API struct {
	docs   *reactive.Facade[value.Map]
	logger *zap.Logger
}

// New returns an API over docs.
func New(docs *reactive.Facade[value.Map], logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{docs: docs, logger: logger.With(zap.String("component", "http"))}
}

// Register mounts the routes under /v1 and installs the request counter.
func (a *API) Register(r *gin.Engine) {
	r.Use(RequestMetrics())

	v1 := r.Group("/v1/collections/:collection")
	v1.POST("/documents", a.insert)
	v1.POST("/ids", a.empty)
	v1.PUT("/documents/:id", a.upsert)
	v1.GET("/documents/:id", a.get)
	v1.PATCH("/documents/:id", a.update)
	v1.DELETE("/documents/:id", a.remove)
	v1.POST("/query", a.query)
	v1.GET("/watch", a.watch)
}

func (a *API) insert(c *gin.Context) {
	doc, ok := bindDocument(c)
	if !ok {
		return
	}
	id, err := a.docs.Insert(c.Request.Context(), c.Param("collection"), doc).Await(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"_id": id})
}

func (a *API) empty(c *gin.Context) {
	id, err := a.docs.Empty(c.Request.Context(), c.Param("collection")).Await(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"_id": id})
}

func (a *API) upsert(c *gin.Context) {
	doc, ok := bindDocument(c)
	if !ok {
		return
	}
	if _, err := a.docs.Upsert(c.Request.Context(), c.Param("collection"), c.Param("id"), doc).Await(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) get(c *gin.Context) {
	doc, err := a.docs.Get(c.Request.Context(), c.Param("collection"), c.Param("id")).Await(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *API) update(c *gin.Context) {
	doc, ok := bindDocument(c)
	if !ok {
		return
	}
	if _, err := a.docs.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), doc).Await(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) remove(c *gin.Context) {
	if _, err := a.docs.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")).Await(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) query(c *gin.Context) {
	var f query.Filter
	if err := c.ShouldBindJSON(&f); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	m := a.docs.QueryBuilderSync(c.Param("collection"))
	if err := f.Apply(m); err != nil {
		badRequest(c, err)
		return
	}
	docs, err := a.docs.Query(c.Request.Context(), m).Await(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// watch streams change events as server-sent events until the client goes
// away or the watch fails. Conditions come from repeated ?where= parameters
// in the CLI's field<op>value form.
func (a *API) watch(c *gin.Context) {
	ctx := c.Request.Context()
	m := a.docs.QueryBuilderSync(c.Param("collection"))
	var f query.Filter
	for _, expr := range c.QueryArray("where") {
		cond, err := query.ParseCondition(expr)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.Where = append(f.Where, cond)
	}
	if err := f.Apply(m); err != nil {
		badRequest(c, err)
		return
	}

	stream, handle, err := a.docs.Watch(ctx, m)
	if err != nil {
		a.fail(c, err)
		return
	}
	defer handle.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	a.logger.Debug("watch opened", zap.String("query", handle.Query()))
	for ev, err := range stream.All(ctx) {
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("watch ended", zap.String("query", handle.Query()), zap.Error(err))
				writeEvent(c, "error", errorBody(err))
			}
			return
		}
		writeEvent(c, ev.Type.String(), ev.Entity)
	}
}

func writeEvent(c *gin.Context, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	c.Writer.Flush()
}

func bindDocument(c *gin.Context) (value.Map, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	v, err := value.ParseJSON(raw)
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	doc, ok := v.(value.Map)
	if !ok {
		badRequest(c, fmt.Errorf("document must be a JSON object, got %s", v.Kind()))
		return nil, false
	}
	delete(doc, "_id")
	return doc, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "bad_request", "message": err.Error()}})
}

func (a *API) fail(c *gin.Context, err error) {
	kind := failure.KindOf(err)
	if kind != failure.NotFound {
		a.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(StatusFor(kind), errorBody(err))
}

func errorBody(err error) gin.H {
	kind := failure.KindOf(err)
	msg := err.Error()
	var fe *failure.Error
	if errors.As(err, &fe) {
		msg = fe.Message
	}
	return gin.H{"error": gin.H{"kind": kind.String(), "code": kind.Code(), "message": msg}}
}

// StatusFor maps a failure kind to an HTTP status.
func StatusFor(k failure.Kind) int {
	switch k {
	case failure.NotFound:
		return http.StatusNotFound
	case failure.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case failure.Closed:
		return http.StatusServiceUnavailable
	case failure.Config:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// RequestMetrics counts requests by route and status.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
