package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/metrics/query"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// ingestRequest is the body of POST /points. A single object and an
// array of objects are both accepted.
type ingestRequest struct {
	Key       int64   `json:"key"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Value     float64 `json:"value"`
}

func (r ingestRequest) toPoint() types.Point {
	return types.Point{Key: r.Key, TimestampMs: r.Timestamp, Value: r.Value}
}

// handleHealth serves GET / and GET /healthz.
func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !s.engine.IsRunning() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"message": "Analytics Service Running",
		"status":  status,
		"uptime":  time.Since(s.startedAt).String(),
	})
}

// handleIngest serves POST /points.
func (s *Server) handleIngest(c *gin.Context) {
	var points []types.Point

	var batch []ingestRequest
	if err := c.ShouldBindBodyWith(&batch, binding.JSON); err != nil {
		// Fall back to a single object
		var single ingestRequest
		if err := c.ShouldBindBodyWith(&single, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		batch = []ingestRequest{single}
	}

	points = make([]types.Point, 0, len(batch))
	for _, r := range batch {
		points = append(points, r.toPoint())
	}

	if err := s.engine.Ingest(points); err != nil {
		c.JSON(errors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(points)})
}

// handleAnalytics serves GET /analytics?key=&from=&to=.
// An unknown key or an empty window yields an empty bucket list.
func (s *Server) handleAnalytics(c *gin.Context) {
	key, ok := parseKey(c)
	if !ok {
		return
	}

	r, ok := parseRange(c)
	if !ok {
		return
	}

	buckets, err := s.engine.Buckets(c.Request.Context(), key, r)
	if err != nil {
		c.JSON(errors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if buckets == nil {
		buckets = []types.BucketResult{}
	}

	summary := types.MergeBuckets(key, buckets)

	c.JSON(http.StatusOK, gin.H{
		"key":     key,
		"buckets": buckets,
		"summary": summary,
	})
}

// handleSnapshot serves GET /analytics/snapshot?key=.
func (s *Server) handleSnapshot(c *gin.Context) {
	key, ok := parseKey(c)
	if !ok {
		return
	}

	result, err := s.engine.Snapshot(key)
	if err != nil {
		if errors.IsNotFound(err) {
			c.JSON(http.StatusOK, gin.H{"key": key, "snapshot": nil})
			return
		}
		c.JSON(errors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": key, "snapshot": result})
}

// handleKeys serves GET /keys.
func (s *Server) handleKeys(c *gin.Context) {
	keys := s.engine.Keys()
	if keys == nil {
		keys = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// handleStats serves GET /statsz.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

func parseKey(c *gin.Context) (int64, bool) {
	raw := c.Query("key")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key parameter is required"})
		return 0, false
	}

	key, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be an integer"})
		return 0, false
	}

	return key, true
}

// parseRange reads optional from/to query parameters, accepted as
// epoch milliseconds or RFC 3339 timestamps.
func parseRange(c *gin.Context) (query.Range, bool) {
	var r query.Range

	from, ok := parseTimeParam(c, "from")
	if !ok {
		return r, false
	}
	to, ok := parseTimeParam(c, "to")
	if !ok {
		return r, false
	}

	r.FromMs = from
	r.ToMs = to

	if r.FromMs != 0 && r.ToMs != 0 && r.FromMs >= r.ToMs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return r, false
	}

	return r, true
}

func parseTimeParam(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, true
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UnixMilli(), true
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be epoch milliseconds or RFC 3339"})
	return 0, false
}
