package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"distributed-objectstore/internal/handler"
	"distributed-objectstore/internal/objectmodel"
	"distributed-objectstore/internal/rpcclient"
)

// Compactor is the subset of store.CompactorFSM the `compact`/
// `compact_status` peer RPCs (spec.md §6) need; the API layer talks to
// it directly since compaction is a Local Store Facade concern, not
// part of the Handler Layer's GET/PUT/DELETE/HEAD surface.
type Compactor interface {
	Stats() objectmodel.CompactionStats
	CompactData(ctx context.Context, targets []objectmodel.ContainerID, parallelism int, ownership func(objectmodel.ContainerID) bool) error
}

// Handler adapts handler.Handler onto Gin routes: the public object
// surface clients use, and the internal peer RPC surface other nodes
// use. Grounded on the teacher's api.Handler/Register shape, generalized
// from the KV routes to the object-store operations this spec defines.
type Handler struct {
	core      *handler.Handler
	compactor Compactor
}

// NewHandler wraps core for HTTP exposure. compactor may be nil, in
// which case compact_status reports an idle, empty FSM and compact
// answers 501 Not Implemented.
func NewHandler(core *handler.Handler, compactor Compactor) *Handler {
	return &Handler{core: core, compactor: compactor}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	objects := r.Group("/objects")
	objects.GET("/:addr/*key", h.Get)
	objects.PUT("/:addr/*key", h.Put)
	objects.DELETE("/:addr/*key", h.Delete)
	objects.HEAD("/:addr/*key", h.Head)

	internal := r.Group("/internal")
	internal.POST("/put", h.InternalPut)
	internal.POST("/get", h.InternalGet)
	internal.POST("/delete", h.InternalDelete)
	internal.POST("/head", h.InternalHead)
	internal.POST("/compact", h.InternalCompact)
	internal.POST("/compact_status", h.InternalCompactStatus)
	internal.POST("/delete_objects_under_dir", h.InternalDeleteObjectsUnderDir)
}

// ─── Public object surface ─────────────────────────────────────────────

func parseAddr(c *gin.Context) (uint32, bool) {
	addr, err := strconv.ParseUint(c.Param("addr"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address_id"})
		return 0, false
	}
	return uint32(addr), true
}

func keyParam(c *gin.Context) []byte {
	// Gin's *key wildcard keeps the leading slash; the handler layer
	// treats the key as opaque bytes, including a trailing "/" for
	// directory keys.
	return []byte(strings.TrimPrefix(c.Param("key"), "/"))
}

// Get handles GET /objects/:addr/*key[?etag=..&start=..&end=..&req_id=..]
func (h *Handler) Get(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	var etag uint64
	if v := c.Query("etag"); v != "" {
		etag, _ = strconv.ParseUint(v, 10, 64)
	}
	var start, end uint64
	if v := c.Query("start"); v != "" {
		start, _ = strconv.ParseUint(v, 10, 64)
	}
	if v := c.Query("end"); v != "" {
		end, _ = strconv.ParseUint(v, 10, 64)
	}
	var reqID uint64
	if v := c.Query("req_id"); v != "" {
		reqID, _ = strconv.ParseUint(v, 10, 64)
	}

	params := objectmodel.ReadParams{
		Ref:       objectmodel.NewReference(),
		AddressID: addr,
		Key:       keyParam(c),
		Etag:      etag,
		StartPos:  start,
		EndPos:    end,
		ReqID:     reqID,
	}
	meta, obj, err := h.core.Get(c.Request.Context(), params)
	if err != nil {
		writeError(c, err)
		return
	}
	if etag != 0 && meta.Checksum == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", strconv.FormatUint(meta.Checksum, 16))
	c.Data(http.StatusOK, "application/octet-stream", obj.Data)
}

// Put handles PUT /objects/:addr/*key[?req_id=..&clock=..]
func (h *Handler) Put(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqID, _ := strconv.ParseUint(c.Query("req_id"), 10, 64)
	clock, _ := strconv.ParseUint(c.Query("clock"), 10, 64)
	if clock == 0 {
		clock = objectmodel.NowNano()
	}

	obj := objectmodel.Object{
		AddressID: addr,
		Key:       keyParam(c),
		Data:      data,
		DataSize:  uint64(len(data)),
	}
	etag, err := h.core.Put(c.Request.Context(), obj, reqID, clock)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"etag": etag})
}

// Delete handles DELETE /objects/:addr/*key[?req_id=..&clock=..&check_under_dir=..]
func (h *Handler) Delete(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	reqID, _ := strconv.ParseUint(c.Query("req_id"), 10, 64)
	clock, _ := strconv.ParseUint(c.Query("clock"), 10, 64)
	if clock == 0 {
		clock = objectmodel.NowNano()
	}
	checkUnderDir := c.Query("check_under_dir") == "true"

	obj := objectmodel.Object{AddressID: addr, Key: keyParam(c)}
	if err := h.core.Delete(c.Request.Context(), obj, reqID, clock, checkUnderDir); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Head handles HEAD /objects/:addr/*key[?can_retry=..]
func (h *Handler) Head(c *gin.Context) {
	addr, ok := parseAddr(c)
	if !ok {
		return
	}
	canRetry := c.Query("can_retry") != "false"

	meta, err := h.core.Head(c.Request.Context(), addr, keyParam(c), canRetry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", strconv.FormatUint(meta.Checksum, 16))
	c.Header("Content-Length", strconv.FormatUint(meta.DataSize, 10))
	c.Status(http.StatusOK)
}

// ─── Internal peer RPC surface ─────────────────────────────────────────

func (h *Handler) InternalPut(c *gin.Context) {
	var req rpcclient.PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, etag, err := h.core.InboundPut(c.Request.Context(), req.Ref, req.Obj)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpcclient.PutResponse{Ref: ref, Etag: etag})
}

func (h *Handler) InternalGet(c *gin.Context) {
	var req rpcclient.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta, obj, err := h.core.Get(c.Request.Context(), req.Params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpcclient.GetResponse{Ref: req.Ref, Meta: meta, Obj: obj})
}

func (h *Handler) InternalDelete(c *gin.Context) {
	var req rpcclient.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, reqID, err := h.core.InboundDelete(c.Request.Context(), req.Ref, req.Obj, req.Obj.ReqID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpcclient.DeleteResponse{Ref: ref, ReqID: reqID})
}

func (h *Handler) InternalHead(c *gin.Context) {
	var body struct {
		AddressID uint32 `json:"address_id"`
		Key       []byte `json:"key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta, err := h.core.Head(c.Request.Context(), body.AddressID, body.Key, false)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rpcclient.HeadResponse{Meta: meta})
}

func (h *Handler) InternalCompact(c *gin.Context) {
	if h.compactor == nil {
		c.Status(http.StatusNotImplemented)
		return
	}
	var body struct {
		Targets []objectmodel.ContainerID `json:"targets"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.compactor.CompactData(c.Request.Context(), body.Targets, 0, nil); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.compactor.Stats())
}

func (h *Handler) InternalCompactStatus(c *gin.Context) {
	if h.compactor == nil {
		c.JSON(http.StatusOK, objectmodel.CompactionStats{Status: objectmodel.CompactionIdle})
		return
	}
	c.JSON(http.StatusOK, h.compactor.Stats())
}

func (h *Handler) InternalDeleteObjectsUnderDir(c *gin.Context) {
	var body struct {
		Prefix []byte `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.core.PrefixSearchAndRemoveObjects(c.Request.Context(), body.Prefix)
	c.Status(http.StatusAccepted)
}

// writeError maps the core's typed error taxonomy onto HTTP status codes
// per the error handling design's surfacing table.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch objectmodel.KindOf(err) {
	case objectmodel.KindNotFound:
		status = http.StatusNotFound
	case objectmodel.KindUnavailable, objectmodel.KindNoRedundancy, objectmodel.KindNotSatisfyQuorum:
		status = http.StatusServiceUnavailable
	case objectmodel.KindTimeout:
		status = http.StatusGatewayTimeout
	case objectmodel.KindInvalidData:
		status = http.StatusUnprocessableEntity
	case objectmodel.KindLockedContainer:
		status = http.StatusLocked
	case objectmodel.KindReplicateFailure, objectmodel.KindRecoverFailure:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
