package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"kvnode/internal/replication"
	"kvnode/internal/worker"
)

// Handler holds everything the RPC servicer needs: the worker pool that
// serializes storage access, and the replication manager it fans mutations
// out to after every local commit.
type Handler struct {
	pool   *worker.Pool
	repl   *replication.Manager
	logger zerolog.Logger
}

// NewHandler builds a Handler. repl may be nil for a single-node deployment
// with no peers.
func NewHandler(pool *worker.Pool, repl *replication.Manager, logger zerolog.Logger) *Handler {
	return &Handler{pool: pool, repl: repl, logger: logger}
}

// Register mounts the public KV surface, the peer-only internal surface,
// and Ping — the exact table in SPEC_FULL.md §1.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/ping", h.Ping)

	kv := r.Group("/kv")
	kv.PUT("/:key", h.Put)
	kv.GET("/:key", h.Get)
	kv.DELETE("/:key", h.Delete)

	r.GET("/keys", h.ListKeys)
	r.POST("/backup", h.Backup)

	internal := r.Group("/internal/kv")
	internal.PUT("/:key", h.InternalPut)
	internal.DELETE("/:key", h.InternalDelete)
}

// Ping answers the minimal client contract's liveness probe (spec.md §6).
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, pingResponse{Message: "OK"})
}

type putRequest struct {
	// Value has no binding tag: the empty string is a valid, distinct,
	// storable value (SPEC_FULL.md §2), not an absent field.
	Value string `json:"value"`
}

type putResponse struct {
	OldValue string `json:"old_value"`
}

// Put applies a local write, then detaches replication to every peer before
// replying — "replies can precede or follow successful replication; they
// usually precede" (spec.md §5).
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body putRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prior, getErr := h.pool.Submit(c.Request.Context(), worker.OpGet, []byte(key), nil)
	if getErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": getErr.Error()})
		return
	}

	res, err := h.pool.Submit(c.Request.Context(), worker.OpPut, []byte(key), []byte(body.Value))
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": firstErr(err, res.Err).Error()})
		return
	}

	if h.repl != nil {
		go h.repl.ReplicatePut([]byte(key), []byte(body.Value))
	}

	old := ""
	if prior.Found {
		old = string(prior.Value)
	}
	c.JSON(http.StatusOK, putResponse{OldValue: old})
}

type getResponse struct {
	Value string `json:"value"`
}

// Get replies 404 for an absent key and 200 with the literal value
// otherwise — the Open Question resolved in SPEC_FULL.md §2.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	res, err := h.pool.Submit(c.Request.Context(), worker.OpGet, []byte(key), nil)
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": firstErr(err, res.Err).Error()})
		return
	}
	if !res.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, getResponse{Value: string(res.Value)})
}

// Delete is idempotent (P3): deleting an absent key still replies 204.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")

	res, err := h.pool.Submit(c.Request.Context(), worker.OpDelete, []byte(key), nil)
	if err != nil || res.Err != nil {
		h.logger.Error().Err(firstErr(err, res.Err)).Str("key", key).Msg("delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Key deletion failed"})
		return
	}

	if h.repl != nil {
		go h.repl.ReplicateDelete([]byte(key))
	}

	c.Status(http.StatusNoContent)
}

type listKeysResponse struct {
	Keys []string `json:"keys"`
}

func (h *Handler) ListKeys(c *gin.Context) {
	res, err := h.pool.Submit(c.Request.Context(), worker.OpListKeys, nil, nil)
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": firstErr(err, res.Err).Error()})
		return
	}
	c.JSON(http.StatusOK, listKeysResponse{Keys: res.Keys})
}

type backupRequest struct {
	Dir string `json:"dir"`
}

type backupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Backup takes a hot, consistent snapshot (P7). The destination directory
// may be supplied in the request body; otherwise the node's configured
// default backup directory is used.
func (h *Handler) Backup(c *gin.Context) {
	var body backupRequest
	_ = c.ShouldBindJSON(&body)

	dir := body.Dir
	if dir == "" {
		if v, ok := c.Get(backupDirKey); ok {
			dir, _ = v.(string)
		}
	}
	if dir == "" {
		c.JSON(http.StatusInternalServerError, backupResponse{Success: false, Message: "no backup directory configured"})
		return
	}

	res, err := h.pool.SubmitBackup(c.Request.Context(), dir)
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, backupResponse{Success: false, Message: firstErr(err, res.Err).Error()})
		return
	}
	c.JSON(http.StatusOK, backupResponse{Success: true, Message: "backup complete"})
}

// InternalPut applies a replicated write directly to the local engine and
// never replicates further — the fix for the replication-storm open
// question (spec.md §9).
func (h *Handler) InternalPut(c *gin.Context) {
	key := c.Param("key")

	var body putRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.pool.Submit(c.Request.Context(), worker.OpPut, []byte(key), []byte(body.Value))
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": firstErr(err, res.Err).Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// InternalDelete applies a replicated delete directly, without replicating
// further.
func (h *Handler) InternalDelete(c *gin.Context) {
	key := c.Param("key")

	res, err := h.pool.Submit(c.Request.Context(), worker.OpDelete, []byte(key), nil)
	if err != nil || res.Err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": firstErr(err, res.Err).Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Healthz is always 200 once the server has started listening — there is
// no readiness concept beyond LISTENING in this design.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const backupDirKey = "kvnode.backup_dir"

// WithBackupDir attaches the node's configured default backup directory so
// Backup can fall back to it when the request omits one.
func WithBackupDir(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(backupDirKey, dir)
		c.Next()
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return errors.New("api: unknown error")
}
