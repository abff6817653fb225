// Package handlers exposes the file-store facade over HTTP.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/drivers/storage"
	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/services"
)

type fileResponse struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime string `json:"modTime"`
	SHA1    string `json:"sha1,omitempty"`
}

func toResponse(meta models.FileMetadata) fileResponse {
	return fileResponse{
		Path:    meta.Path.String(),
		Size:    meta.Size,
		ModTime: meta.ModTime.UTC().Format("2006-01-02T15:04:05.000Z"),
		SHA1:    meta.SHA1,
	}
}

// statusFor maps a taxonomy error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrTransient):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrIntegrity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.WithError(err).WithField("op", op).Error("Storage operation failed")
	} else {
		logger.WithError(err).WithField("op", op).Debug("Storage operation rejected")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// rawPath extracts the wildcard path parameter without its leading slash.
func rawPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// FilesListHandler enumerates objects under the query prefix in path order.
func FilesListHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := store.List(c.Request.Context(), c.Query("prefix"))
		if err != nil {
			abortWithError(c, logger, "list", err)
			return
		}

		out := make([]fileResponse, 0, len(entries))
		for _, meta := range entries {
			out = append(out, toResponse(meta))
		}
		c.JSON(http.StatusOK, gin.H{"files": out})
	}
}

// FilesStatHandler answers HEAD requests with size and checksum headers.
func FilesStatHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := store.Stat(c.Request.Context(), rawPath(c))
		if err != nil {
			c.AbortWithStatus(statusFor(err))
			return
		}
		c.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
		c.Header("Last-Modified", meta.ModTime.UTC().Format(http.TimeFormat))
		if meta.SHA1 != "" {
			c.Header("X-Content-Sha1", meta.SHA1)
		}
		c.Status(http.StatusOK)
	}
}

// FilesDownloadHandler streams an object's content to the client.
func FilesDownloadHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		raw := rawPath(c)

		meta, err := store.Stat(ctx, raw)
		if err != nil {
			abortWithError(c, logger, "download", err)
			return
		}
		rc, err := store.Read(ctx, raw)
		if err != nil {
			abortWithError(c, logger, "download", err)
			return
		}
		defer rc.Close()

		c.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			// Headers are gone; all we can do is log and cut the connection.
			logger.WithError(err).WithField("path", raw).Warn("Download stream aborted")
		}
	}
}

// FilesUploadHandler stores the request body at the given path. The object
// becomes visible only once the body has been fully consumed.
func FilesUploadHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := rawPath(c)
		meta, err := store.Write(c.Request.Context(), raw, c.Request.Body)
		if err != nil {
			abortWithError(c, logger, "upload", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"path": raw,
			"size": meta.Size,
		}).Info("Stored object")
		c.JSON(http.StatusCreated, toResponse(meta))
	}
}

// FilesDeleteHandler removes an object, or a whole subtree for paths ending
// in a slash.
func FilesDeleteHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Delete(c.Request.Context(), rawPath(c)); err != nil {
			abortWithError(c, logger, "delete", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// FilesCopyHandler duplicates an object server-side where the backend
// supports it.
func FilesCopyHandler(store *services.FileStore, logger *logrus.Logger) gin.HandlerFunc {
	type copyRequest struct {
		Source      string `json:"source" binding:"required"`
		Destination string `json:"destination" binding:"required"`
	}
	return func(c *gin.Context) {
		var req copyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "source and destination are required"})
			return
		}
		meta, err := store.Copy(c.Request.Context(), req.Source, req.Destination)
		if err != nil {
			abortWithError(c, logger, "copy", err)
			return
		}
		c.JSON(http.StatusCreated, toResponse(meta))
	}
}

// Health reports liveness.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
