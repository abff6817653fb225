package server

import (
	"github.com/FractalBrew/file-store/src/handlers"
	"github.com/FractalBrew/file-store/src/middleware"
)

// setupRoutes registers the gateway surface. Everything under /files
// requires a bearer token; health stays public.
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", handlers.Health())

	files := s.router.Group("/files")
	files.Use(middleware.Auth(s.jwtService, s.logger))
	{
		files.GET("", handlers.FilesListHandler(s.store, s.logger))
		files.POST("/copy", handlers.FilesCopyHandler(s.store, s.logger))
		files.GET("/*path", handlers.FilesDownloadHandler(s.store, s.logger))
		files.HEAD("/*path", handlers.FilesStatHandler(s.store, s.logger))
		files.PUT("/*path", handlers.FilesUploadHandler(s.store, s.logger))
		files.DELETE("/*path", handlers.FilesDeleteHandler(s.store, s.logger))
	}
}
