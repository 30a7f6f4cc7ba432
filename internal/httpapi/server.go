package httpapi

import "github.com/gin-gonic/gin"

// Server is a thin wrapper matching the teacher's internal/http.Server.
type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}
