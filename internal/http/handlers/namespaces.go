package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ingest/internal/http/response"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

type NamespaceHandler struct {
	log      *logger.Logger
	resolver services.NamespaceResolver
}

func NewNamespaceHandler(log *logger.Logger, resolver services.NamespaceResolver) *NamespaceHandler {
	return &NamespaceHandler{log: log.With("handler", "NamespaceHandler"), resolver: resolver}
}

// POST /api/namespaces/resolve provisions the caller's namespace without an upload.
func (h *NamespaceHandler) Resolve(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	ns, err := h.resolver.Resolve(c.Request.Context(), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.TagFile(c, "", ns)
	response.RespondOK(c, gin.H{"namespace": ns})
}
