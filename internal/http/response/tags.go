package response

import "github.com/gin-gonic/gin"

// Keys the request logger reads back once the handler returns.
const (
	KeyErrorCode = "response.error_code"
	KeyFileID    = "response.file_id"
	KeyNamespace = "response.namespace"
)

// TagFile marks the request with the file it touched.
func TagFile(c *gin.Context, fileID, namespace string) {
	if fileID != "" {
		c.Set(KeyFileID, fileID)
	}
	if namespace != "" {
		c.Set(KeyNamespace, namespace)
	}
}
