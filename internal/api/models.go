package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// modelsListResponse is the wire shape of GET /v1/models (spec.md §6
// "lists the single configured model").
type modelsListResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func modelsHandler(sc *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, modelsListResponse{
			Object: "list",
			Data:   []modelInfo{{ID: sc.Config.ModelName, Object: "model", OwnedBy: "lumo-tamer"}},
		})
	}
}
