package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linhnguyen0702/contractledger/model"
	"github.com/linhnguyen0702/contractledger/service"
)

type AuditHandler struct {
	sink service.AuditSink
}

func NewAuditHandler(sink service.AuditSink) *AuditHandler {
	return &AuditHandler{sink: sink}
}

// List returns a filtered page of audit events, newest first
func (h *AuditHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	filter := model.AuditFilter{
		Page:        page,
		Limit:       limit,
		Type:        c.Query("type"),
		Action:      c.Query("action"),
		PerformedBy: c.Query("performed_by"),
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' timestamp"})
			return
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' timestamp"})
			return
		}
		filter.To = t
	}

	result, err := h.sink.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
