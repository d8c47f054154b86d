package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linhnguyen0702/contractledger/middleware"
	"github.com/linhnguyen0702/contractledger/model"
	"github.com/linhnguyen0702/contractledger/service"
)

type ContractHandler struct {
	lifecycle   *service.Lifecycle
	attachments *service.AttachmentService // nil when object storage is disabled
}

func NewContractHandler(lifecycle *service.Lifecycle, attachments *service.AttachmentService) *ContractHandler {
	return &ContractHandler{lifecycle: lifecycle, attachments: attachments}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		ID:            middleware.GetUsername(c),
		Name:          middleware.GetFullName(c),
		Role:          middleware.GetRole(c),
		WalletAddress: middleware.GetWalletAddress(c),
	}
}

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case model.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case model.IsPermission(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case model.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if le, ok := model.AsLedgerError(err); ok {
			c.JSON(http.StatusBadGateway, gin.H{"error": le.Error(), "code": le.Code})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Create handles contract creation
func (h *ContractHandler) Create(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	contract, err := h.lifecycle.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contract)
}

// List returns a filtered page of contracts
func (h *ContractHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	filter := service.ContractFilter{
		Page:         page,
		Limit:        limit,
		Status:       model.Status(c.Query("status")),
		ContractType: c.Query("contract_type"),
		Department:   c.Query("department"),
		Search:       c.Query("search"),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}

	contracts, total, err := h.lifecycle.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts": contracts,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Get returns a single contract
func (h *ContractHandler) Get(c *gin.Context) {
	contract, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Update applies a partial edit to a contract
func (h *ContractHandler) Update(c *gin.Context) {
	var req service.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	contract, err := h.lifecycle.Update(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Submit moves a draft contract to pending review
func (h *ContractHandler) Submit(c *gin.Context) {
	contract, err := h.lifecycle.Submit(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Approve approves a pending contract
func (h *ContractHandler) Approve(c *gin.Context) {
	var req commentRequest
	c.ShouldBindJSON(&req)

	contract, err := h.lifecycle.Approve(c.Request.Context(), actorFrom(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Reject rejects a pending contract
func (h *ContractHandler) Reject(c *gin.Context) {
	var req reasonRequest
	c.ShouldBindJSON(&req)

	contract, err := h.lifecycle.Reject(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Activate marks an approved contract active
func (h *ContractHandler) Activate(c *gin.Context) {
	contract, err := h.lifecycle.Activate(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Complete marks an active contract completed
func (h *ContractHandler) Complete(c *gin.Context) {
	contract, err := h.lifecycle.Complete(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Cancel cancels a non-terminal contract
func (h *ContractHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	c.ShouldBindJSON(&req)

	contract, err := h.lifecycle.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// Delete soft-deletes a contract
func (h *ContractHandler) Delete(c *gin.Context) {
	if err := h.lifecycle.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// Stats returns aggregate contract statistics
func (h *ContractHandler) Stats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("expiring_days", "30"))
	if days <= 0 {
		days = 30
	}

	stats, err := h.lifecycle.Stats(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// VerifyTransaction re-checks the contract's last ledger transaction
func (h *ContractHandler) VerifyTransaction(c *gin.Context) {
	contract, verified, err := h.lifecycle.VerifyMirror(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified": verified,
		"ledger":   contract.Ledger,
	})
}

// Upload handles contract file upload
func (h *ContractHandler) Upload(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "File storage is not configured"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	// Validate file type - PDF and DOCX allowed
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" && ext != ".docx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF and DOCX files are allowed"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if ext == ".pdf" {
			contentType = "application/pdf"
		} else {
			contentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		}
	}

	id := c.Param("id")
	att, err := h.attachments.Upload(c.Request.Context(), id, header.Filename, file, header.Size, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	contract, err := h.lifecycle.AddAttachment(c.Request.Context(), actorFrom(c), id, *att)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attachment": att,
		"contract":   contract,
	})
}

// DownloadURL returns a presigned URL for a stored attachment
func (h *ContractHandler) DownloadURL(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "File storage is not configured"})
		return
	}

	contract, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	filename := c.Param("filename")
	for _, att := range contract.Attachments {
		if att.Filename == filename {
			url, err := h.attachments.GetPresignedURL(c.Request.Context(), att.ObjectName)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
}
