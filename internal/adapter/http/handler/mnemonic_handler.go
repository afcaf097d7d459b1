package handler

import (
	"strings"

	"wallet-reconciler/internal/adapter/http/dto"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/pkg/apperror"
	"wallet-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
)

// MnemonicHandler exposes the seed phrase corrector.
type MnemonicHandler struct {
	svc ports.MnemonicService
}

// NewMnemonicHandler creates a new MnemonicHandler.
func NewMnemonicHandler(svc ports.MnemonicService) *MnemonicHandler {
	return &MnemonicHandler{svc: svc}
}

// Correct handles POST /api/v1/mnemonic/correct.
func (h *MnemonicHandler) Correct(c *gin.Context) {
	var req dto.CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if strings.TrimSpace(req.Phrase) == "" {
		response.Error(c, apperror.Validation("phrase has no words"))
		return
	}

	response.OK(c, dto.NewCorrectResponse(h.svc.Inspect(req.Phrase)))
}
