package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"wallet-reconciler/internal/adapter/http/dto"
	"wallet-reconciler/internal/adapter/http/middleware"
	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/pkg/apperror"
	"wallet-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WalletHandler handles the wallet endpoints.
type WalletHandler struct {
	wallets    ports.WalletService
	reconciler ports.ReconciliationService
	exports    ports.ExportService
	log        zerolog.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(
	wallets ports.WalletService,
	reconciler ports.ReconciliationService,
	exports ports.ExportService,
	log zerolog.Logger,
) *WalletHandler {
	return &WalletHandler{wallets: wallets, reconciler: reconciler, exports: exports, log: log}
}

// Generate handles POST /api/v1/wallets.
func (h *WalletHandler) Generate(c *gin.Context) {
	var req dto.GenerateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)
	chain, _ := domain.ParseChain(req.Chain)

	w, err := h.wallets.Generate(c.Request.Context(), ports.GenerateRequest{
		Chain:    chain,
		Mnemonic: req.Mnemonic,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.log.Info().
		Str("operator", middleware.Operator(c)).
		Str("chain", string(w.Chain)).
		Str("address", w.Address).
		Msg("wallet generated via api")

	response.Secret(c, http.StatusCreated, dto.GeneratedWalletResponse{
		WalletResponse: dto.NewWalletResponse(w),
		Mnemonic:       w.MnemonicPhrase(),
	})
}

// Import handles POST /api/v1/wallets/import. The body is the raw JSON array. Duplicate
// address conflicts do not fail the request; they are listed in the report.
func (h *WalletHandler) Import(c *gin.Context) {
	report, err := h.wallets.Import(c.Request.Context(), c.Request.Body)
	if report == nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, apperror.ErrBodyTooLarge(tooLarge.Limit))
			return
		}
		writeError(c, err)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("batch_id", report.BatchID).Int("conflicts", len(report.Conflicts)).Msg("import finished with conflicts")
	}

	if report.Duplicated {
		response.OK(c, report)
		return
	}
	response.Created(c, report)
}

// Reconcile handles POST /api/v1/wallets/reconcile. An empty body reconciles every wallet.
func (h *WalletHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	wallets, err := h.reconciler.ReconcileAll(c.Request.Context(), req.Filter())
	if err != nil && wallets == nil {
		writeError(c, err)
		return
	}

	resp := reconcileResponse{WalletListResponse: dto.NewWalletListResponse(wallets)}
	if err != nil {
		resp.Errors = joinedMessages(err)
		h.log.Warn().Err(err).Int("reconciled", resp.Count).Msg("reconcile finished with store errors")
	}
	response.OK(c, resp)
}

type reconcileResponse struct {
	dto.WalletListResponse
	Errors []string `json:"errors,omitempty"`
}

// joinedMessages flattens an errors.Join result.
func joinedMessages(err error) []string {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range multi.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// List handles GET /api/v1/wallets.
func (h *WalletHandler) List(c *gin.Context) {
	var q dto.ListWalletsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	wallets, err := h.wallets.List(c.Request.Context(), q.Filter())
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, dto.NewWalletListResponse(wallets))
}

// Get handles GET /api/v1/wallets/:address.
func (h *WalletHandler) Get(c *gin.Context) {
	w, err := h.wallets.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, dto.NewWalletResponse(w))
}

// Keystore handles GET /api/v1/wallets/:address/keystore. The document carries the
// decrypted private key.
func (h *WalletHandler) Keystore(c *gin.Context) {
	address := c.Param("address")
	doc, err := h.exports.WalletJSON(c.Request.Context(), address)
	if err != nil {
		writeError(c, err)
		return
	}

	h.log.Warn().Str("operator", middleware.Operator(c)).Str("address", address).Msg("keystore exported via api")
	response.NoStore(c)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "wallet_"+address+".json"))
	c.Data(http.StatusOK, "application/json", doc)
}

type exportFunc func(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error)

// ExportCSV handles GET /api/v1/wallets/export.csv.
func (h *WalletHandler) ExportCSV(c *gin.Context) {
	h.export(c, "text/csv; charset=utf-8", "csv", h.exports.WriteCSV)
}

// ExportPDF handles GET /api/v1/wallets/export.pdf.
func (h *WalletHandler) ExportPDF(c *gin.Context) {
	h.export(c, "application/pdf", "pdf", h.exports.WritePDF)
}

// ExportYAML handles GET /api/v1/wallets/export.yaml.
func (h *WalletHandler) ExportYAML(c *gin.Context) {
	h.export(c, "application/x-yaml", "yaml", h.exports.WriteYAML)
}

// export renders into the response through a buffer, so a store failure can still be
// reported as an error envelope.
func (h *WalletHandler) export(c *gin.Context, contentType, ext string, write exportFunc) {
	var q dto.ListWalletsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	var buf bytes.Buffer
	n, err := write(c.Request.Context(), &buf, q.Filter())
	if err != nil {
		writeError(c, err)
		return
	}

	filename := fmt.Sprintf("wallets_%s.%s", time.Now().UTC().Format("20060102_150405"), ext)
	c.Header("X-Wallet-Count", strconv.Itoa(n))
	if err := response.Attachment(c, contentType, filename, func(w gin.ResponseWriter) error {
		_, err := buf.WriteTo(w)
		return err
	}); err != nil {
		h.log.Error().Err(err).Str("format", ext).Msg("export write failed")
	}
}
