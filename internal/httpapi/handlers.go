package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vinodismyname/excelask/internal/analysis"
	"github.com/vinodismyname/excelask/internal/intake"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/apierr"
	"github.com/vinodismyname/excelask/pkg/version"
)

// Form field names accepted by the upload endpoints.
const (
	FileField     = "excel_file"
	QuestionField = "question"
)

// Analyzer is the pipeline the upload endpoints drive.
type Analyzer interface {
	Analyze(ctx context.Context, f intake.Form) (*analysis.Result, error)
	Describe(ctx context.Context, f intake.Form) (*workbooks.Digest, error)
}

// Handler serves every route.
type Handler struct {
	svc         Analyzer
	aiConnected bool
	now         func() time.Time
}

type metadata struct {
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	TokensUsed            *int              `json:"tokens_used"`
	Model                 string            `json:"model"`
	DataInfo              *workbooks.Digest `json:"data_info"`
}

type analyzeResponse struct {
	Success   bool      `json:"success"`
	Answer    string    `json:"answer"`
	Metadata  metadata  `json:"metadata"`
	Timestamp time.Time `json:"timestamp"`
}

type describeResponse struct {
	Success   bool              `json:"success"`
	DataInfo  *workbooks.Digest `json:"data_info"`
	Timestamp time.Time         `json:"timestamp"`
}

// HandleHome returns service metadata and the endpoint directory.
func (h *Handler) HandleHome(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "online",
		"service":   version.Name,
		"version":   version.Version(),
		"timestamp": h.now(),
		"endpoints": map[string]string{
			"health":   "GET /health - service status",
			"test":     "GET /test - example questions",
			"analyze":  "POST /analyze - ask a question about an Excel file",
			"describe": "POST /describe - summarize an Excel file without asking",
		},
	})
}

// HandleHealth reports liveness and whether a completion credential is set.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "healthy",
		"ai_connected": h.aiConnected,
		"timestamp":    h.now(),
	})
}

// HandleTest returns usage hints.
func (h *Handler) HandleTest(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message":   "Backend API is running!",
		"next_step": "Use the POST /analyze endpoint to upload an Excel file",
		"example_questions": []string{
			"Which stocks give a WT POSITIVE signal?",
			"Which stocks have the highest volume increase?",
			"How many stocks are priced above their pivot?",
			"List the stocks marked STRONG POSITIVE",
		},
	})
}

// HandleAnalyze answers a question about an uploaded workbook.
func (h *Handler) HandleAnalyze(c echo.Context) error {
	form, err := readForm(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Analyze(c.Request().Context(), form)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analyzeResponse{
		Success: true,
		Answer:  res.Answer,
		Metadata: metadata{
			ProcessingTimeSeconds: res.ProcessingSeconds,
			TokensUsed:            res.TokensUsed,
			Model:                 res.Model,
			DataInfo:              res.Digest,
		},
		Timestamp: res.Timestamp,
	})
}

// HandleDescribe returns the digest of an uploaded workbook.
func (h *Handler) HandleDescribe(c echo.Context) error {
	form, err := readForm(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Describe(c.Request().Context(), form)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, describeResponse{
		Success:   true,
		DataInfo:  d,
		Timestamp: h.now(),
	})
}

// readForm parses the multipart body. A body cut off by the size limit keeps
// echo's 413 so the error handler reports FileTooLarge; any other malformed
// body is treated as carrying no file.
func readForm(c echo.Context) (intake.Form, error) {
	form, err := intake.FromMultipart(c.Request(), FileField, QuestionField)
	if err == nil {
		return form, nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return intake.Form{}, he
	}
	return intake.Form{}, apierr.Wrap(apierr.MissingFile, err)
}
