package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vinodismyname/excelask/internal/analysis"
	"github.com/vinodismyname/excelask/internal/intake"
	"github.com/vinodismyname/excelask/internal/security"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/apierr"
	"github.com/vinodismyname/excelask/pkg/validation"
)

// Tool names.
const (
	AskTool      = "ask_spreadsheet"
	DescribeTool = "describe_spreadsheet"
)

// describeQuestion stands in for the question the validator requires when a
// caller only wants the digest.
const describeQuestion = "describe"

// Analyzer is the pipeline the tools drive.
type Analyzer interface {
	Analyze(ctx context.Context, f intake.Form) (*analysis.Result, error)
	Describe(ctx context.Context, f intake.Form) (*workbooks.Digest, error)
}

// AskInput defines parameters for ask_spreadsheet.
type AskInput struct {
	Path     string `json:"path" jsonschema_description:"Path to an .xlsx, .xls or .xlsm workbook inside an allowed directory"`
	Question string `json:"question" jsonschema_description:"Question to answer from the workbook's data"`
}

// AskOutput documents the response fields for ask_spreadsheet.
type AskOutput struct {
	Answer                string            `json:"answer" jsonschema_description:"Model answer grounded in the workbook digest"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds" jsonschema_description:"Wall-clock time, rounded to 2 decimals"`
	TokensUsed            *int              `json:"tokens_used" jsonschema_description:"Tokens reported by the completion service, null when not reported"`
	Model                 string            `json:"model" jsonschema_description:"Completion model used"`
	DataInfo              *workbooks.Digest `json:"data_info" jsonschema_description:"Digest of the selected sheet"`
}

// DescribeInput defines parameters for describe_spreadsheet.
type DescribeInput struct {
	Path string `json:"path" jsonschema_description:"Path to an .xlsx, .xls or .xlsm workbook inside an allowed directory"`
}

// DescribeOutput documents the response fields for describe_spreadsheet.
type DescribeOutput struct {
	DataInfo *workbooks.Digest `json:"data_info" jsonschema_description:"Digest of the selected sheet"`
}

type spreadsheetTools struct {
	svc   Analyzer
	paths workbooks.PathValidator
}

// RegisterSpreadsheetTools adds ask_spreadsheet and describe_spreadsheet to
// reg. Every path is vetted against paths before it is read.
func RegisterSpreadsheetTools(reg *Registry, svc Analyzer, paths workbooks.PathValidator) {
	t := &spreadsheetTools{svc: svc, paths: paths}

	ask := mcp.NewTool(
		AskTool,
		mcp.WithDescription("Answer a natural-language question about a stock-signal workbook. The sheet whose name contains the configured token (default 'signal') is summarized into row/column counts, up to 15 column names and 3 sample rows, and sent with the question to the completion service. Errors carry a kind prefix: UnsupportedExtension, FileTooLarge, EmptySheet, SheetReadError, UpstreamError, ACCESS_DENIED, NOT_FOUND."),
		mcp.WithInputSchema[AskInput](),
		mcp.WithOutputSchema[AskOutput](),
	)
	reg.Register(ask, mcp.NewTypedToolHandler(t.ask))

	describe := mcp.NewTool(
		DescribeTool,
		mcp.WithDescription("Summarize a workbook without contacting the completion service: selected sheet, every sheet name, row and column counts, up to 15 column names and 3 sample rows. Use it to check what ask_spreadsheet will see."),
		mcp.WithInputSchema[DescribeInput](),
		mcp.WithOutputSchema[DescribeOutput](),
	)
	reg.Register(describe, mcp.NewTypedToolHandler(t.describe))
}

func (t *spreadsheetTools) ask(ctx context.Context, req mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, error) {
	if strings.TrimSpace(in.Question) == "" {
		return toolError(apierr.New(apierr.MissingQuestion, "")), nil
	}
	form, failure := t.form(in.Path, in.Question)
	if failure != nil {
		return failure, nil
	}
	res, err := t.svc.Analyze(ctx, form)
	if err != nil {
		return toolError(err), nil
	}
	out := AskOutput{
		Answer:                res.Answer,
		ProcessingTimeSeconds: res.ProcessingSeconds,
		TokensUsed:            res.TokensUsed,
		Model:                 res.Model,
		DataInfo:              res.Digest,
	}
	r := mcp.NewToolResultStructured(out, res.Answer)
	r.Content = []mcp.Content{mcp.NewTextContent(res.Answer)}
	return r, nil
}

func (t *spreadsheetTools) describe(ctx context.Context, req mcp.CallToolRequest, in DescribeInput) (*mcp.CallToolResult, error) {
	form, failure := t.form(in.Path, describeQuestion)
	if failure != nil {
		return failure, nil
	}
	d, err := t.svc.Describe(ctx, form)
	if err != nil {
		return toolError(err), nil
	}
	summary := fmt.Sprintf("sheet=%q rows=%d cols=%d columns=%v", d.Sheet, d.TotalRows, d.TotalColumns, d.Columns)
	r := mcp.NewToolResultStructured(DescribeOutput{DataInfo: d}, summary)
	r.Content = []mcp.Content{mcp.NewTextContent(summary)}
	return r, nil
}

// form vets path and builds the transport-neutral form for it.
func (t *spreadsheetTools) form(path, question string) (intake.Form, *mcp.CallToolResult) {
	if strings.TrimSpace(path) == "" {
		return intake.Form{}, toolError(apierr.New(apierr.MissingFile, "path is required"))
	}
	canonical, err := t.paths.ValidateOpenPath(path)
	switch {
	case errors.Is(err, security.ErrUnsupportedExtension):
		e := apierr.Newf(apierr.UnsupportedExtension, "invalid file extension: %s", validation.Extension(path))
		e.Allowed = append([]string(nil), validation.AllowedExtensions...)
		return intake.Form{}, toolError(e)
	case errors.Is(err, security.ErrNotFound):
		return intake.Form{}, mcp.NewToolResultError("NOT_FOUND: file not found")
	case errors.Is(err, security.ErrNotAllowed):
		return intake.Form{}, mcp.NewToolResultError("ACCESS_DENIED: path is outside the allowed directories")
	case err != nil:
		return intake.Form{}, toolError(apierr.Wrap(apierr.Internal, err))
	}

	form, err := intake.FromPath(canonical, question)
	if err != nil {
		return intake.Form{}, toolError(apierr.Wrap(apierr.Internal, err))
	}
	return form, nil
}

// toolError renders err as "<Kind>: <message>".
func toolError(err error) *mcp.CallToolResult {
	e, ok := apierr.As(err)
	if !ok {
		e = apierr.Wrap(apierr.Internal, err)
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	if e.MaxSize != "" {
		msg += fmt.Sprintf(" (max size: %s)", e.MaxSize)
	}
	return mcp.NewToolResultError(msg)
}
