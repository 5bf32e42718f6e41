package workbooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/internal/intake"
	"github.com/vinodismyname/excelask/pkg/apierr"
)

// WorkbookGate coordinates capacity for open workbooks (backed by runtime.Controller).
type WorkbookGate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator abstracts filesystem path validation. Implementations should
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Summarizer stages an upload to a scratch file, reads it with excelize
// (.xlsx) or the BIFF reader (.xls) and projects the selected sheet into a
// Digest. It holds no per-request state.
type Summarizer struct {
	scratchDir string
	token      string
	shape      Shape
	gate       WorkbookGate
	validator  PathValidator
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithGate bounds concurrently open workbooks.
func WithGate(g WorkbookGate) Option {
	return func(s *Summarizer) { s.gate = g }
}

// WithPathValidator vets each staged path before it is opened.
func WithPathValidator(v PathValidator) Option {
	return func(s *Summarizer) { s.validator = v }
}

// NewSummarizer constructs a Summarizer writing scratch files under
// scratchDir and preferring sheets whose name contains token.
func NewSummarizer(scratchDir, token string, opts ...Option) *Summarizer {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	s := &Summarizer{
		scratchDir: scratchDir,
		token:      token,
		shape:      Shape{ColumnCap: config.DigestColumnCap, SampleRows: config.DigestSampleRows},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Summarize builds the digest for up. The scratch file is removed on every
// return path, including panics raised while the workbook is open.
func (s *Summarizer) Summarize(ctx context.Context, up *intake.Upload) (*Digest, error) {
	if up == nil {
		return nil, apierr.Wrap(apierr.Internal, errors.New("workbooks: nil upload"))
	}
	if err := s.acquire(ctx); err != nil {
		return nil, apierr.Wrap(apierr.Busy, err)
	}
	defer s.release()

	path, err := s.stage(up.Data, up.Ext)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err)
	}
	defer discard(ctx, path)

	openPath := path
	if s.validator != nil {
		canonical, err := s.validator.ValidateOpenPath(path)
		if err != nil {
			return nil, apierr.Wrap(apierr.Internal, fmt.Errorf("workbooks: staged path rejected: %w", err))
		}
		openPath = canonical
	}

	src, err := openSource(openPath, up.Ext)
	if err != nil {
		return nil, apierr.Wrap(apierr.SheetReadError, err)
	}
	defer func() { _ = src.Close() }()

	sheets := src.Sheets()
	if len(sheets) == 0 {
		return nil, apierr.New(apierr.EmptySheet, "Excel file is empty: workbook has no sheets")
	}
	sheet := SelectSheet(sheets, s.token)

	rows, value, err := src.Rows(sheet)
	if err != nil {
		return nil, apierr.Wrap(apierr.SheetReadError, err)
	}

	d, err := BuildDigest(up.Filename, sheet, rows, s.shape, value)
	if err != nil {
		return nil, err
	}
	d.Sheets = sheets

	zerolog.Ctx(ctx).Debug().
		Str("sheet", sheet).
		Int("rows", d.TotalRows).
		Int("columns", d.TotalColumns).
		Msg("workbook summarized")
	return d, nil
}

// stage writes data to a uniquely named file in the scratch directory.
func (s *Summarizer) stage(data []byte, ext string) (string, error) {
	path := filepath.Join(s.scratchDir, "upload-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("workbooks: create scratch file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("workbooks: write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("workbooks: close scratch file: %w", err)
	}
	return path, nil
}

// discard removes a scratch file. Failures are logged and otherwise ignored.
func discard(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zerolog.Ctx(ctx).Debug().Err(err).Str("path", path).Msg("scratch file cleanup failed")
	}
}

func (s *Summarizer) acquire(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.AcquireWorkbook(ctx)
}

func (s *Summarizer) release() {
	if s.gate == nil {
		return
	}
	s.gate.ReleaseWorkbook()
}
