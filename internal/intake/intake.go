// Package intake validates incoming analysis requests before any workbook I/O.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/pkg/apierr"
	"github.com/vinodismyname/excelask/pkg/validation"
)

// Form carries the raw request fields in transport-neutral form.
type Form struct {
	// HasFile is true when a file part was supplied.
	HasFile bool
	// Filename is the client-supplied name of the file part.
	Filename string
	// Size is the declared byte length of the file part.
	Size int64
	// Open returns the file content. It is called only after validation passes.
	Open func() (io.ReadCloser, error)
	// Question is the raw, untrimmed question text.
	Question string
}

// Upload is a validated, request-scoped analysis request.
type Upload struct {
	Data     []byte
	Filename string
	Ext      string
	Size     int64
	Question string
}

// Validator checks a Form against the upload guardrails.
type Validator struct {
	maxBytes int64
}

// New returns a Validator with the given size ceiling. Non-positive values use
// the default of 10MB.
func New(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = config.MaxUploadBytes
	}
	return &Validator{maxBytes: maxBytes}
}

// MaxBytes returns the configured ceiling.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate runs the checks in order: file presence, filename, question,
// extension, size. The first failure is returned; the file body is read only
// when every check passes.
func (v *Validator) Validate(f Form) (*Upload, error) {
	if !f.HasFile {
		return nil, apierr.New(apierr.MissingFile, "")
	}
	name := strings.TrimSpace(f.Filename)
	if name == "" {
		return nil, apierr.New(apierr.EmptyFilename, "")
	}
	question := strings.TrimSpace(f.Question)
	if question == "" {
		return nil, apierr.New(apierr.MissingQuestion, "")
	}

	ext := validation.Extension(name)
	if msg := validation.ValidateVar("filename", name, "excel_ext"); msg != "" {
		e := apierr.Newf(apierr.UnsupportedExtension, "invalid file extension: %s", ext)
		e.Allowed = append([]string(nil), validation.AllowedExtensions...)
		return nil, e
	}

	if f.Size > v.maxBytes {
		e := apierr.Newf(apierr.FileTooLarge, "file too large: %.1fMB", float64(f.Size)/(1024*1024))
		e.MaxSize = maxLabel(v.maxBytes)
		return nil, e
	}

	data, err := v.read(f)
	if err != nil {
		return nil, err
	}

	return &Upload{
		Data:     data,
		Filename: name,
		Ext:      ext,
		Size:     int64(len(data)),
		Question: question,
	}, nil
}

// read loads the body, guarding against a declared size that understates the
// real one.
func (v *Validator) read(f Form) ([]byte, error) {
	if f.Open == nil {
		return nil, apierr.Wrap(apierr.Internal, errors.New("intake: no file opener"))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, fmt.Errorf("intake: open upload: %w", err))
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, v.maxBytes+1))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, fmt.Errorf("intake: read upload: %w", err))
	}
	if n > v.maxBytes {
		e := apierr.Newf(apierr.FileTooLarge, "file too large: more than %.1fMB", float64(v.maxBytes)/(1024*1024))
		e.MaxSize = maxLabel(v.maxBytes)
		return nil, e
	}
	return buf.Bytes(), nil
}

func maxLabel(maxBytes int64) string {
	if maxBytes == config.MaxUploadBytes {
		return config.MaxUploadLabel
	}
	return fmt.Sprintf("%.1fMB", float64(maxBytes)/(1024*1024))
}

// multipartMemory is the in-memory threshold for parsed multipart bodies;
// larger parts spill to disk under os.TempDir.
const multipartMemory = 32 << 20

// FromMultipart builds a Form from a multipart request. A part named
// fileField that was sent without a filename is parsed by net/http as a plain
// value, which is how an empty filename is told apart from a missing file.
// A request that is not multipart at all yields a Form without a file.
func FromMultipart(r *http.Request, fileField, questionField string) (Form, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return Form{}, fmt.Errorf("intake: parse multipart form: %w", err)
	}

	f := Form{Question: r.FormValue(questionField)}
	if r.MultipartForm == nil {
		return f, nil
	}

	if files := r.MultipartForm.File[fileField]; len(files) > 0 {
		fh := files[0]
		f.HasFile = true
		f.Filename = fh.Filename
		f.Size = fh.Size
		f.Open = func() (io.ReadCloser, error) { return fh.Open() }
		return f, nil
	}
	if _, ok := r.MultipartForm.Value[fileField]; ok {
		f.HasFile = true
	}
	return f, nil
}

// FromPath builds a Form from a file on disk, used by the stdio transport.
// The path is expected to have been vetted by the caller.
func FromPath(path, question string) (Form, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Form{}, fmt.Errorf("intake: stat %s: %w", path, err)
	}
	return Form{
		HasFile:  true,
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
		Question: question,
	}, nil
}
