package intake

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/excelask/pkg/apierr"
)

func formWith(name string, data []byte, question string) Form {
	return Form{
		HasFile:  true,
		Filename: name,
		Size:     int64(len(data)),
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		Question: question,
	}
}

func requireKind(t *testing.T, err error, want apierr.Kind) *apierr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok, "expected *apierr.Error, got %T", err)
	require.Equal(t, want, e.Kind)
	return e
}

func TestValidate_Order(t *testing.T) {
	v := New(0)

	tests := []struct {
		name string
		form Form
		want apierr.Kind
	}{
		{"missing file and question", Form{}, apierr.MissingFile},
		{"missing file with bad extension question", Form{Question: "hi", Filename: "x.txt"}, apierr.MissingFile},
		{"empty filename without question", Form{HasFile: true}, apierr.EmptyFilename},
		{"blank question", formWith("data.xlsx", []byte("x"), "   \t\n"), apierr.MissingQuestion},
		{"question before extension", formWith("data.csv", []byte("x"), ""), apierr.MissingQuestion},
		{"bad extension", formWith("data.csv", []byte("x"), "q?"), apierr.UnsupportedExtension},
		{"no extension", formWith("data", []byte("x"), "q?"), apierr.UnsupportedExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.form)
			requireKind(t, err, tt.want)
		})
	}
}

func TestValidate_ExtensionReportsAllowed(t *testing.T) {
	_, err := New(0).Validate(formWith("prices.ods", []byte("x"), "q"))
	e := requireKind(t, err, apierr.UnsupportedExtension)
	require.Equal(t, []string{".xlsx", ".xls", ".xlsm"}, e.Allowed)
	require.Contains(t, e.Message, ".ods")
}

func TestValidate_ExtensionCaseInsensitive(t *testing.T) {
	for _, name := range []string{"A.XLSX", "b.Xls", "c.xlsM"} {
		up, err := New(0).Validate(formWith(name, []byte("x"), "q"))
		require.NoError(t, err, name)
		require.Equal(t, strings.ToLower(filepath.Ext(name)), up.Ext)
	}
}

func TestValidate_SizeBoundary(t *testing.T) {
	const limit = 10 * 1024 * 1024
	v := New(0)
	require.Equal(t, int64(limit), v.MaxBytes())

	exact := make([]byte, limit)
	up, err := v.Validate(formWith("big.xlsx", exact, "q"))
	require.NoError(t, err)
	require.Equal(t, int64(limit), up.Size)

	over := make([]byte, limit+1)
	opened := false
	f := formWith("big.xlsx", over, "q")
	f.Open = func() (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(bytes.NewReader(over)), nil
	}
	_, err = v.Validate(f)
	e := requireKind(t, err, apierr.FileTooLarge)
	require.Equal(t, "file too large: 10.0MB", e.Message)
	require.Equal(t, "10MB", e.MaxSize)
	require.False(t, opened, "body must not be read when validation fails")
}

func TestValidate_UnderstatedSize(t *testing.T) {
	v := New(8)
	f := formWith("x.xlsx", []byte("0123456789"), "q")
	f.Size = 4
	_, err := v.Validate(f)
	requireKind(t, err, apierr.FileTooLarge)
}

func TestValidate_Success(t *testing.T) {
	up, err := New(0).Validate(formWith(" data.xlsx ", []byte("payload"), "  Which stocks are positive?  "))
	require.NoError(t, err)
	require.Equal(t, "data.xlsx", up.Filename)
	require.Equal(t, ".xlsx", up.Ext)
	require.Equal(t, "Which stocks are positive?", up.Question)
	require.Equal(t, []byte("payload"), up.Data)
}

func multipartRequest(t *testing.T, build func(w *multipart.Writer)) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	build(w)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestFromMultipart(t *testing.T) {
	t.Run("file and question", func(t *testing.T) {
		req := multipartRequest(t, func(w *multipart.Writer) {
			fw, err := w.CreateFormFile("excel_file", "data.xlsx")
			require.NoError(t, err)
			_, _ = fw.Write([]byte("abc"))
			require.NoError(t, w.WriteField("question", "why?"))
		})
		f, err := FromMultipart(req, "excel_file", "question")
		require.NoError(t, err)
		require.True(t, f.HasFile)
		require.Equal(t, "data.xlsx", f.Filename)
		require.Equal(t, int64(3), f.Size)
		require.Equal(t, "why?", f.Question)
	})

	t.Run("file part without filename", func(t *testing.T) {
		req := multipartRequest(t, func(w *multipart.Writer) {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="excel_file"; filename=""`)
			h.Set("Content-Type", "application/octet-stream")
			pw, err := w.CreatePart(h)
			require.NoError(t, err)
			_, _ = pw.Write([]byte("abc"))
		})
		f, err := FromMultipart(req, "excel_file", "question")
		require.NoError(t, err)
		_, verr := New(0).Validate(f)
		requireKind(t, verr, apierr.EmptyFilename)
	})

	t.Run("no file part", func(t *testing.T) {
		req := multipartRequest(t, func(w *multipart.Writer) {
			require.NoError(t, w.WriteField("question", "why?"))
		})
		f, err := FromMultipart(req, "excel_file", "question")
		require.NoError(t, err)
		require.False(t, f.HasFile)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		f, err := FromMultipart(req, "excel_file", "question")
		require.NoError(t, err)
		require.False(t, f.HasFile)
	})
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	f, err := FromPath(path, "q")
	require.NoError(t, err)
	require.Equal(t, "book.xlsx", f.Filename)
	require.Equal(t, int64(5), f.Size)

	up, err := New(0).Validate(f)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), up.Data)

	_, err = FromPath(filepath.Join(t.TempDir(), "missing.xlsx"), "q")
	require.Error(t, err)
}
