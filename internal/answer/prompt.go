package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/internal/workbooks"
)

// SystemPrompt is the fixed analyst persona sent with every question.
const SystemPrompt = `You are a stock market analysis expert. The user uploads Excel files containing equity data.

DATA STRUCTURE:
- Stock names, prices, technical indicators
- WT signal (POSITIVE/NEGATIVE)
- Pivot points
- Volume data
- Technical indicators (RSI, MACD, etc.)

ANSWER FORMAT:
1. A short summary first
2. Bullet-point analysis
3. Key findings
4. Recommendations (based only on the data)

Rely ONLY on the data from the Excel file. Do not speculate.
If the question asks for something the data does not contain, say so plainly.
Use clear, understandable and professional language.`

var digestTemplate = prompts.NewPromptTemplate(`EXCEL DATA SUMMARY:
• File: {{.filename}}
• Sheet: {{.sheet}}
• Total Rows: {{.total_rows}}
• Total Columns: {{.total_columns}}
• Main Columns: {{.columns}}

FIRST ROWS SAMPLE:
{{.first_rows}}`, []string{"filename", "sheet", "total_rows", "total_columns", "columns", "first_rows"})

var questionTemplate = prompts.NewPromptTemplate(`EXCEL DATA: {{.digest}}

USER QUESTION: {{.question}}

Please analyze this Excel data to answer the question. If the requested information is not in the data, say "This information is not in the Excel file" and show the related information that does exist.`, []string{"digest", "question"})

// RenderDigest renders the fixed-shape digest block.
func RenderDigest(d *workbooks.Digest) (string, error) {
	cols := d.Columns
	if len(cols) > config.PromptColumnLimit {
		cols = cols[:config.PromptColumnLimit]
	}
	sample, err := sampleJSON(d.FirstRows)
	if err != nil {
		return "", fmt.Errorf("answer: encode sample rows: %w", err)
	}
	return digestTemplate.Format(map[string]any{
		"filename":      d.Filename,
		"sheet":         d.Sheet,
		"total_rows":    d.TotalRows,
		"total_columns": d.TotalColumns,
		"columns":       strings.Join(cols, ", "),
		"first_rows":    sample,
	})
}

// sampleJSON encodes rows as a JSON array of objects in column order without
// HTML escaping, so cell text like "P/E <x>" or "A & B" reaches the model as
// written.
func sampleJSON(rows []*workbooks.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	put := func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		// Encode terminates every value with a newline
		buf.Truncate(buf.Len() - 1)
		return nil
	}

	buf.WriteByte('[')
	for i, rec := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for pair, first := rec.Oldest(), true; pair != nil; pair, first = pair.Next(), false {
			if !first {
				buf.WriteByte(',')
			}
			if err := put(pair.Key); err != nil {
				return "", err
			}
			buf.WriteByte(':')
			if err := put(pair.Value); err != nil {
				return "", err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// RenderQuestion renders the user message around a rendered digest block.
func RenderQuestion(digest, question string) (string, error) {
	return questionTemplate.Format(map[string]any{
		"digest":   digest,
		"question": question,
	})
}
