package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format — формат вывода данных.
type Format string

// Форматы вывода.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat разбирает значение --output.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (table, json, yaml)", s)
	}
}

// Output форматирует вывод CLI: данные в w, сообщения в errW.
type Output struct {
	format Format
	w      io.Writer
	errW   io.Writer
}

// NewOutputTo создаёт Output.
func NewOutputTo(w, errW io.Writer, format Format) *Output {
	if format == "" {
		format = FormatTable
	}
	return &Output{format: format, w: w, errW: errW}
}

// Structured сообщает, выводятся ли данные как JSON или YAML.
func (o *Output) Structured() bool {
	return o.format != FormatTable
}

// Print выводит таблицу или, в структурном режиме, data.
func (o *Output) Print(headers []string, rows [][]string, data any) {
	if o.Structured() {
		o.Data(data)
		return
	}
	o.Table(headers, rows)
}

// Data выводит v в JSON или YAML. В табличном режиме — JSON.
func (o *Output) Data(v any) {
	if o.format == FormatYAML {
		if err := writeYAML(o.w, v); err != nil {
			o.Error(err.Error())
		}
		return
	}
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		o.Error(err.Error())
	}
}

// writeYAML кодирует v через JSON: имена полей берутся из json-тегов,
// порядок полей сохраняется.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// Table выводит таблицу с подчёркнутыми заголовками.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Join(underline, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// Text выводит строку только в табличном режиме.
func (o *Output) Text(format string, args ...any) {
	if o.Structured() {
		return
	}
	fmt.Fprintf(o.w, format+"\n", args...)
}

// Success пишет сообщение в errW.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

// Error пишет сообщение об ошибке в errW.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}
