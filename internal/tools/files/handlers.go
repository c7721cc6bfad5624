package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
)

type readArgs struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (c *Checker) handleRead(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a readArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}
	if a.Limit <= 0 {
		a.Limit = 2000
	}
	if errMsg := c.Check(a.FilePath); errMsg != "" {
		return errMsg, nil
	}

	info, err := os.Stat(a.FilePath)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File not found: %s", a.FilePath), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Not a file: %s", a.FilePath), nil
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("Error: Cannot read binary file: %s", a.FilePath), nil
	}

	lines := splitLinesKeepEnds(string(data))
	total := len(lines)
	end := a.Offset + a.Limit
	if end > total {
		end = total
	}
	start := a.Offset
	if start > total {
		start = total
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		line := lines[i]
		if len(line) > 2000 {
			line = line[:2000] + "...\n"
		}
		fmt.Fprintf(&b, "%6d\t%s", i+1, line)
	}
	if end < total {
		fmt.Fprintf(&b, "\n[... %d more lines]", total-end)
	}
	return b.String(), nil
}

// splitLinesKeepEnds splits text on newlines, keeping the trailing "\n" on
// every line; the last line has none only if text does not end in "\n"
// (mirroring Python's readlines()).
func splitLinesKeepEnds(text string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text()+"\n")
	}
	if n := len(lines); n > 0 && strings.HasSuffix(text, "\n") == false {
		lines[n-1] = strings.TrimSuffix(lines[n-1], "\n")
	}
	return lines
}

type writeArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (c *Checker) handleWrite(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a writeArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}
	if errMsg := c.Check(a.FilePath); errMsg != "" {
		return errMsg, nil
	}

	if err := os.MkdirAll(dirOf(a.FilePath), 0o755); err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}
	if err := os.WriteFile(a.FilePath, []byte(a.Content), 0o644); err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}
	return fmt.Sprintf("Written %d chars to %s", len(a.Content), a.FilePath), nil
}

type editArgs struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

func (c *Checker) handleEdit(ctx context.Context, arguments json.RawMessage) (string, error) {
	var a editArgs
	if err := json.Unmarshal(arguments, &a); err != nil {
		return "", tools.InvalidArguments(err)
	}
	if errMsg := c.Check(a.FilePath); errMsg != "" {
		return errMsg, nil
	}

	info, err := os.Stat(a.FilePath)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return fmt.Sprintf("Error: File not found: %s", a.FilePath), nil
	}
	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("Error: Cannot read binary file: %s", a.FilePath), nil
	}
	content := string(data)

	count := strings.Count(content, a.OldString)
	if count == 0 {
		return fmt.Sprintf("Error: old_string not found in %s", a.FilePath), nil
	}

	if !a.ReplaceAll {
		if count > 1 {
			return fmt.Sprintf("Error: old_string found %d times in %s. Use replace_all=true or provide more context.", count, a.FilePath), nil
		}
		content = strings.Replace(content, a.OldString, a.NewString, 1)
	} else {
		content = strings.ReplaceAll(content, a.OldString, a.NewString)
	}

	if err := os.WriteFile(a.FilePath, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: Permission denied: %s", a.FilePath), nil
	}

	if a.ReplaceAll {
		return fmt.Sprintf("Replaced %d occurrences in %s", count, a.FilePath), nil
	}
	return fmt.Sprintf("Edited %s", a.FilePath), nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
