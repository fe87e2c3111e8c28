package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// table buffers rows and prints them as padded columns with a dimmed
// header row.
type table struct {
	out    io.Writer
	indent string
	head   []string
	rows   [][]string
	right  map[int]bool
}

func newTable(indent string, head ...string) *table {
	return &table{out: os.Stdout, indent: indent, head: head, right: map[int]bool{}}
}

// alignRight right-aligns the given column.
func (t *table) alignRight(col int) {
	t.right[col] = true
}

func (t *table) row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) flush() {
	widths := make([]int, len(t.head))
	for i, h := range t.head {
		widths[i] = len(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			if i < len(widths) {
				widths[i] = max(widths[i], len(c))
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			if t.right[i] {
				parts[i] = padLeft(c, widths[i])
			} else {
				parts[i] = padRight(c, widths[i])
			}
		}
		return strings.TrimRight(t.indent+strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(t.out, colorize(dim, line(t.head)))
	for _, r := range t.rows {
		fmt.Fprintln(t.out, line(r))
	}
}
