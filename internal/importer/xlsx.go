package importer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kiku/internal/models"
)

// specPrefix marks product columns that hold one specification each.
const specPrefix = "spec:"

// parseWorkbook reads sheets named "knowledge" and "products". The first row of
// each sheet is a header naming the fields; list fields are comma-separated.
func parseWorkbook(r io.Reader) (*Seed, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	seed := &Seed{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		header := rows[0]
		switch strings.ToLower(strings.TrimSpace(sheet)) {
		case "knowledge":
			for _, row := range rows[1:] {
				seed.Knowledge = append(seed.Knowledge, knowledgeRow(header, row))
			}
		case "products":
			for i, row := range rows[1:] {
				p, err := productRow(header, row)
				if err != nil {
					return nil, fmt.Errorf("sheet %q row %d: %w", sheet, i+2, err)
				}
				seed.Products = append(seed.Products, p)
			}
		}
	}
	return seed, nil
}

func column(header []string, i int) string {
	return strings.ToLower(strings.TrimSpace(header[i]))
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func knowledgeRow(header, row []string) models.KnowledgeInput {
	var in models.KnowledgeInput
	for i := range header {
		v := cell(row, i)
		switch column(header, i) {
		case "question":
			in.Question = v
		case "answer":
			in.Answer = v
		case "category":
			in.Category = v
		case "tags":
			in.Tags = splitList(v)
		}
	}
	return in
}

func productRow(header, row []string) (models.ProductInput, error) {
	var in models.ProductInput
	for i := range header {
		col := column(header, i)
		v := cell(row, i)
		var err error
		switch {
		case col == "name":
			in.Name = v
		case col == "description":
			in.Description = v
		case col == "category":
			in.Category = v
		case col == "brand":
			in.Brand = v
		case col == "currency":
			in.Currency = v
		case col == "price":
			in.Price, err = parseFloat(v)
		case col == "rating":
			in.Rating, err = parseFloat(v)
		case col == "stock":
			if v != "" {
				in.Stock, err = strconv.Atoi(v)
			}
		case col == "tags":
			in.Tags = splitList(v)
		case col == "images":
			in.Images = splitList(v)
		case strings.HasPrefix(col, specPrefix):
			if v == "" {
				continue
			}
			if in.Specifications == nil {
				in.Specifications = models.NewSpecifications()
			}
			// The key keeps the header's original case.
			key := strings.TrimSpace(strings.TrimSpace(header[i])[len(specPrefix):])
			in.Specifications.Set(key, v)
		}
		if err != nil {
			return in, fmt.Errorf("column %q: %w", col, err)
		}
	}
	return in, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
