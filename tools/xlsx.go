package tools

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"bilireply/models"

	"github.com/xuri/excelize/v2"
)

const rulesSheet = "Rules"

var rulesHeaders = []string{"Name", "Keywords", "Response", "Priority", "Active", "Type"}

// RulesToXLSX writes rules to a workbook with a single "Rules" sheet.
func RulesToXLSX(rules []models.Rule) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, _ := f.NewSheet(rulesSheet)
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for i, h := range rulesHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(rulesSheet, cell, h)
	}

	for i, r := range rules {
		row := i + 2
		f.SetCellValue(rulesSheet, fmt.Sprintf("A%d", row), r.Name)
		f.SetCellValue(rulesSheet, fmt.Sprintf("B%d", row), r.Keywords)
		f.SetCellValue(rulesSheet, fmt.Sprintf("C%d", row), r.ResponseTemplate)
		f.SetCellValue(rulesSheet, fmt.Sprintf("D%d", row), r.Priority)
		f.SetCellValue(rulesSheet, fmt.Sprintf("E%d", row), r.IsActive)
		f.SetCellValue(rulesSheet, fmt.Sprintf("F%d", row), r.Type)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RowError points at a spreadsheet row that could not be imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// RulesFromXLSX reads the first sheet. The first row is a header. Rows without
// name, keywords or response are reported and skipped. Returned rules have no
// owner yet.
func RulesFromXLSX(r io.Reader) ([]models.Rule, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("planilha vazia")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, err
	}

	var (
		out  []models.Rule
		errs []RowError
	)
	for i, row := range rows {
		if i == 0 {
			continue
		}
		line := i + 1
		get := func(col int) string {
			if col < len(row) {
				return strings.TrimSpace(row[col])
			}
			return ""
		}
		if get(0) == "" && get(1) == "" && get(2) == "" {
			continue
		}

		rule := models.Rule{
			Name:             get(0),
			Keywords:         get(1),
			ResponseTemplate: get(2),
			IsActive:         true,
			Type:             strings.ToLower(get(5)),
		}
		if rule.Name == "" || rule.Keywords == "" || rule.ResponseTemplate == "" {
			errs = append(errs, RowError{Row: line, Message: "name, keywords e response são obrigatórios"})
			continue
		}
		if p := get(3); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				errs = append(errs, RowError{Row: line, Message: "priority inválido"})
				continue
			}
			rule.Priority = n
		}
		if a := get(4); a != "" {
			rule.IsActive = parseBoolCell(a)
		}
		if rule.Type == "" {
			rule.Type = models.RULE_TYPE_GENERAL
		}
		if !models.IsValidRuleType(rule.Type) {
			errs = append(errs, RowError{Row: line, Message: "type inválido"})
			continue
		}
		out = append(out, rule)
	}
	return out, errs, nil
}

func parseBoolCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false", "no", "n", "off", "não", "nao", "否":
		return false
	}
	return true
}
