package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lakeshore-data/cdr-pipeline/internal/model"
	"github.com/lakeshore-data/cdr-pipeline/internal/qa"
)

func TestReportEvaluation_AllPassed(t *testing.T) {
	var out, errOut bytes.Buffer
	ev := &qa.Evaluation{Results: []model.GateResult{
		{Name: "providers_ok", Passed: true, Details: "7 >= 5"},
		{Name: "dim_products_rows", Passed: true, Details: "120 >= 50"},
	}}

	code := reportEvaluation(&out, &errOut, ev)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "providers_ok")
	assert.Contains(t, out.String(), "7 >= 5")
	assert.NotContains(t, out.String(), "FAIL")
	assert.Empty(t, errOut.String())
}

func TestReportEvaluation_FailureReturnsNonzero(t *testing.T) {
	var out, errOut bytes.Buffer
	ev := &qa.Evaluation{Results: []model.GateResult{
		{Name: "providers_ok", Passed: true, Details: "7 >= 5"},
		{Name: "rate_changes_rows", Passed: false, Details: "3 < 5"},
	}}

	code := reportEvaluation(&out, &errOut, ev)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "FAIL rate_changes_rows")
	assert.Contains(t, out.String(), "3 < 5")
	assert.Equal(t, "1 gate(s) failed\n", errOut.String())
}
