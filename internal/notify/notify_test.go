package notify_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"finrep/internal/domain"
	"finrep/internal/notify"
)

func TestBuild_GateFailure(t *testing.T) {
	runID := uuid.MustParse("0190d7a4-6a2f-7c3e-9a11-2f1d3b4c5d6e")
	res := &domain.RunResult{
		RunID:       runID,
		DocumentID:  "brf-solen-2023",
		DocumentRef: "s3://reports/solen.pdf",
		Status:      domain.DocumentStatusGateFailed,
		Gate: &domain.GateResult{Checked: 3, Violations: []domain.Violation{
			{Field: "income_statement.revenue", Message: "off by 12%"},
		}},
		Errors: []domain.RunError{{Kind: domain.ErrorKindGateViolation, Message: "1 of 3 reference values violated"}},
	}

	msg := notify.Build(res, "https://finrep.example.com/")

	assert.Equal(t, "[finrep] brf-solen-2023 failed the reference gate", msg.Subject)
	assert.Contains(t, msg.Text, "Gate: 3 checked, 1 violations")
	assert.Contains(t, msg.Text, "income_statement.revenue: off by 12%")
	assert.Contains(t, msg.Text, "https://finrep.example.com/api/v1/runs/"+runID.String())
	assert.Contains(t, msg.HTML, "<h2")
}

func TestBuild_EscapesHTMLAndCapsErrors(t *testing.T) {
	res := &domain.RunResult{DocumentID: "<doc>", Status: domain.DocumentStatusFailed}
	for i := 0; i < 12; i++ {
		res.Errors = append(res.Errors, domain.RunError{Kind: domain.ErrorKindTransport, Message: "timeout"})
	}

	msg := notify.Build(res, "")

	assert.Equal(t, "[finrep] <doc> failed", msg.Subject)
	assert.NotContains(t, msg.HTML, "<doc>")
	assert.Contains(t, msg.HTML, "&lt;doc&gt;")
	assert.Contains(t, msg.Text, "... and 2 more")
	assert.NotContains(t, msg.Text, "Details:")
}
