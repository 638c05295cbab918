package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"direct-debit-engine/internal/dedup"
	"direct-debit-engine/internal/eligibility"
	"direct-debit-engine/internal/models"
	"direct-debit-engine/pkg/errors"

	"github.com/shopspring/decimal"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixtureMember(id, first, last, email, iban string) *models.Member {
	return &models.Member{
		ID: id, FirstName: first, LastName: last, Email: email, IBAN: iban,
	}
}

func fixtureInvoice(id, memberID string, amount float64) *models.Invoice {
	return &models.Invoice{
		ID:               id,
		MemberID:         memberID,
		Amount:           decimal.NewFromFloat(amount),
		InvoiceDate:      day("2025-02-01"),
		Status:           "Unpaid",
		MandateReference: "MND-" + memberID,
	}
}

// newTestService wires a service over in-memory collaborators
func newTestService(members []*models.Member, invoices []*models.Invoice) *Service {
	directory := NewMemoryMemberDirectory(members)
	selector := eligibility.NewSelector(NewMemoryInvoiceStore(invoices), directory)

	detector := dedup.NewDetectionEngine(nil)
	detector.LoadDirectory(directory.Members())

	return NewService(selector, detector)
}

func cleanFixtures() ([]*models.Member, []*models.Invoice) {
	members := []*models.Member{
		fixtureMember("M-001", "Jan", "de Vries", "jan@example.org", "NL91ABNA0417164300"),
		fixtureMember("M-002", "Maria", "Hendriks", "maria@example.org", "NL69INGB0123456789"),
	}
	invoices := []*models.Invoice{
		fixtureInvoice("INV-001", "M-001", 25.00),
		fixtureInvoice("INV-002", "M-002", 12.50),
	}
	return members, invoices
}

func duplicateFixtures() ([]*models.Member, []*models.Invoice) {
	members, invoices := cleanFixtures()
	// M-003 is M-001 registered a second time
	members = append(members, fixtureMember("M-003", "Jan", "de Vries", "jan@example.org", "NL91ABNA0417164300"))
	invoices = append(invoices, fixtureInvoice("INV-003", "M-003", 30.00))
	return members, invoices
}

func sharedAccountFixtures() ([]*models.Member, []*models.Invoice) {
	members, invoices := cleanFixtures()
	// M-004 shares M-001's household account but is a different person
	members = append(members, fixtureMember("M-004", "Piet", "Jansen", "piet@other.net", "NL91ABNA0417164300"))
	invoices = append(invoices, fixtureInvoice("INV-004", "M-004", 18.00))
	return members, invoices
}

func createRequest() CreateBatchRequest {
	return CreateBatchRequest{
		CollectionDate: day("2025-03-01"),
		Currency:       "EUR",
		Filters: eligibility.Filters{
			DateFrom: day("2025-01-01"),
			DateTo:   day("2025-12-31"),
		},
	}
}

func mustCreate(t *testing.T, svc *Service) *models.Batch {
	t.Helper()
	batch, err := svc.CreateBatch(context.Background(), createRequest())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	return batch
}

func TestCreateBatch(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	if batch.Status != models.BatchStatusDraft {
		t.Errorf("New batches start in Draft, got %s", batch.Status)
	}
	if batch.EntryCount() != 2 {
		t.Errorf("Expected 2 entries, got %d", batch.EntryCount())
	}
	if !batch.TotalAmount().Equal(decimal.NewFromFloat(37.50)) {
		t.Errorf("Expected total 37.50, got %s", batch.TotalAmount())
	}
	if len(batch.Conflicts) != 0 {
		t.Errorf("Expected no conflicts for distinct members, got %d", len(batch.Conflicts))
	}
	if len(batch.Log) == 0 {
		t.Error("Expected a batch log line on creation")
	}
}

func TestCreateBatch_DetectsDuplicates(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	if len(batch.Conflicts) == 0 {
		t.Fatal("Expected duplicate conflicts")
	}
	foundHigh := false
	for _, conflict := range batch.Conflicts {
		if conflict.Severity == models.SeverityHigh {
			foundHigh = true
		}
		if conflict.Resolution != models.ResolutionUnresolved {
			t.Errorf("New conflicts start unresolved, got %s", conflict.Resolution)
		}
	}
	if !foundHigh {
		t.Error("Identical records must produce a high severity conflict")
	}
}

func TestAdvanceBatch_BlockedByConflicts(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	_, err := svc.AdvanceBatch(batch.ID, models.BatchStatusGenerated)
	if err == nil {
		t.Fatal("Expected generation to be blocked by unresolved conflicts")
	}
	if !errors.IsCategory(err, errors.CategoryConflict) {
		t.Errorf("Expected conflict category, got %v", err)
	}

	// The failed attempt must not partially transition
	detail, getErr := svc.GetBatch(batch.ID)
	if getErr != nil {
		t.Fatalf("GetBatch failed: %v", getErr)
	}
	if detail.Batch.Status != models.BatchStatusDraft {
		t.Errorf("Batch must stay in Draft, got %s", detail.Batch.Status)
	}
}

func TestAdvanceBatch_BlockedByInvalidEntries(t *testing.T) {
	members, invoices := cleanFixtures()
	invoices[0].MandateReference = ""
	svc := newTestService(members, invoices)
	batch := mustCreate(t, svc)

	_, err := svc.AdvanceBatch(batch.ID, models.BatchStatusGenerated)
	engineErr, ok := errors.AsEngineError(err)
	if !ok || engineErr.Code != errors.CodeEntriesNotValid {
		t.Fatalf("Expected entries_not_valid guard violation, got %v", err)
	}

	// An explicit override unblocks the entry
	if err := svc.RecordEntryOverride(batch.ID, "INV-001", "operator", "mandate on paper file"); err != nil {
		t.Fatalf("RecordEntryOverride failed: %v", err)
	}
	if _, err := svc.AdvanceBatch(batch.ID, models.BatchStatusGenerated); err != nil {
		t.Fatalf("Expected generation after override, got %v", err)
	}
}

func TestAdvanceBatch_IllegalTransitions(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	for _, target := range []models.BatchStatus{
		models.BatchStatusSubmitted,
		models.BatchStatusProcessed,
		models.BatchStatusFailed,
	} {
		_, err := svc.AdvanceBatch(batch.ID, target)
		engineErr, ok := errors.AsEngineError(err)
		if !ok || engineErr.Code != errors.CodeIllegalTransition {
			t.Errorf("Draft -> %s: expected illegal_transition, got %v", target, err)
		}
	}
}

func TestAdvanceBatch_SameStateIsNoOp(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	status, err := svc.AdvanceBatch(batch.ID, models.BatchStatusDraft)
	if err != nil || status != models.BatchStatusDraft {
		t.Errorf("Advancing to the current status must be a no-op, got %s, %v", status, err)
	}
}

func TestAdvanceBatch_RequiresFileForSubmission(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	if _, err := svc.AdvanceBatch(batch.ID, models.BatchStatusGenerated); err != nil {
		t.Fatalf("AdvanceBatch to Generated failed: %v", err)
	}

	_, err := svc.AdvanceBatch(batch.ID, models.BatchStatusSubmitted)
	engineErr, ok := errors.AsEngineError(err)
	if !ok || engineErr.Code != errors.CodeFileNotGenerated {
		t.Fatalf("Expected file_not_generated guard violation, got %v", err)
	}

	if err := svc.NotifyFileGenerated(batch.ID, "SEPA-2025-03-01.xml"); err != nil {
		t.Fatalf("NotifyFileGenerated failed: %v", err)
	}
	if _, err := svc.AdvanceBatch(batch.ID, models.BatchStatusSubmitted); err != nil {
		t.Fatalf("Expected submission after file notification, got %v", err)
	}
}

func submitBatch(t *testing.T, svc *Service, batchID string) {
	t.Helper()
	if _, err := svc.AdvanceBatch(batchID, models.BatchStatusGenerated); err != nil {
		t.Fatalf("AdvanceBatch to Generated failed: %v", err)
	}
	if err := svc.NotifyFileGenerated(batchID, "SEPA-FILE.xml"); err != nil {
		t.Fatalf("NotifyFileGenerated failed: %v", err)
	}
	if _, err := svc.AdvanceBatch(batchID, models.BatchStatusSubmitted); err != nil {
		t.Fatalf("AdvanceBatch to Submitted failed: %v", err)
	}
}

func TestRecordSettlement_AllSuccessful(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)
	submitBatch(t, svc, batch.ID)

	feedback := models.SettlementFeedback{
		BatchID: batch.ID,
		Results: []models.EntryResult{
			{InvoiceID: "INV-001", Status: models.EntryStatusSuccessful},
			{InvoiceID: "INV-002", Status: models.EntryStatusSuccessful},
		},
	}

	status, err := svc.RecordSettlement(feedback)
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
	if status != models.BatchStatusProcessed {
		t.Errorf("Expected Processed, got %s", status)
	}

	// Recording the same feedback again changes nothing
	detailBefore, _ := svc.GetBatch(batch.ID)
	logLines := len(detailBefore.Batch.Log)

	status, err = svc.RecordSettlement(feedback)
	if err != nil || status != models.BatchStatusProcessed {
		t.Errorf("Repeated settlement must be a no-op, got %s, %v", status, err)
	}
	detailAfter, _ := svc.GetBatch(batch.ID)
	if len(detailAfter.Batch.Log) != logLines {
		t.Errorf("Repeated settlement wrote %d extra log lines",
			len(detailAfter.Batch.Log)-logLines)
	}
}

func TestRecordSettlement_PartialFailure(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)
	submitBatch(t, svc, batch.ID)

	status, err := svc.RecordSettlement(models.SettlementFeedback{
		BatchID: batch.ID,
		Results: []models.EntryResult{
			{InvoiceID: "INV-001", Status: models.EntryStatusSuccessful},
			{InvoiceID: "INV-002", Status: models.EntryStatusFailed, ResultCode: "AM04", ResultMessage: "insufficient funds"},
		},
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
	if status != models.BatchStatusFailed {
		t.Errorf("A failed entry must fail the batch, got %s", status)
	}

	detail, _ := svc.GetBatch(batch.ID)
	for _, entry := range detail.Batch.Entries {
		if entry.InvoiceID == "INV-002" && entry.ResultCode != "AM04" {
			t.Errorf("Expected result code on the failed entry, got %q", entry.ResultCode)
		}
	}
}

func TestRecordSettlement_PartialFeedbackKeepsSubmitted(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)
	submitBatch(t, svc, batch.ID)

	status, err := svc.RecordSettlement(models.SettlementFeedback{
		BatchID: batch.ID,
		Results: []models.EntryResult{
			{InvoiceID: "INV-001", Status: models.EntryStatusSuccessful},
		},
	})
	if err != nil {
		t.Fatalf("RecordSettlement failed: %v", err)
	}
	if status != models.BatchStatusSubmitted {
		t.Errorf("Batch with pending entries must stay Submitted, got %s", status)
	}
}

func TestApplyResolutions(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	var mediumID string
	for _, conflict := range batch.Conflicts {
		if conflict.Severity == models.SeverityMedium {
			mediumID = conflict.ID
		}
	}

	resolutions := map[string]models.Resolution{}
	if mediumID != "" {
		resolutions[mediumID] = models.ResolutionProceed
	}

	result, err := svc.ApplyResolutions(batch.ID, resolutions, "operator")
	if err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got errors %v", result.Errors)
	}

	// High severity conflicts the operator skipped are escalated by the
	// engine itself
	detail, _ := svc.GetBatch(batch.ID)
	for _, conflict := range detail.Batch.Conflicts {
		if conflict.Severity == models.SeverityHigh {
			if conflict.Resolution != models.ResolutionEscalate {
				t.Errorf("High conflict %s not escalated: %s", conflict.ID, conflict.Resolution)
			}
			if conflict.ResolvedBy != SystemActor {
				t.Errorf("Default escalation must carry the system actor, got %s", conflict.ResolvedBy)
			}
		}
	}

	auditBefore := svc.Audit().Len()
	if auditBefore == 0 {
		t.Fatal("Expected audit entries for applied resolutions")
	}

	// The same payload again: same applied count, no new audit entries
	again, err := svc.ApplyResolutions(batch.ID, resolutions, "operator")
	if err != nil {
		t.Fatalf("Second ApplyResolutions failed: %v", err)
	}
	if again.AppliedCount != result.AppliedCount {
		t.Errorf("Idempotent reapply changed applied count: %d vs %d",
			result.AppliedCount, again.AppliedCount)
	}
	if svc.Audit().Len() != auditBefore {
		t.Errorf("Idempotent reapply wrote %d new audit entries", svc.Audit().Len()-auditBefore)
	}
}

func TestApplyResolutions_RejectsChangingDecision(t *testing.T) {
	svc := newTestService(sharedAccountFixtures())
	batch := mustCreate(t, svc)

	var mediumID string
	for _, conflict := range batch.Conflicts {
		if conflict.Severity == models.SeverityMedium {
			mediumID = conflict.ID
			break
		}
	}
	if mediumID == "" {
		t.Fatal("fixture produced no medium conflict")
	}

	if _, err := svc.ApplyResolutions(batch.ID,
		map[string]models.Resolution{mediumID: models.ResolutionProceed}, "operator"); err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}

	result, err := svc.ApplyResolutions(batch.ID,
		map[string]models.Resolution{mediumID: models.ResolutionExclude}, "operator")
	if err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}
	if result.Success || len(result.Errors) != 1 {
		t.Fatalf("Changing a final decision must fail, got %+v", result)
	}
	if result.Errors[0].Code != errors.CodeResolutionFinal {
		t.Errorf("Expected resolution_final, got %s", result.Errors[0].Code)
	}
}

func TestApplyResolutions_HighRequiresEscalation(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	var highID string
	for _, conflict := range batch.Conflicts {
		if conflict.Severity == models.SeverityHigh {
			highID = conflict.ID
			break
		}
	}
	if highID == "" {
		t.Fatal("fixture produced no high conflict")
	}

	result, err := svc.ApplyResolutions(batch.ID,
		map[string]models.Resolution{highID: models.ResolutionProceed}, "operator")
	if err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}
	if result.Success {
		t.Fatal("Proceeding on a high severity conflict must fail")
	}
	if result.Errors[0].Code != errors.CodeEscalatedConflicts {
		t.Errorf("Expected escalated_conflicts code, got %s", result.Errors[0].Code)
	}
}

func TestApplyResolutions_UnknownConflictAndDecision(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	conflictID := batch.Conflicts[0].ID
	result, err := svc.ApplyResolutions(batch.ID, map[string]models.Resolution{
		"no-such-conflict": models.ResolutionProceed,
		conflictID:         models.Resolution("approve"),
	}, "operator")
	if err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("Expected 2 errors, got %v", result.Errors)
	}

	summary := errors.NewErrorSummary(result.Errors)
	if !summary.HasCategory(errors.CategoryNotFound) || !summary.HasCategory(errors.CategoryConflict) {
		t.Errorf("Unexpected error categories: %v", summary.ByCategory)
	}
}

func TestEscalate(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	conflictID := batch.Conflicts[0].ID
	auditIDs, err := svc.Escalate(batch.ID, []string{conflictID}, "supervisor")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if len(auditIDs) != 1 || auditIDs[0] == "" {
		t.Fatalf("Expected one audit entry id, got %v", auditIDs)
	}

	// Escalating again is a no-op
	auditIDs, err = svc.Escalate(batch.ID, []string{conflictID}, "supervisor")
	if err != nil {
		t.Fatalf("Repeated Escalate failed: %v", err)
	}
	if len(auditIDs) != 0 {
		t.Errorf("Repeated escalation must write no audit entries, got %v", auditIDs)
	}

	trail, err := svc.AuditTrail(batch.ID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(trail))
	}
	if trail[0].Actor != "supervisor" || trail[0].Decision != string(models.ResolutionEscalate) {
		t.Errorf("Unexpected audit entry: %+v", trail[0])
	}
}

func TestReevaluateBatch_DiscardsResolutions(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	if _, err := svc.ApplyResolutions(batch.ID, nil, "operator"); err != nil {
		t.Fatalf("ApplyResolutions failed: %v", err)
	}

	if err := svc.ReevaluateBatch(context.Background(), batch.ID); err != nil {
		t.Fatalf("ReevaluateBatch failed: %v", err)
	}

	detail, _ := svc.GetBatch(batch.ID)
	for _, conflict := range detail.Batch.Conflicts {
		if conflict.Resolution != models.ResolutionUnresolved {
			t.Errorf("Re-evaluation must discard resolutions, got %s", conflict.Resolution)
		}
	}
}

func TestGetBatch_MasksIBANs(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	detail, err := svc.GetBatch(batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}

	for _, entry := range detail.Batch.Entries {
		if !strings.Contains(entry.IBAN, "****") {
			t.Errorf("Entry IBAN not masked: %s", entry.IBAN)
		}
	}
	if detail.Batch.Entries[0].IBAN != "NL91****4300" {
		t.Errorf("Unexpected mask: %s", detail.Batch.Entries[0].IBAN)
	}

	// Masking the view must not touch the stored batch
	again, _ := svc.GetBatch(batch.ID)
	if again.Batch.Entries[0].IBAN != "NL91****4300" {
		t.Errorf("Stored IBAN was corrupted by masking: %s", again.Batch.Entries[0].IBAN)
	}
}

func TestGetBatch_AnalysisAndRisk(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	detail, err := svc.GetBatch(batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}

	if detail.Risk.Level != models.RiskMedium {
		t.Errorf("Conflicts alone score medium, got %s (%.2f)", detail.Risk.Level, detail.Risk.Score)
	}
	if detail.Analysis.ConflictsBySeverity[models.SeverityHigh] == 0 {
		t.Error("Expected high severity conflicts in the analysis")
	}
	if len(detail.Analysis.Issues) == 0 {
		t.Error("Expected blocking conflicts to surface as issues")
	}
}

func TestListBatches(t *testing.T) {
	svc := newTestService(cleanFixtures())
	first := mustCreate(t, svc)
	second := mustCreate(t, svc)

	all := svc.ListBatches(ListFilters{})
	if len(all) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(all))
	}

	if _, err := svc.AdvanceBatch(first.ID, models.BatchStatusGenerated); err != nil {
		t.Fatalf("AdvanceBatch failed: %v", err)
	}

	drafts := svc.ListBatches(ListFilters{Status: models.BatchStatusDraft})
	if len(drafts) != 1 || drafts[0].ID != second.ID {
		t.Errorf("Expected only the second batch in Draft, got %+v", drafts)
	}

	lowRisk := svc.ListBatches(ListFilters{RiskLevel: models.RiskLow})
	if len(lowRisk) != 2 {
		t.Errorf("Expected both batches at low risk, got %d", len(lowRisk))
	}
}

func TestGetConflicts_GroupedBySeverity(t *testing.T) {
	svc := newTestService(duplicateFixtures())
	batch := mustCreate(t, svc)

	report, err := svc.GetConflicts(batch.ID)
	if err != nil {
		t.Fatalf("GetConflicts failed: %v", err)
	}
	if len(report.High) == 0 {
		t.Error("Expected high severity conflicts")
	}
	if report.Blocking != len(batch.Conflicts) {
		t.Errorf("All unresolved conflicts block, expected %d got %d",
			len(batch.Conflicts), report.Blocking)
	}
}

func TestUnknownBatch(t *testing.T) {
	svc := newTestService(cleanFixtures())

	if _, err := svc.GetBatch("no-such-batch"); !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
	if _, err := svc.AdvanceBatch("no-such-batch", models.BatchStatusGenerated); !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
	if _, err := svc.ApplyResolutions("no-such-batch", nil, "operator"); !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestConcurrentAdvanceIsSerialized(t *testing.T) {
	svc := newTestService(cleanFixtures())
	batch := mustCreate(t, svc)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := svc.AdvanceBatch(batch.ID, models.BatchStatusGenerated)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent advance failed: %v", err)
		}
	}

	detail, _ := svc.GetBatch(batch.ID)
	if detail.Batch.Status != models.BatchStatusGenerated {
		t.Errorf("Expected Generated, got %s", detail.Batch.Status)
	}

	// Exactly one status change despite eight attempts
	changes := 0
	for _, line := range detail.Batch.Log {
		if strings.Contains(line.Message, "status changed") {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("Expected exactly 1 status change log line, got %d", changes)
	}
}
