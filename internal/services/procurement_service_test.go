// internal/services/procurement_service_test.go
package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/license-desk/internal/models"
)

// approvedItem submits a one-item request for the employee and approves it.
func (suite *WorkflowTestSuite) approvedItem(item SubmitRequestItem) (*models.Request, *models.RequestItem) {
	request := suite.submit(suite.employee, item)
	suite.approveAll(&request.Items[0])
	return request, suite.reloadItem(request.Items[0].ID)
}

// purchased drives a procurement for item up to an uploaded proof.
func (suite *WorkflowTestSuite) purchased(item *models.RequestItem, name string, quantity int) *models.ProcurementRequest {
	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID,
		ItemName:      name,
		Vendor:        "Acme",
		Price:         120,
		Quantity:      quantity,
	})
	suite.Require().NoError(err)

	_, err = suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusApproved)})
	suite.Require().NoError(err)

	_, err = suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		[]ProofFile{proofFile("receipt.pdf", "application/pdf")})
	suite.Require().NoError(err)
	return procurement
}

func (suite *WorkflowTestSuite) TestProcurementReplenishesLinkedLicense() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	request, item := suite.approvedItem(licenseItem(license))

	report, err := suite.svc.Licenses.NeedsPurchase(suite.ctx, item.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), report.NeedsPurchase)

	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID,
		ItemName:      "Jira seats",
		Price:         100,
		Quantity:      2,
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 200.0, procurement.TotalCost)
	suite.Require().NotNil(procurement.FinanceApproverID)
	assert.Equal(suite.T(), suite.financeManager.ID, *procurement.FinanceApproverID)
	assert.Equal(suite.T(), models.ItemStatusPurchasing, suite.reloadItem(item.ID).Status)

	decided, err := suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusApproved)})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.PurchaseStatusInProgress, decided.PurchaseStatus)

	uploaded, err := suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		[]ProofFile{proofFile("receipt.pdf", "application/pdf"), proofFile("invoice.png", "image/png")})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.PurchaseStatusPurchased, uploaded.PurchaseStatus)
	assert.Len(suite.T(), uploaded.Attachments, 2)
	assert.Equal(suite.T(), 2, suite.store.count())

	accepted, err := suite.svc.Procurements.AcceptProof(suite.ctx, actorOf(suite.financeManager), procurement.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.ProcurementStatusCompleted, accepted.Status)
	assert.Equal(suite.T(), models.PurchaseStatusCompleted, accepted.PurchaseStatus)

	assert.Equal(suite.T(), 2, suite.reloadLicense(license.ID).TotalSeats)
	reentered := suite.reloadItem(item.ID)
	assert.Equal(suite.T(), models.ItemStatusPending, reentered.Status)
	suite.Require().NotNil(reentered.ReenteredAt)
	assert.Equal(suite.T(), models.RequestStatusPending, suite.reloadRequest(request.ID).Status)

	// Seats exist but no key was registered yet.
	_, err = suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgManager), &AutoAssignRequest{RequestItemID: item.ID})
	assert.ErrorIs(suite.T(), err, ErrNoAvailableKeys)

	_, err = suite.svc.Licenses.AddKeys(suite.ctx, actorOf(suite.itsgManager), license.ID, &AddKeysRequest{Keys: []string{"JIRA-1", "JIRA-2"}})
	suite.Require().NoError(err)

	assignment, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgManager), &AutoAssignRequest{RequestItemID: item.ID})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), suite.employee.ID, assignment.UserID)
	assert.Equal(suite.T(), models.ItemStatusAssigning, suite.reloadItem(item.ID).Status)
	assert.Equal(suite.T(), models.RequestStatusAssigning, suite.reloadRequest(request.ID).Status)

	suite.dispatch()
	assert.Len(suite.T(), suite.notificationsFor(suite.employee, NotificationProcurementCompleted), 1)
	assert.Len(suite.T(), suite.notificationsFor(suite.itsgLead, NotificationProofUploaded), 0)
}

func (suite *WorkflowTestSuite) TestAcceptProofLinksOtherItemToNewLicense() {
	_, item := suite.approvedItem(SubmitRequestItem{
		Type:                 models.ItemTypeOther,
		RequestedLicenseName: "Sketch",
		RequestedVendor:      "Bohemian",
		Justification:        "Design reviews",
	})
	procurement := suite.purchased(item, "Sketch", 3)

	var before int64
	suite.Require().NoError(suite.db.Model(&models.License{}).Count(&before).Error)

	_, err := suite.svc.Procurements.AcceptProof(suite.ctx, actorOf(suite.financeManager), procurement.ID)
	suite.Require().NoError(err)

	var after int64
	suite.Require().NoError(suite.db.Model(&models.License{}).Count(&after).Error)
	assert.Equal(suite.T(), before+1, after)

	relinked := suite.reloadItem(item.ID)
	assert.Equal(suite.T(), models.ItemTypeLicense, relinked.Type)
	suite.Require().NotNil(relinked.LicenseID)
	assert.Equal(suite.T(), models.ItemStatusPending, relinked.Status)

	license := suite.reloadLicense(*relinked.LicenseID)
	assert.Equal(suite.T(), "Sketch", license.Name)
	assert.Equal(suite.T(), 3, license.TotalSeats)
	assert.Equal(suite.T(), "ITSG", license.Owner)
	assert.Equal(suite.T(), models.LicenseTypeSeatBased, license.Type)
	suite.Require().NotNil(license.ExpiryDate)
	assert.True(suite.T(), license.ExpiryDate.Equal(testNow.AddDate(1, 0, 0)), "expiry %s", license.ExpiryDate)

	suite.dispatch()
	logs, err := suite.svc.Audit.ListForEntity(suite.ctx, AuditEntityRequestItem, item.ID)
	suite.Require().NoError(err)
	suite.Require().Len(logs, 1)
	assert.Equal(suite.T(), "RELINKED", logs[0].Action)
}

func (suite *WorkflowTestSuite) TestProcuredLicenseExpiresOnSameCalendarDay() {
	_, item := suite.approvedItem(SubmitRequestItem{
		Type:                 models.ItemTypeOther,
		RequestedLicenseName: "Figma",
		RequestedVendor:      "Figma",
		Justification:        "Prototyping",
	})
	procurement := suite.purchased(item, "Figma", 1)

	// 2027-03-01 plus one year crosses 2028-02-29.
	purchasedAt := time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC)
	license, err := suite.svc.Procurements.createProcuredLicense(suite.db, actorOf(suite.financeManager), item, procurement, purchasedAt)
	suite.Require().NoError(err)
	suite.Require().NotNil(license.ExpiryDate)
	assert.Equal(suite.T(), time.Date(2028, 3, 1, 9, 0, 0, 0, time.UTC), license.ExpiryDate.UTC())
}

func (suite *WorkflowTestSuite) TestProcurementRejectionDeniesItem() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	request, item := suite.approvedItem(licenseItem(license))

	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	suite.Require().NoError(err)

	_, err = suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	assert.ErrorIs(suite.T(), err, ErrDuplicateProcurement)

	_, err = suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.itsgLead), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusRejected)})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	rejected, err := suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusRejected), Remarks: "not this quarter"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.PurchaseStatusClosed, rejected.PurchaseStatus)
	assert.Equal(suite.T(), "not this quarter", rejected.RejectionReason)

	assert.Equal(suite.T(), models.ItemStatusDenied, suite.reloadItem(item.ID).Status)
	assert.Equal(suite.T(), models.RequestStatusAssigning, suite.reloadRequest(request.ID).Status)

	_, err = suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusApproved)})
	assert.ErrorIs(suite.T(), err, ErrAlreadyDecided)
}

func (suite *WorkflowTestSuite) TestCreateProcurementRequiresApprovedItem() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	request := suite.submit(suite.employee, licenseItem(license))

	_, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: request.Items[0].ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	assert.ErrorIs(suite.T(), err, ErrInvalidState)

	_, err = suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.employee), &CreateProcurementRequest{
		RequestItemID: request.Items[0].ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	assert.ErrorIs(suite.T(), err, ErrForbidden)
}

func (suite *WorkflowTestSuite) TestUploadProofValidation() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	_, item := suite.approvedItem(licenseItem(license))

	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	suite.Require().NoError(err)

	_, err = suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		[]ProofFile{proofFile("receipt.pdf", "application/pdf")})
	assert.ErrorIs(suite.T(), err, ErrInvalidState)

	_, err = suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusApproved)})
	suite.Require().NoError(err)

	tests := []struct {
		name  string
		files []ProofFile
		want  error
	}{
		{"no files", nil, ErrValidation},
		{"executable", []ProofFile{proofFile("setup.exe", "application/octet-stream")}, ErrInvalidFile},
		{"mismatched content type", []ProofFile{proofFile("receipt.pdf", "image/png")}, ErrInvalidFile},
		{"too many files", []ProofFile{
			proofFile("a.pdf", "application/pdf"),
			proofFile("b.pdf", "application/pdf"),
			proofFile("c.pdf", "application/pdf"),
			proofFile("d.pdf", "application/pdf"),
		}, ErrTooManyAttachments},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.financeManager), procurement.ID, tt.files)
			assert.ErrorIs(suite.T(), err, tt.want)
		})
	}
	assert.Equal(suite.T(), 0, suite.store.count())

	_, err = suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.employee), procurement.ID,
		[]ProofFile{proofFile("receipt.pdf", "application/pdf")})
	assert.ErrorIs(suite.T(), err, ErrForbidden)
}

func (suite *WorkflowTestSuite) TestUploadProofRemovesStoredFilesOnFailure() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	_, item := suite.approvedItem(licenseItem(license))

	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	suite.Require().NoError(err)
	_, err = suite.svc.Procurements.DecideProcurement(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		&DecideProcurementRequest{Decision: string(models.ProcurementStatusApproved)})
	suite.Require().NoError(err)

	suite.store.failAt = 2
	_, err = suite.svc.Procurements.UploadProof(suite.ctx, actorOf(suite.financeManager), procurement.ID,
		[]ProofFile{proofFile("receipt.pdf", "application/pdf"), proofFile("invoice.pdf", "application/pdf")})
	suite.Require().Error(err)

	assert.Equal(suite.T(), 0, suite.store.count())
	assert.Len(suite.T(), suite.store.deleted, 1)

	var attachments int64
	suite.Require().NoError(suite.db.Model(&models.ProcurementAttachment{}).Count(&attachments).Error)
	assert.Zero(suite.T(), attachments)

	reloaded, err := suite.svc.Procurements.GetProcurement(suite.ctx, actorOf(suite.itsgLead), procurement.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.PurchaseStatusInProgress, reloaded.PurchaseStatus)
}

func (suite *WorkflowTestSuite) TestAcceptProofRequiresPurchase() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 0)
	_, item := suite.approvedItem(licenseItem(license))

	procurement, err := suite.svc.Procurements.CreateProcurement(suite.ctx, actorOf(suite.itsgLead), &CreateProcurementRequest{
		RequestItemID: item.ID, ItemName: "Jira seats", Price: 10, Quantity: 1,
	})
	suite.Require().NoError(err)

	_, err = suite.svc.Procurements.AcceptProof(suite.ctx, actorOf(suite.financeManager), procurement.ID)
	assert.ErrorIs(suite.T(), err, ErrInvalidState)

	_, err = suite.svc.Procurements.AcceptProof(suite.ctx, actorOf(suite.financeManager), uuid.New())
	assert.ErrorIs(suite.T(), err, ErrProcurementNotFound)
}
