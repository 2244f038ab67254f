// internal/services/approval_service_test.go
package services

import (
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
)

func (suite *WorkflowTestSuite) TestSubmitCreatesApprovalChain() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeSeatBased, 5)

	result, err := suite.svc.Requests.SubmitRequest(suite.ctx, actorOf(suite.employee), &SubmitRequestInput{
		Items: []SubmitRequestItem{licenseItem(license)},
	})
	suite.Require().NoError(err)
	assert.Empty(suite.T(), result.Warnings)

	request := suite.reloadRequest(result.Request.ID)
	assert.Equal(suite.T(), models.RequestStatusPending, request.Status)

	suite.Require().Len(result.Request.Items, 1)
	item := suite.reloadItem(result.Request.Items[0].ID)
	assert.Equal(suite.T(), models.ItemStatusPending, item.Status)
	suite.Require().Len(item.Approvals, 3)

	levels := map[models.ApprovalLevel]bool{}
	approvers := map[string]bool{}
	for _, approval := range item.Approvals {
		assert.Equal(suite.T(), models.ApprovalStatusPending, approval.Status)
		levels[approval.Level] = true
		approvers[approval.ApproverID.String()] = true
	}
	assert.True(suite.T(), levels[models.ApprovalLevelITSG])
	assert.True(suite.T(), levels[models.ApprovalLevelManager])
	assert.True(suite.T(), levels[models.ApprovalLevelOwner])
	assert.True(suite.T(), approvers[suite.itsgLead.ID.String()])
	assert.True(suite.T(), approvers[suite.manager.ID.String()])
	assert.True(suite.T(), approvers[suite.sreLead.ID.String()])

	suite.dispatch()
	assert.Len(suite.T(), suite.notificationsFor(suite.sreLead, NotificationApprovalRequested), 1)
}

func (suite *WorkflowTestSuite) TestSubmitSkipsManagerApprovalForManagers() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)

	request := suite.submit(suite.manager, licenseItem(license))

	item := suite.reloadItem(request.Items[0].ID)
	suite.Require().Len(item.Approvals, 1)
	assert.Equal(suite.T(), models.ApprovalLevelITSG, item.Approvals[0].Level)
	assert.Equal(suite.T(), suite.itsgLead.ID, item.Approvals[0].ApproverID)
}

func (suite *WorkflowTestSuite) TestSubmitWarnsWhenApproversMissing() {
	license := suite.createLicense("Datadog", "QA", models.LicenseTypeSeatBased, 5)
	loner := suite.createUser("Lou Loner", models.RoleEmployee, "QA", nil)

	result, err := suite.svc.Requests.SubmitRequest(suite.ctx, actorOf(loner), &SubmitRequestInput{
		Items: []SubmitRequestItem{licenseItem(license)},
	})
	suite.Require().NoError(err)

	assert.Len(suite.T(), result.Warnings, 2)
	item := suite.reloadItem(result.Request.Items[0].ID)
	suite.Require().Len(item.Approvals, 1)
	assert.Equal(suite.T(), suite.itsgLead.ID, item.Approvals[0].ApproverID)
}

func (suite *WorkflowTestSuite) TestSubmitValidation() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)

	tests := []struct {
		name  string
		input *SubmitRequestInput
		want  error
	}{
		{"no items", &SubmitRequestInput{}, ErrValidation},
		{"too many items", &SubmitRequestInput{Items: []SubmitRequestItem{
			licenseItem(license), licenseItem(license), licenseItem(license), licenseItem(license),
		}}, ErrValidation},
		{"blank justification", &SubmitRequestInput{Items: []SubmitRequestItem{{
			Type: models.ItemTypeLicense, LicenseID: &license.ID, Justification: "   ",
		}}}, ErrJustificationNeeded},
		{"other without a name", &SubmitRequestInput{Items: []SubmitRequestItem{{
			Type: models.ItemTypeOther, Justification: "Design work",
		}}}, ErrValidation},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Requests.SubmitRequest(suite.ctx, actorOf(suite.employee), tt.input)
			assert.ErrorIs(suite.T(), err, tt.want)
		})
	}
}

func (suite *WorkflowTestSuite) TestSequentialApprovalsReachAssigning() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	item := &request.Items[0]

	result := suite.decide(item, suite.itsgLead, models.ApprovalStatusApproved, "")
	assert.Equal(suite.T(), models.ItemStatusReviewing, result.ItemStatus)
	assert.Equal(suite.T(), models.RequestStatusReviewing, result.RequestStatus)
	assert.True(suite.T(), result.RequestChanged)

	result = suite.decide(item, suite.manager, models.ApprovalStatusApproved, "")
	assert.Equal(suite.T(), models.ItemStatusReviewing, result.ItemStatus)
	assert.Equal(suite.T(), models.RequestStatusReviewing, result.RequestStatus)
	assert.False(suite.T(), result.RequestChanged)

	result = suite.decide(item, suite.sreLead, models.ApprovalStatusApproved, "")
	assert.Equal(suite.T(), models.ItemStatusApproved, result.ItemStatus)
	assert.Equal(suite.T(), models.RequestStatusAssigning, result.RequestStatus)
	assert.True(suite.T(), result.RequestChanged)

	assert.Equal(suite.T(), models.ItemStatusApproved, suite.reloadItem(item.ID).Status)
	assert.Equal(suite.T(), models.RequestStatusAssigning, suite.reloadRequest(request.ID).Status)
}

func (suite *WorkflowTestSuite) TestOwnerDenialNotifiesRequestorOnce() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	item := &request.Items[0]

	result := suite.decide(item, suite.sreLead, models.ApprovalStatusDenied, "budget")
	assert.Equal(suite.T(), models.ItemStatusDenied, result.ItemStatus)
	assert.Equal(suite.T(), models.RequestStatusAssigning, result.RequestStatus)

	suite.dispatch()

	changes := suite.notificationsFor(suite.employee, NotificationRequestStatusChanged)
	suite.Require().Len(changes, 1)
	assert.Equal(suite.T(), "budget", changes[0].Payload["reason"])
	assert.Equal(suite.T(), string(models.RequestStatusAssigning), changes[0].Payload["status"])
	assert.Equal(suite.T(), "https://desk.example.com/requests/"+request.ID.String(), changes[0].URL)

	logs, err := suite.svc.Audit.ListForEntity(suite.ctx, AuditEntityRequest, request.ID)
	suite.Require().NoError(err)
	actions := make([]string, 0, len(logs))
	for _, log := range logs {
		actions = append(actions, log.Action)
	}
	assert.Contains(suite.T(), actions, "STATUS_CHANGED")
}

func (suite *WorkflowTestSuite) TestDenyRequiresReason() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	item := suite.reloadItem(request.Items[0].ID)

	var approvalID = item.Approvals[0].ID
	approver := item.Approvals[0].ApproverID
	var user models.User
	suite.Require().NoError(suite.db.First(&user, "id = ?", approver).Error)

	_, err := suite.svc.Approvals.ProcessApprovalDecision(suite.ctx, actorOf(&user), item.ID, approvalID,
		&ApprovalDecisionRequest{Decision: string(models.ApprovalStatusDenied), Reason: "  "})
	assert.ErrorIs(suite.T(), err, ErrReasonRequired)
}

func (suite *WorkflowTestSuite) TestDecisionByOtherUserIsRejected() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	item := suite.reloadItem(request.Items[0].ID)

	_, err := suite.svc.Approvals.ProcessApprovalDecision(suite.ctx, actorOf(suite.employee), item.ID, item.Approvals[0].ID,
		&ApprovalDecisionRequest{Decision: string(models.ApprovalStatusApproved)})
	assert.ErrorIs(suite.T(), err, ErrNotAuthorized)
}

func (suite *WorkflowTestSuite) TestRedecidingApprovalIsRejectedWithoutSideEffects() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	item := &request.Items[0]

	suite.decide(item, suite.itsgLead, models.ApprovalStatusApproved, "")
	before := suite.outboxCount()

	var approval models.Approval
	suite.Require().NoError(suite.db.First(&approval, "request_item_id = ? AND approver_id = ?", item.ID, suite.itsgLead.ID).Error)
	_, err := suite.svc.Approvals.ProcessApprovalDecision(suite.ctx, actorOf(suite.itsgLead), item.ID, approval.ID,
		&ApprovalDecisionRequest{Decision: string(models.ApprovalStatusDenied), Reason: "changed my mind"})
	assert.ErrorIs(suite.T(), err, ErrAlreadyProcessed)

	assert.Equal(suite.T(), before, suite.outboxCount())
	suite.Require().NoError(suite.db.First(&approval, "id = ?", approval.ID).Error)
	assert.Equal(suite.T(), models.ApprovalStatusApproved, approval.Status)
}

func (suite *WorkflowTestSuite) TestRecomputeParentIsIdempotent() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.Require().NoError(suite.db.Model(&models.RequestItem{}).
		Where("id = ?", request.Items[0].ID).
		Update("status", models.ItemStatusApproved).Error)

	core := suite.svc.Approvals.workflowCore
	err := suite.db.Transaction(func(tx *gorm.DB) error {
		first, err := core.recomputeParent(tx, request.ID, actorOf(suite.itsgLead), "")
		if err != nil {
			return err
		}
		assert.True(suite.T(), first.Changed)
		assert.Equal(suite.T(), models.RequestStatusPending, first.Previous)
		assert.Equal(suite.T(), models.RequestStatusAssigning, first.Request.Status)

		second, err := core.recomputeParent(tx, request.ID, actorOf(suite.itsgLead), "")
		if err != nil {
			return err
		}
		assert.False(suite.T(), second.Changed)
		return nil
	})
	suite.Require().NoError(err)

	suite.dispatch()
	assert.Len(suite.T(), suite.notificationsFor(suite.employee, NotificationRequestStatusChanged), 1)
}

func (suite *WorkflowTestSuite) TestRecomputeParentReportsMissingRequest() {
	core := suite.svc.Approvals.workflowCore
	err := suite.db.Transaction(func(tx *gorm.DB) error {
		_, err := core.recomputeParent(tx, suite.owner.ID, nil, "")
		return err
	})
	assert.ErrorIs(suite.T(), err, ErrParentRequestMissing)
}

func (suite *WorkflowTestSuite) TestAddApprover() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))
	itemID := request.Items[0].ID

	_, err := suite.svc.Approvals.AddApprover(suite.ctx, actorOf(suite.employee), itemID,
		&AddApproverRequest{ApproverID: suite.sreLead.ID, Level: string(models.ApprovalLevelOwner)})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	approval, err := suite.svc.Approvals.AddApprover(suite.ctx, actorOf(suite.itsgLead), itemID,
		&AddApproverRequest{ApproverID: suite.sreLead.ID, Level: string(models.ApprovalLevelOwner)})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.ApprovalStatusPending, approval.Status)

	_, err = suite.svc.Approvals.AddApprover(suite.ctx, actorOf(suite.owner), itemID,
		&AddApproverRequest{ApproverID: suite.sreLead.ID, Level: string(models.ApprovalLevelOwner)})
	assert.ErrorIs(suite.T(), err, ErrDuplicateApprover)

	pending, total, err := suite.svc.Approvals.PendingForApprover(suite.ctx, actorOf(suite.sreLead), firstPage)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), total)
	suite.Require().Len(pending, 1)
	assert.Equal(suite.T(), itemID, pending[0].ID)
}

func (suite *WorkflowTestSuite) TestGetRequestVisibility() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)
	request := suite.submit(suite.employee, licenseItem(license))

	got, err := suite.svc.Requests.GetRequest(suite.ctx, actorOf(suite.manager), request.ID)
	suite.Require().NoError(err)
	assert.Len(suite.T(), got.Items, 1)

	_, err = suite.svc.Requests.GetRequest(suite.ctx, actorOf(suite.sreLead), request.ID)
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	_, err = suite.svc.Requests.GetRequest(suite.ctx, actorOf(suite.itsgManager), request.ID)
	assert.NoError(suite.T(), err)

	mine, total, err := suite.svc.Requests.ListMine(suite.ctx, actorOf(suite.employee), RequestSearchParams{PaginationParams: firstPage})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), total)
	assert.Len(suite.T(), mine, 1)
}
