// internal/services/assignment_service_test.go
package services

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/license-desk/internal/models"
)

func (suite *WorkflowTestSuite) TestAutoAssignRejectsSelfAssignment() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusActive, 2)
	request := suite.submit(suite.manager, licenseItem(license))
	item := &request.Items[0]
	suite.approveAll(item)

	_, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.manager), &AutoAssignRequest{RequestItemID: item.ID})
	assert.ErrorIs(suite.T(), err, ErrCannotSelfAssign)

	assignment, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgManager), &AutoAssignRequest{RequestItemID: item.ID})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), suite.manager.ID, assignment.UserID)
	assert.Equal(suite.T(), suite.itsgManager.ID, assignment.AssignedByID)
	assert.Equal(suite.T(), models.KeyStatusAssigned, assignment.LicenseKey.Status)

	assert.Equal(suite.T(), models.ItemStatusAssigning, suite.reloadItem(item.ID).Status)
	assert.Equal(suite.T(), models.RequestStatusAssigning, suite.reloadRequest(request.ID).Status)

	_, err = suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgManager), &AutoAssignRequest{RequestItemID: item.ID})
	assert.ErrorIs(suite.T(), err, ErrInvalidState)

	suite.dispatch()
	assert.Len(suite.T(), suite.notificationsFor(suite.manager, NotificationLicenseAssigned), 1)
	assert.Len(suite.T(), suite.notificationsFor(suite.itsgLead, NotificationLicenseAssigned), 1)
}

func (suite *WorkflowTestSuite) TestAssignRequiresApprovedItem() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusActive, 1)
	request := suite.submit(suite.employee, licenseItem(license))

	_, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgManager), &AutoAssignRequest{RequestItemID: request.Items[0].ID})
	assert.ErrorIs(suite.T(), err, ErrInvalidState)
}

func (suite *WorkflowTestSuite) TestAssignRequiresCapability() {
	license := suite.createLicense("PagerDuty", "SRE", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusActive, 1)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	outsider := suite.createUser("Ola Outsider", models.RoleEmployee, "SALES", nil)
	_, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(outsider), &AutoAssignRequest{RequestItemID: request.Items[0].ID})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	sreEngineer := suite.createUser("Sid Engineer", models.RoleEmployee, "SRE", nil)
	_, err = suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(sreEngineer), &AutoAssignRequest{RequestItemID: request.Items[0].ID})
	assert.NoError(suite.T(), err)
}

func (suite *WorkflowTestSuite) TestManualAssignSeatOnFullLicense() {
	license := suite.createLicense("Figma", "ITSG", models.LicenseTypeSeatBased, 1)
	suite.addKeys(license, models.KeyStatusAssigned, 1)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	_, err := suite.svc.Assignments.ManualAssign(suite.ctx, actorOf(suite.itsgLead), &ManualAssignRequest{
		RequestItemID: request.Items[0].ID,
		Type:          string(models.LicenseTypeSeatBased),
		SeatLink:      "https://figma.example.com/invite/abc",
	})
	assert.ErrorIs(suite.T(), err, ErrNoSeatsAvailable)
}

func (suite *WorkflowTestSuite) TestManualAssignSeatMarksLicenseFull() {
	license := suite.createLicense("Figma", "ITSG", models.LicenseTypeSeatBased, 1)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	assignment, err := suite.svc.Assignments.ManualAssign(suite.ctx, actorOf(suite.itsgLead), &ManualAssignRequest{
		RequestItemID: request.Items[0].ID,
		Type:          string(models.LicenseTypeSeatBased),
		SeatLink:      "https://figma.example.com/invite/abc",
	})
	suite.Require().NoError(err)
	suite.Require().NotNil(assignment.LicenseKey.SeatLink)
	assert.Equal(suite.T(), "https://figma.example.com/invite/abc", *assignment.LicenseKey.SeatLink)
	assert.Equal(suite.T(), models.LicenseStatusFull, suite.reloadLicense(license.ID).Status)
}

func (suite *WorkflowTestSuite) TestManualAssignMismatch() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	keys := suite.addKeys(license, models.KeyStatusActive, 1)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	tests := []struct {
		name string
		req  *ManualAssignRequest
	}{
		{"key type without key", &ManualAssignRequest{RequestItemID: request.Items[0].ID, Type: string(models.LicenseTypeKeyBased)}},
		{"key type with seat link", &ManualAssignRequest{RequestItemID: request.Items[0].ID, Type: string(models.LicenseTypeKeyBased), LicenseKeyID: &keys[0].ID, SeatLink: "https://x"}},
		{"seat type on key license", &ManualAssignRequest{RequestItemID: request.Items[0].ID, Type: string(models.LicenseTypeSeatBased), SeatLink: "https://x"}},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.svc.Assignments.ManualAssign(suite.ctx, actorOf(suite.itsgLead), tt.req)
			assert.ErrorIs(suite.T(), err, ErrAssignmentMismatch)
		})
	}

	assignment, err := suite.svc.Assignments.ManualAssign(suite.ctx, actorOf(suite.itsgLead), &ManualAssignRequest{
		RequestItemID: request.Items[0].ID,
		Type:          string(models.LicenseTypeKeyBased),
		LicenseKeyID:  &keys[0].ID,
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), keys[0].ID, assignment.LicenseKeyID)
}

func (suite *WorkflowTestSuite) TestManualAssignUnavailableKey() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	assigned := suite.addKeys(license, models.KeyStatusAssigned, 1)[0]
	inactive := suite.addKeys(license, models.KeyStatusInactive, 1)[0]
	revoked := suite.addKeys(license, models.KeyStatusRevoked, 1)[0]
	elsewhere := suite.addKeys(suite.createLicense("Slack", "ITSG", models.LicenseTypeKeyBased, 5), models.KeyStatusActive, 1)[0]
	request := suite.submit(suite.employee, licenseItem(license))
	itemID := request.Items[0].ID
	suite.approveAll(&request.Items[0])

	tests := []struct {
		name   string
		key    uuid.UUID
		status models.KeyStatus
	}{
		{"already assigned", assigned.ID, models.KeyStatusAssigned},
		{"inactive", inactive.ID, models.KeyStatusInactive},
		{"revoked", revoked.ID, models.KeyStatusRevoked},
		{"other license", elsewhere.ID, models.KeyStatusActive},
		{"unknown", uuid.New(), ""},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			keyID := tt.key
			_, err := suite.svc.Assignments.ManualAssign(suite.ctx, actorOf(suite.itsgLead), &ManualAssignRequest{
				RequestItemID: itemID,
				Type:          string(models.LicenseTypeKeyBased),
				LicenseKeyID:  &keyID,
			})
			assert.ErrorIs(suite.T(), err, ErrKeyNotFound)
			assert.Equal(suite.T(), models.ItemStatusApproved, suite.reloadItem(itemID).Status)

			if tt.status != "" {
				var key models.LicenseKey
				suite.Require().NoError(suite.db.First(&key, "id = ?", keyID).Error)
				assert.Equal(suite.T(), tt.status, key.Status)
			}
		})
	}

	var assignments int64
	suite.Require().NoError(suite.db.Model(&models.Assignment{}).Where("request_item_id = ?", itemID).Count(&assignments).Error)
	assert.Zero(suite.T(), assignments)
}

func (suite *WorkflowTestSuite) TestAutoAssignWithoutActiveKeys() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusInactive, 2)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	_, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgLead), &AutoAssignRequest{RequestItemID: request.Items[0].ID})
	assert.ErrorIs(suite.T(), err, ErrNoAvailableKeys)
	assert.Equal(suite.T(), models.ItemStatusApproved, suite.reloadItem(request.Items[0].ID).Status)
}

func (suite *WorkflowTestSuite) TestAutoAssignRejectsExpiredLicense() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusActive, 1)
	request := suite.submit(suite.employee, licenseItem(license))
	suite.approveAll(&request.Items[0])

	expired := testNow.AddDate(0, 0, -1)
	suite.Require().NoError(suite.db.Model(&models.License{}).Where("id = ?", license.ID).Update("expiry_date", expired).Error)

	_, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgLead), &AutoAssignRequest{RequestItemID: request.Items[0].ID})
	assert.ErrorIs(suite.T(), err, ErrLicenseExpired)
}

// The test DB has a single connection, so these calls run one after the
// other; the Postgres row lock itself is covered by TestRowLocksOnPostgres.
func (suite *WorkflowTestSuite) TestParallelAutoAssignRespectsSeats() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 1)
	suite.addKeys(license, models.KeyStatusActive, 2)

	first := suite.submit(suite.employee, licenseItem(license))
	other := suite.createUser("Oli Other", models.RoleEmployee, "Engineering", &suite.manager.ID)
	second := suite.submit(other, licenseItem(license))
	suite.approveAll(&first.Items[0])
	suite.approveAll(&second.Items[0])

	itemIDs := []*models.RequestItem{&first.Items[0], &second.Items[0]}
	errs := make([]error, len(itemIDs))
	var wg sync.WaitGroup
	for i, item := range itemIDs {
		wg.Add(1)
		go func(i int, item *models.RequestItem) {
			defer wg.Done()
			_, errs[i] = suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgLead), &AutoAssignRequest{RequestItemID: item.ID})
		}(i, item)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(suite.T(), err, ErrNoSeatsAvailable)
	}
	assert.Equal(suite.T(), 1, succeeded)

	var assigned int64
	suite.Require().NoError(suite.db.Model(&models.LicenseKey{}).
		Where("license_id = ? AND status = ?", license.ID, models.KeyStatusAssigned).
		Count(&assigned).Error)
	assert.LessOrEqual(suite.T(), assigned, int64(license.TotalSeats))
	assert.Equal(suite.T(), models.LicenseStatusFull, suite.reloadLicense(license.ID).Status)
}

func (suite *WorkflowTestSuite) TestConfirmLastSiblingFulfilsRequestOnce() {
	jira := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(jira, models.KeyStatusActive, 2)
	slack := suite.createLicense("Slack", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(slack, models.KeyStatusActive, 2)

	request := suite.submit(suite.employee, licenseItem(jira), licenseItem(slack))
	suite.Require().Len(request.Items, 2)

	var assignments []*models.Assignment
	for i := range request.Items {
		suite.approveAll(&request.Items[i])
		assignment, err := suite.svc.Assignments.AutoAssign(suite.ctx, actorOf(suite.itsgLead), &AutoAssignRequest{RequestItemID: request.Items[i].ID})
		suite.Require().NoError(err)
		assignments = append(assignments, assignment)
	}

	_, err := suite.svc.Assignments.ConfirmReceipt(suite.ctx, actorOf(suite.manager), assignments[0].ID)
	assert.ErrorIs(suite.T(), err, ErrNotAuthorized)

	confirmed, err := suite.svc.Assignments.ConfirmReceipt(suite.ctx, actorOf(suite.employee), assignments[0].ID)
	suite.Require().NoError(err)
	assert.NotNil(suite.T(), confirmed.ConfirmedAt)
	assert.Equal(suite.T(), models.ItemStatusFulfilled, suite.reloadItem(request.Items[0].ID).Status)
	assert.Equal(suite.T(), models.RequestStatusAssigning, suite.reloadRequest(request.ID).Status)

	_, err = suite.svc.Assignments.ConfirmReceipt(suite.ctx, actorOf(suite.employee), assignments[1].ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RequestStatusFulfilled, suite.reloadRequest(request.ID).Status)

	suite.dispatch()
	before := suite.outboxCount()
	fulfilled := 0
	for _, n := range suite.notificationsFor(suite.employee, NotificationRequestStatusChanged) {
		if n.Payload["status"] == string(models.RequestStatusFulfilled) {
			fulfilled++
		}
	}
	assert.Equal(suite.T(), 1, fulfilled)

	_, err = suite.svc.Assignments.ConfirmReceipt(suite.ctx, actorOf(suite.employee), assignments[1].ID)
	assert.ErrorIs(suite.T(), err, ErrAlreadyConfirmed)
	assert.Equal(suite.T(), before, suite.outboxCount())

	assert.NotEmpty(suite.T(), suite.notificationsFor(suite.itsgManager, NotificationAssignmentConfirmed))

	mine, total, err := suite.svc.Assignments.ListMine(suite.ctx, actorOf(suite.employee), firstPage)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(2), total)
	assert.Len(suite.T(), mine, 2)
}
