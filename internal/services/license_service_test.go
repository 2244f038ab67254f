// internal/services/license_service_test.go
package services

import (
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/license-desk/internal/models"
)

func (suite *WorkflowTestSuite) TestCreateLicense() {
	license, err := suite.svc.Licenses.CreateLicense(suite.ctx, actorOf(suite.sreLead), &CreateLicenseRequest{
		Name:       " PagerDuty ",
		TotalSeats: 3,
		Owner:      "SRE",
		Type:       string(models.LicenseTypeKeyBased),
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "PagerDuty", license.Name)
	assert.Equal(suite.T(), models.LicenseStatusAvailable, license.Status)

	_, err = suite.svc.Licenses.CreateLicense(suite.ctx, actorOf(suite.sreLead), &CreateLicenseRequest{
		Name: "Jira", TotalSeats: 3, Owner: "ITSG", Type: string(models.LicenseTypeKeyBased),
	})
	assert.ErrorIs(suite.T(), err, ErrForbidden)

	_, err = suite.svc.Licenses.CreateLicense(suite.ctx, actorOf(suite.itsgLead), &CreateLicenseRequest{
		Name: "Jira", TotalSeats: 3, Owner: "ITSG", Type: "FLOATING",
	})
	assert.ErrorIs(suite.T(), err, ErrValidation)

	licenses, total, err := suite.svc.Licenses.ListLicenses(suite.ctx, LicenseSearchParams{PaginationParams: firstPage, Owner: "SRE"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), total)
	assert.Len(suite.T(), licenses, 1)
}

func (suite *WorkflowTestSuite) TestSetSeatsBelowUsage() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeSeatBased, 5)
	suite.addKeys(license, models.KeyStatusAssigned, 3)

	_, err := suite.svc.Licenses.SetSeats(suite.ctx, actorOf(suite.itsgLead), license.ID, &SetSeatsRequest{TotalSeats: 2})
	suite.Require().ErrorIs(err, ErrSeatsBelowUsage)
	assert.Equal(suite.T(), "Cannot reduce seats below currently used seats (3)", err.Error())

	updated, err := suite.svc.Licenses.SetSeats(suite.ctx, actorOf(suite.itsgLead), license.ID, &SetSeatsRequest{TotalSeats: 3})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 3, updated.TotalSeats)
	assert.Equal(suite.T(), models.LicenseStatusFull, suite.reloadLicense(license.ID).Status)

	_, err = suite.svc.Licenses.SetSeats(suite.ctx, actorOf(suite.employee), license.ID, &SetSeatsRequest{TotalSeats: 10})
	assert.ErrorIs(suite.T(), err, ErrForbidden)
}

func (suite *WorkflowTestSuite) TestSetSeatsKeepsRoomForKeys() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 5)
	suite.addKeys(license, models.KeyStatusActive, 4)

	_, err := suite.svc.Licenses.SetSeats(suite.ctx, actorOf(suite.itsgLead), license.ID, &SetSeatsRequest{TotalSeats: 3})
	assert.ErrorIs(suite.T(), err, ErrKeysExceedSeats)
}

func (suite *WorkflowTestSuite) TestAddKeys() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 2)

	_, err := suite.svc.Licenses.AddKeys(suite.ctx, actorOf(suite.itsgLead), license.ID, &AddKeysRequest{Keys: []string{"A", "B", "C"}})
	assert.ErrorIs(suite.T(), err, ErrKeysExceedSeats)

	keys, err := suite.svc.Licenses.AddKeys(suite.ctx, actorOf(suite.itsgLead), license.ID, &AddKeysRequest{Keys: []string{" A ", "B"}})
	suite.Require().NoError(err)
	suite.Require().Len(keys, 2)
	assert.Equal(suite.T(), "A", *keys[0].Key)
	assert.Equal(suite.T(), models.KeyStatusActive, keys[0].Status)

	seats := suite.createLicense("Figma", "ITSG", models.LicenseTypeSeatBased, 2)
	_, err = suite.svc.Licenses.AddKeys(suite.ctx, actorOf(suite.itsgLead), seats.ID, &AddKeysRequest{Keys: []string{"A"}})
	assert.ErrorIs(suite.T(), err, ErrAssignmentMismatch)
}

func (suite *WorkflowTestSuite) TestNeedsPurchase() {
	license := suite.createLicense("Jira", "ITSG", models.LicenseTypeKeyBased, 3)
	suite.addKeys(license, models.KeyStatusAssigned, 1)
	suite.addKeys(license, models.KeyStatusActive, 1)
	request := suite.submit(suite.employee, licenseItem(license))

	report, err := suite.svc.Licenses.NeedsPurchase(suite.ctx, request.Items[0].ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), report.AssignedSeats)
	assert.Equal(suite.T(), int64(1), report.ActiveKeys)
	assert.Equal(suite.T(), int64(1), report.Available)
	assert.False(suite.T(), report.NeedsPurchase)

	other := suite.submit(suite.employee, SubmitRequestItem{
		Type: models.ItemTypeOther, RequestedLicenseName: "Sketch", Justification: "Design",
	})
	report, err = suite.svc.Licenses.NeedsPurchase(suite.ctx, other.Items[0].ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), report.NeedsPurchase)
}

func (suite *WorkflowTestSuite) TestExpireLicenses() {
	past := testNow.AddDate(0, -1, 0)
	future := testNow.AddDate(1, 0, 0)

	expired := suite.createLicense("Old", "ITSG", models.LicenseTypeSeatBased, 1)
	current := suite.createLicense("Current", "ITSG", models.LicenseTypeSeatBased, 1)
	suite.Require().NoError(suite.db.Model(&models.License{}).Where("id = ?", expired.ID).Update("expiry_date", past).Error)
	suite.Require().NoError(suite.db.Model(&models.License{}).Where("id = ?", current.ID).Update("expiry_date", future).Error)

	changed, err := suite.svc.Licenses.ExpireLicenses(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(1), changed)
	assert.Equal(suite.T(), models.LicenseStatusExpired, suite.reloadLicense(expired.ID).Status)
	assert.Equal(suite.T(), models.LicenseStatusAvailable, suite.reloadLicense(current.ID).Status)

	changed, err = suite.svc.Licenses.ExpireLicenses(suite.ctx)
	suite.Require().NoError(err)
	assert.Zero(suite.T(), changed)
}
