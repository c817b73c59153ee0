package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/fortressi/resourcesaga"
)

var (
	_ resourcesaga.CourseGateway     = (*Client)(nil)
	_ resourcesaga.PurchaseValidator = (*Client)(nil)
)

func (c *Client) CreateCourse(ctx context.Context, req resourcesaga.CourseCreateRequest) (resourcesaga.Course, error) {
	var course resourcesaga.Course
	if err := c.doJSON(ctx, http.MethodPost, endpoint(c.courseURL, "api", "v1", "courses"), req, &course); err != nil {
		return resourcesaga.Course{}, err
	}
	if course.ID == uuid.Nil {
		return resourcesaga.Course{}, fmt.Errorf("course service returned no course id")
	}
	return course, nil
}

func (c *Client) DeleteCourse(ctx context.Context, courseID uuid.UUID) error {
	return c.doJSON(ctx, http.MethodDelete, endpoint(c.courseURL, "api", "v1", "courses", courseID.String()), nil, nil)
}

type purchaseValidation struct {
	CourseID    uuid.UUID `json:"courseId"`
	Purchasable bool      `json:"purchasable"`
	Reason      string    `json:"reason,omitempty"`
}

// ValidatePurchase asks the course service whether courseID can be bought.
// A missing course counts as not purchasable.
func (c *Client) ValidatePurchase(ctx context.Context, userID, courseID uuid.UUID) error {
	target := endpoint(c.courseURL, "api", "v1", "courses", courseID.String(), "purchase-validation")

	var res purchaseValidation
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &res); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return &resourcesaga.CourseNotPurchasableError{CourseID: courseID, Reason: "course not found"}
		}
		return err
	}
	if !res.Purchasable {
		c.logger.Warn().Str("course_id", courseID.String()).Str("user_id", userID.String()).Msg("course is not purchasable")
		return &resourcesaga.CourseNotPurchasableError{CourseID: courseID, Reason: res.Reason}
	}
	return nil
}
