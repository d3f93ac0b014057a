package models

import "time"

// Visit is the server-side check-in/check-out session. CheckOutAt is nil
// while the visit is open.
type Visit struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	CompanyID           *string    `json:"companyId"`
	CompanyName         *string    `json:"companyName,omitempty"`
	CheckInAt           time.Time  `json:"checkInAt"`
	CheckInLat          *float64   `json:"checkInLat,omitempty"`
	CheckInLng          *float64   `json:"checkInLng,omitempty"`
	CheckInNoGpsReason  *string    `json:"checkInNoGpsReason,omitempty"`
	CheckOutAt          *time.Time `json:"checkOutAt"`
	CheckOutLat         *float64   `json:"checkOutLat,omitempty"`
	CheckOutLng         *float64   `json:"checkOutLng,omitempty"`
	CheckOutNoGpsReason *string    `json:"checkOutNoGpsReason,omitempty"`
	DurationSeconds     *int64     `json:"durationSeconds"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func (v *Visit) Open() bool {
	return v.CheckOutAt == nil
}

type CheckinRequest struct {
	CompanyID   *string  `json:"companyId,omitempty"`
	CheckInLat  *float64 `json:"checkInLat,omitempty"`
	CheckInLng  *float64 `json:"checkInLng,omitempty"`
	NoGpsReason *string  `json:"noGpsReason,omitempty"`
}

type CheckoutRequest struct {
	CheckOutLat *float64 `json:"checkOutLat,omitempty"`
	CheckOutLng *float64 `json:"checkOutLng,omitempty"`
	NoGpsReason *string  `json:"noGpsReason,omitempty"`
}

type AssociateCompanyRequest struct {
	CompanyID string `json:"companyId"`
}

type CheckinVisit struct {
	ID        string    `json:"id"`
	CheckInAt time.Time `json:"checkInAt"`
	CompanyID *string   `json:"companyId"`
}

type CheckoutVisit struct {
	ID              string    `json:"id"`
	CheckInAt       time.Time `json:"checkInAt"`
	CheckOutAt      time.Time `json:"checkOutAt"`
	DurationSeconds int64     `json:"durationSeconds"`
}

type ActiveVisit struct {
	ID          string    `json:"id"`
	CheckInAt   time.Time `json:"checkInAt"`
	CompanyID   *string   `json:"companyId"`
	CompanyName *string   `json:"companyName"`
}

type CheckinResponse struct {
	Visit CheckinVisit `json:"visit"`
}

type CheckoutResponse struct {
	Visit CheckoutVisit `json:"visit"`
}

// ActiveVisitResponse carries a null visit when the caller has none open.
type ActiveVisitResponse struct {
	Visit *ActiveVisit `json:"visit"`
}
